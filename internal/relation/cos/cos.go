// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package cos implements the provider sides of the COS-lite integration
// interfaces: prometheus_scrape (metrics endpoints for nginx and the
// exporter), grafana_datasource and grafana_dashboard.
package cos

import (
	"bytes"
	"compress/gzip"
	_ "embed"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/juju/errors"

	"github.com/canonical/parca-k8s-operator/internal/hooktool"
	"github.com/canonical/parca-k8s-operator/internal/relation"
)

const (
	// MetricsRelation is the prometheus_scrape endpoint.
	MetricsRelation = "metrics-endpoint"

	// DashboardRelation is the grafana_dashboard endpoint.
	DashboardRelation = "grafana-dashboard"

	// SourceRelation is the grafana_datasource endpoint.
	SourceRelation = "grafana-source"
)

//go:embed dashboards/parca.json
var dashboardJSON []byte

// MetricsEndpoint describes this unit as a Prometheus scrape target.
type MetricsEndpoint struct {
	Topology relation.Topology
	UnitName string
	Address  string

	// Ports are the wildcard-target ports to scrape (nginx, exporter).
	Ports []int
}

// PublishMetricsEndpoints writes the scrape jobs and metadata to every
// metrics-endpoint relation. Unit address data is always written; app data
// is leader-gated.
func PublishMetricsEndpoints(ctx hooktool.Context, ep MetricsEndpoint, leader bool) error {
	ids, err := ctx.RelationIDs(MetricsRelation)
	if err != nil {
		return errors.Trace(err)
	}
	if len(ids) == 0 {
		return nil
	}
	var jobs []map[string]interface{}
	for _, port := range ep.Ports {
		jobs = append(jobs, map[string]interface{}{
			"metrics_path": "/metrics",
			"static_configs": []map[string]interface{}{{
				"targets": []string{fmt.Sprintf("*:%d", port)},
			}},
		})
	}
	jobsPayload, err := json.Marshal(jobs)
	if err != nil {
		return errors.Trace(err)
	}
	metadata, err := ep.Topology.MarshalMetadata()
	if err != nil {
		return errors.Trace(err)
	}
	for _, id := range ids {
		if leader {
			err := ctx.RelationSetApp(id, hooktool.Settings{
				"scrape_jobs":     string(jobsPayload),
				"scrape_metadata": metadata,
			})
			if err != nil {
				return errors.Trace(err)
			}
		}
		err := ctx.RelationSetUnit(id, hooktool.Settings{
			"prometheus_scrape_unit_address": ep.Address,
			"prometheus_scrape_unit_name":    ep.UnitName,
		})
		if err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// PublishGrafanaSource advertises Parca as a Grafana datasource: type and
// topology in app data, the per-unit host in unit data.
func PublishGrafanaSource(ctx hooktool.Context, topology relation.Topology, host string, port int, leader bool) error {
	ids, err := ctx.RelationIDs(SourceRelation)
	if err != nil {
		return errors.Trace(err)
	}
	if len(ids) == 0 {
		return nil
	}
	sourceData, err := json.Marshal(map[string]string{
		"model":       topology.Model,
		"model_uuid":  topology.ModelUUID,
		"application": topology.Application,
		"type":        "parca",
	})
	if err != nil {
		return errors.Trace(err)
	}
	for _, id := range ids {
		if leader {
			err := ctx.RelationSetApp(id, hooktool.Settings{
				"grafana_source_data": string(sourceData),
			})
			if err != nil {
				return errors.Trace(err)
			}
		}
		err := ctx.RelationSetUnit(id, hooktool.Settings{
			"grafana_source_host": fmt.Sprintf("%s:%d", host, port),
		})
		if err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// PublishDashboards ships the bundled dashboard to every grafana-dashboard
// relation. Leader only; no-op otherwise.
func PublishDashboards(ctx hooktool.Context, charmName string, leader bool) error {
	if !leader {
		return nil
	}
	ids, err := ctx.RelationIDs(DashboardRelation)
	if err != nil {
		return errors.Trace(err)
	}
	if len(ids) == 0 {
		return nil
	}
	content, err := encodeDashboard(dashboardJSON)
	if err != nil {
		return errors.Trace(err)
	}
	payload, err := json.Marshal(map[string]interface{}{
		"templates": map[string]interface{}{
			"file:parca.json": map[string]interface{}{
				"charm":   charmName,
				"content": content,
			},
		},
	})
	if err != nil {
		return errors.Trace(err)
	}
	for _, id := range ids {
		err := ctx.RelationSetApp(id, hooktool.Settings{"dashboards": string(payload)})
		if err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// encodeDashboard compresses and base64-encodes dashboard content for the
// databag.
func encodeDashboard(raw []byte) (string, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return "", errors.Trace(err)
	}
	if err := zw.Close(); err != nil {
		return "", errors.Trace(err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
