// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package tracing implements the requirer side of the tracing interface:
// request OTLP receivers from a tracing backend and read back the endpoint
// URLs. The workload-tracing endpoint feeds Parca's OTLP flags; the
// charm-tracing endpoint is recorded for completeness but the short-lived
// hook process does not emit spans.
package tracing

import (
	"encoding/json"
	"strings"

	"github.com/juju/errors"

	"github.com/canonical/parca-k8s-operator/internal/hooktool"
)

const (
	// WorkloadRelation carries Parca's own trace export.
	WorkloadRelation = "workload-tracing"

	// CharmRelation provisions a collector for operator traces.
	CharmRelation = "charm-tracing"
)

// Protocol names understood by the tracing providers.
const (
	OTLPGRPC = "otlp_grpc"
	OTLPHTTP = "otlp_http"
)

// RequestReceivers publishes the receiver protocols this charm wants on
// every relation with the endpoint. Leader only; no-op otherwise.
func RequestReceivers(ctx hooktool.Context, endpoint string, protocols []string, leader bool) error {
	if !leader {
		return nil
	}
	ids, err := ctx.RelationIDs(endpoint)
	if err != nil {
		return errors.Trace(err)
	}
	if len(ids) == 0 {
		return nil
	}
	payload, err := json.Marshal(protocols)
	if err != nil {
		return errors.Trace(err)
	}
	for _, id := range ids {
		err := ctx.RelationSetApp(id, hooktool.Settings{"receivers": string(payload)})
		if err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// receiver is one provider-side receivers entry.
type receiver struct {
	Protocol struct {
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"protocol"`
	URL string `json:"url"`
}

// Endpoint returns the URL of the receiver with the given protocol, or ""
// while the provider has not published one.
func Endpoint(ctx hooktool.Context, endpoint, protocol string) (string, error) {
	ids, err := ctx.RelationIDs(endpoint)
	if err != nil {
		return "", errors.Trace(err)
	}
	for _, id := range ids {
		units, err := ctx.RelationListUnits(id)
		if err != nil {
			return "", errors.Trace(err)
		}
		if len(units) == 0 {
			continue
		}
		remoteApp := strings.SplitN(units[0], "/", 2)[0]
		data, err := ctx.RelationGetApp(id, remoteApp)
		if err != nil {
			return "", errors.Trace(err)
		}
		raw, ok := data.Get("receivers")
		if !ok {
			continue
		}
		var receivers []receiver
		if err := json.Unmarshal([]byte(raw), &receivers); err != nil {
			return "", errors.Annotate(err, "parsing receivers")
		}
		for _, r := range receivers {
			if r.Protocol.Name == protocol && r.URL != "" {
				return r.URL, nil
			}
		}
	}
	return "", nil
}
