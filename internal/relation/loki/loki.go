// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package loki consumes the loki_push_api interface: the push endpoint
// URLs published by Loki units become Pebble log targets on the workload
// layers, so the Pebble daemons forward container logs directly.
package loki

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/juju/errors"

	"github.com/canonical/parca-k8s-operator/internal/hooktool"
	"github.com/canonical/parca-k8s-operator/internal/workload"
)

// RelationName is the loki_push_api endpoint.
const RelationName = "logging"

// endpoint is the per-unit databag payload.
type endpoint struct {
	URL string `json:"url"`
}

// Endpoints returns the push API URLs of all related Loki units, sorted.
func Endpoints(ctx hooktool.Context) ([]string, error) {
	ids, err := ctx.RelationIDs(RelationName)
	if err != nil {
		return nil, errors.Trace(err)
	}
	var urls []string
	for _, id := range ids {
		units, err := ctx.RelationListUnits(id)
		if err != nil {
			return nil, errors.Trace(err)
		}
		for _, unit := range units {
			data, err := ctx.RelationGetUnit(id, unit)
			if err != nil {
				return nil, errors.Trace(err)
			}
			raw, ok := data.Get("endpoint")
			if !ok {
				continue
			}
			var ep endpoint
			if err := json.Unmarshal([]byte(raw), &ep); err != nil {
				return nil, errors.Annotatef(err, "parsing loki endpoint from %q", unit)
			}
			if ep.URL != "" {
				urls = append(urls, ep.URL)
			}
		}
	}
	sort.Strings(urls)
	return urls, nil
}

// LogTargets renders the push URLs as Pebble log targets forwarding all
// services.
func LogTargets(urls []string) map[string]workload.LogTarget {
	if len(urls) == 0 {
		return nil
	}
	targets := make(map[string]workload.LogTarget, len(urls))
	for i, url := range urls {
		targets[fmt.Sprintf("loki-%d", i)] = workload.LogTarget{
			Override: "replace",
			Type:     "loki",
			Location: url,
			Services: []string{"all"},
		}
	}
	return targets
}
