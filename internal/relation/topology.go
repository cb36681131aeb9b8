// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package relation holds the types shared by the per-interface relation
// packages: the Juju topology identifying this deployment in scrape
// metadata and labels.
package relation

import (
	"encoding/json"
	"strings"

	"github.com/juju/errors"
)

// Topology identifies a charm deployment within a Juju controller. It is
// exchanged as scrape metadata and stamped onto scrape job labels so that
// series from different deployments never collide.
type Topology struct {
	Model       string `json:"model"`
	ModelUUID   string `json:"model_uuid"`
	Application string `json:"application"`
	Unit        string `json:"unit,omitempty"`
	CharmName   string `json:"charm_name"`
}

// Labels returns the juju_* label set for the topology. The unit label is
// only present when the topology names a unit.
func (t Topology) Labels() map[string]string {
	labels := map[string]string{
		"juju_model":       t.Model,
		"juju_model_uuid":  t.ModelUUID,
		"juju_application": t.Application,
		"juju_charm":       t.CharmName,
	}
	if t.Unit != "" {
		labels["juju_unit"] = t.Unit
	}
	return labels
}

// Identifier returns the "<model>_<uuid-prefix>_<application>" string used
// to namespace scrape job names.
func (t Topology) Identifier() string {
	uuidPrefix := t.ModelUUID
	if i := strings.IndexByte(uuidPrefix, '-'); i > 0 {
		uuidPrefix = uuidPrefix[:i]
	}
	return t.Model + "_" + uuidPrefix + "_" + t.Application
}

// MarshalMetadata renders the topology as the scrape_metadata JSON payload.
func (t Topology) MarshalMetadata() (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", errors.Trace(err)
	}
	return string(data), nil
}

// ParseMetadata parses a scrape_metadata payload.
func ParseMetadata(raw string) (Topology, error) {
	var t Topology
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return Topology{}, errors.Annotate(err, "parsing scrape metadata")
	}
	return t, nil
}
