// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package workload

import (
	"github.com/juju/errors"
	"gopkg.in/yaml.v3"
)

// Layer is a Pebble configuration layer. Only the fields the operator
// renders are modelled; the Pebble daemon owns the full schema.
type Layer struct {
	Summary     string               `yaml:"summary,omitempty"`
	Description string               `yaml:"description,omitempty"`
	Services    map[string]Service   `yaml:"services"`
	LogTargets  map[string]LogTarget `yaml:"log-targets,omitempty"`
}

// Service is a Pebble service definition.
type Service struct {
	Override    string            `yaml:"override"`
	Summary     string            `yaml:"summary,omitempty"`
	Command     string            `yaml:"command"`
	Startup     string            `yaml:"startup,omitempty"`
	Environment map[string]string `yaml:"environment,omitempty"`
}

// LogTarget forwards service logs to an external sink, e.g. a Loki push
// endpoint.
type LogTarget struct {
	Override string   `yaml:"override"`
	Type     string   `yaml:"type"`
	Location string   `yaml:"location"`
	Services []string `yaml:"services"`
}

// Render serializes the layer for Pebble.
func (l Layer) Render() ([]byte, error) {
	data, err := yaml.Marshal(l)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return data, nil
}
