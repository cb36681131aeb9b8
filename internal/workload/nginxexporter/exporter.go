// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package nginxexporter manages the nginx-prometheus-exporter sidecar.
package nginxexporter

import (
	"fmt"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/canonical/parca-k8s-operator/internal/workload"
)

var logger = loggo.GetLogger("parca.workload.nginxexporter")

const (
	// ContainerName is the exporter sidecar container.
	ContainerName = "nginx-prometheus-exporter"

	// ServiceName is the Pebble service name.
	ServiceName = "nginx-prometheus-exporter"

	// Port serves the Prometheus metrics endpoint.
	Port = 9113
)

// Exporter manages the sidecar.
type Exporter struct {
	container workload.Container
	nginxPort int
	tls       bool
}

// New returns an Exporter manager. nginxPort is the scraped nginx status
// port; tls selects the scrape scheme.
func New(container workload.Container, nginxPort int, tls bool) *Exporter {
	return &Exporter{container: container, nginxPort: nginxPort, tls: tls}
}

// Layer returns the Pebble layer for the exporter.
func (e *Exporter) Layer() workload.Layer {
	scheme := "http"
	if e.tls {
		scheme = "https"
	}
	command := fmt.Sprintf(
		"nginx-prometheus-exporter --no-nginx.ssl-verify --web.listen-address=:%d --nginx.scrape-uri=%s://127.0.0.1:%d/status",
		Port, scheme, e.nginxPort)
	return workload.Layer{
		Summary:     "nginx prometheus exporter layer",
		Description: "pebble config layer for nginx prometheus exporter",
		Services: map[string]workload.Service{
			ServiceName: {
				Override: "replace",
				Summary:  "nginx prometheus exporter",
				Command:  command,
				Startup:  "enabled",
			},
		},
	}
}

// Reconcile pushes the layer and replans. The scrape scheme lives on the
// command line, so replan restarts the exporter when nginx gains or loses
// TLS.
func (e *Exporter) Reconcile() error {
	if !e.container.CanConnect() {
		logger.Debugf("exporter container not yet reachable, skipping")
		return nil
	}
	layerYAML, err := e.Layer().Render()
	if err != nil {
		return errors.Trace(err)
	}
	if err := e.container.AddLayer(ServiceName, layerYAML); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(e.container.Replan())
}
