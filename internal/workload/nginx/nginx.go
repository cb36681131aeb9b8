// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package nginx manages the nginx sidecar that fronts Parca: it terminates
// TLS, splits HTTP from gRPC and proxies both to the workload.
package nginx

import (
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/canonical/parca-k8s-operator/internal/workload"
)

var logger = loggo.GetLogger("parca.workload.nginx")

const (
	// ContainerName is the nginx sidecar container.
	ContainerName = "nginx"

	// ServiceName is the Pebble service name.
	ServiceName = "nginx"

	// HTTPPort fronts the Parca web UI and HTTP API.
	HTTPPort = 8080

	// GRPCPort fronts the Parca store gRPC API.
	GRPCPort = 8081

	// ConfigPath is the rendered configuration location.
	ConfigPath = "/etc/nginx/nginx.conf"

	// CertPath, KeyPath and CACertPath hold the TLS material.
	CertPath   = "/etc/nginx/certs/server.cert"
	KeyPath    = "/etc/nginx/certs/server.key"
	CACertPath = "/usr/local/share/ca-certificates/ca.cert"
)

// TLSMaterial is the certificate bundle nginx serves with.
type TLSMaterial struct {
	Certificate string
	Key         string
	CACert      string
}

// Nginx manages the sidecar.
type Nginx struct {
	container workload.Container

	serverName string
	pathPrefix string
	tls        *TLSMaterial
	resolver   string
}

// New returns an Nginx manager. serverName is the TLS server name (the
// unit FQDN), pathPrefix the external ingress path ("" when not path
// routed) and tls the certificate bundle (nil disables TLS).
func New(container workload.Container, serverName, pathPrefix string, tls *TLSMaterial) *Nginx {
	return &Nginx{
		container:  container,
		serverName: serverName,
		pathPrefix: pathPrefix,
		tls:        tls,
	}
}

// SetResolver overrides the DNS resolver address used in the rendered
// config. By default it is read from /etc/resolv.conf.
func (n *Nginx) SetResolver(addr string) {
	n.resolver = addr
}

// CertificatesOnDisk reports whether a full TLS bundle is present in the
// container.
func (n *Nginx) CertificatesOnDisk() bool {
	return n.container.CanConnect() &&
		n.container.Exists(CertPath) &&
		n.container.Exists(KeyPath) &&
		n.container.Exists(CACertPath)
}

// Reconcile converges certificates, configuration and the Pebble service.
// Certificates go first: the TLS flag in the rendered config is derived
// from what is actually on disk, so writing (or deleting) the certs must
// precede the config build.
func (n *Nginx) Reconcile() error {
	if !n.container.CanConnect() {
		logger.Debugf("nginx container not yet reachable, skipping")
		return nil
	}
	if err := n.reconcileCertificates(); err != nil {
		return errors.Trace(err)
	}
	if err := n.reconcileConfig(); err != nil {
		return errors.Trace(err)
	}
	return nil
}

func (n *Nginx) reconcileCertificates() error {
	if n.tls == nil {
		return errors.Trace(n.deleteCertificates())
	}
	changedCert, err := workload.EnsureFile(n.container, CertPath, []byte(n.tls.Certificate), 0o644)
	if err != nil {
		return errors.Trace(err)
	}
	changedKey, err := workload.EnsureFile(n.container, KeyPath, []byte(n.tls.Key), 0o600)
	if err != nil {
		return errors.Trace(err)
	}
	changedCA, err := workload.EnsureFile(n.container, CACertPath, []byte(n.tls.CACert), 0o644)
	if err != nil {
		return errors.Trace(err)
	}
	if changedCert || changedKey || changedCA {
		logger.Infof("nginx TLS material updated")
	}
	return nil
}

func (n *Nginx) deleteCertificates() error {
	for _, path := range []string{CertPath, KeyPath, CACertPath} {
		if !n.container.Exists(path) {
			continue
		}
		if err := n.container.RemovePath(path); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (n *Nginx) reconcileConfig() error {
	config, err := BuildConfig(ConfigParams{
		ServerName: n.serverName,
		Upstream:   Upstream{Name: "parca", Port: upstreamPort},
		HTTPPort:   HTTPPort,
		GRPCPort:   GRPCPort,
		TLS:        n.CertificatesOnDisk(),
		PathPrefix: n.pathPrefix,
		Resolver:   n.resolver,
	})
	if err != nil {
		return errors.Trace(err)
	}
	changed, err := workload.EnsureFile(n.container, ConfigPath, []byte(config), 0o644)
	if err != nil {
		return errors.Trace(err)
	}

	layerYAML, err := Layer().Render()
	if err != nil {
		return errors.Trace(err)
	}
	if err := n.container.AddLayer(ServiceName, layerYAML); err != nil {
		return errors.Trace(err)
	}
	if err := n.container.Replan(); err != nil {
		return errors.Trace(err)
	}

	if changed {
		logger.Infof("new nginx config: reloading")
		if err := n.Reload(); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// upstreamPort is the parca multiplexed port. Duplicated here rather than
// imported to keep the workload packages independent of each other.
const upstreamPort = 7070

// Reload reloads the nginx configuration without restarting the service.
func (n *Nginx) Reload() error {
	return errors.Trace(n.container.Exec("nginx", "-s", "reload"))
}

// Layer returns the Pebble layer for nginx.
func Layer() workload.Layer {
	return workload.Layer{
		Summary:     "nginx layer",
		Description: "pebble config layer for nginx",
		Services: map[string]workload.Service{
			ServiceName: {
				Override: "replace",
				Summary:  "nginx",
				Command:  "nginx -g 'daemon off;'",
				Startup:  "enabled",
			},
		},
	}
}
