// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package parca drives the Parca server running in its sidecar container:
// command line construction, server configuration file, Pebble layer and
// version probing. Parca itself is an opaque upstream binary; everything
// here is configuration hand-off.
package parca

import (
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/retry"
	"gopkg.in/yaml.v3"

	"github.com/canonical/parca-k8s-operator/internal/workload"
)

var logger = loggo.GetLogger("parca.workload.parca")

const (
	// ContainerName is the sidecar container running Parca.
	ContainerName = "parca"

	// ServiceName is the Pebble service name.
	ServiceName = "parca"

	// Port is the address Parca multiplexes HTTP and gRPC on. Only nginx
	// talks to it directly.
	Port = 7070

	// ConfigPath is where the server configuration is pushed.
	ConfigPath = "/etc/parca/parca.yaml"

	// StoragePath holds profile data when persistence is enabled.
	StoragePath = "/var/lib/parca"

	// CACertPath is where the operator places the CA certificate so that
	// Parca can scrape TLS profiling endpoints signed by it.
	CACertPath = "/usr/local/share/ca-certificates/ca.cert"
)

// versionPattern extracts the version from the web UI markup. The gRPC API
// would be the principled source but the UI constant tracks releases
// reliably, commit suffix included.
var versionPattern = regexp.MustCompile(`APP_VERSION="v?([0-9]+\.[0-9]+\.[0-9]+[0-9a-zA-Z-]*)"`)

// RemoteStore carries the flags of an external parca-store endpoint, e.g.
// Polar Signals Cloud. When set, the local server runs in scraper-only mode
// and forwards all profiles there.
type RemoteStore struct {
	Address     string
	BearerToken string
	Insecure    bool
}

// ObjectStorage configures the profile bucket. Zero value means local
// filesystem storage.
type ObjectStorage struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	// CACert, when set, is written next to the system CA bundle; when
	// empty the endpoint is accessed insecurely.
	CACert string
}

// Config is the desired state of the Parca workload.
type Config struct {
	// EnablePersistence switches from in-memory to on-disk storage.
	EnablePersistence bool

	// MemoryStorageLimitMiB bounds in-memory storage. Ignored when
	// persistence is enabled.
	MemoryStorageLimitMiB int

	// PathPrefix is the external URL path Parca is served under, when
	// ingressed with a path route. Includes the leading slash.
	PathPrefix string

	// ScrapeConfigs are the Prometheus-style profiling scrape jobs.
	ScrapeConfigs []map[string]interface{}

	// Store, when non-nil, puts the server in scraper-only mode.
	Store *RemoteStore

	// S3, when non-nil, stores profiles in an S3 bucket instead of the
	// local filesystem.
	S3 *ObjectStorage

	// OTLPEndpoint enables workload tracing export when non-empty.
	OTLPEndpoint string

	// TLSReady reports whether the pod serves TLS; it gates the OTLP
	// insecure flag.
	TLSReady bool

	// LogTargets forwards workload logs, keyed by target name.
	LogTargets map[string]workload.LogTarget
}

// CommandLine renders the parca invocation for the given config. Flag order
// is fixed: tests and the has-the-plan-changed comparison depend on it.
func CommandLine(cfg Config) string {
	cmd := fmt.Sprintf("/parca --config-path=%s --http-address=localhost:%d", ConfigPath, Port)
	if cfg.PathPrefix != "" {
		cmd += fmt.Sprintf(" --path-prefix='%s'", cfg.PathPrefix)
	}
	if cfg.EnablePersistence {
		cmd += " --enable-persistence --storage-path=" + StoragePath
	} else {
		limit := cfg.MemoryStorageLimitMiB
		if limit <= 0 {
			limit = DefaultMemoryStorageLimitMiB
		}
		cmd += fmt.Sprintf(" --storage-enable-wal --storage-active-memory=%d", int64(limit)*1024*1024)
	}
	if cfg.Store != nil {
		cmd += fmt.Sprintf(" --store-address=%s", cfg.Store.Address)
		if cfg.Store.BearerToken != "" {
			cmd += fmt.Sprintf(" --bearer-token=%s", cfg.Store.BearerToken)
		}
		cmd += fmt.Sprintf(" --insecure=%t --mode=scraper-only", cfg.Store.Insecure)
	}
	if cfg.OTLPEndpoint != "" {
		cmd += fmt.Sprintf(" --otlp-address=%s", cfg.OTLPEndpoint)
		if cfg.TLSReady {
			cmd += " --otlp-insecure=false"
		}
	}
	return cmd
}

// DefaultMemoryStorageLimitMiB matches the charm config default.
const DefaultMemoryStorageLimitMiB = 4096

// ConfigFile renders parca.yaml: the object storage bucket and the scrape
// configs.
func ConfigFile(cfg Config) ([]byte, error) {
	bucket := map[string]interface{}{
		"type": "FILESYSTEM",
		"config": map[string]interface{}{
			"directory": StoragePath,
		},
	}
	if cfg.S3 != nil {
		s3cfg := map[string]interface{}{
			"bucket":     cfg.S3.Bucket,
			"endpoint":   cfg.S3.Endpoint,
			"access_key": cfg.S3.AccessKey,
			"secret_key": cfg.S3.SecretKey,
			"insecure":   cfg.S3.CACert == "",
		}
		if cfg.S3.Region != "" {
			s3cfg["region"] = cfg.S3.Region
		}
		bucket = map[string]interface{}{
			"type":   "S3",
			"config": s3cfg,
		}
	}
	doc := map[string]interface{}{
		"object_storage": map[string]interface{}{
			"bucket": bucket,
		},
	}
	scrapeConfigs := cfg.ScrapeConfigs
	if scrapeConfigs == nil {
		scrapeConfigs = []map[string]interface{}{}
	}
	doc["scrape_configs"] = scrapeConfigs

	data, err := yaml.Marshal(doc)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return data, nil
}

// Layer returns the Pebble layer for the config.
func Layer(cfg Config) workload.Layer {
	return workload.Layer{
		Summary:     "parca layer",
		Description: "pebble config layer for parca",
		Services: map[string]workload.Service{
			ServiceName: {
				Override: "replace",
				Summary:  "parca",
				Command:  CommandLine(cfg),
				Startup:  "enabled",
			},
		},
		LogTargets: cfg.LogTargets,
	}
}

// Parca manages the workload in its container.
type Parca struct {
	container workload.Container
	clock     clock.Clock
}

// New returns a Parca manager for the given container.
func New(container workload.Container, clk clock.Clock) *Parca {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Parca{container: container, clock: clk}
}

// Reconcile pushes the config file and layer, then replans so that a
// changed command line restarts the service. The config file is read at
// startup only, so a config-only change needs an explicit restart on top.
// Unchanged state is a no-op.
func (p *Parca) Reconcile(cfg Config) error {
	if !p.container.CanConnect() {
		logger.Debugf("parca container not yet reachable, skipping")
		return nil
	}

	configFile, err := ConfigFile(cfg)
	if err != nil {
		return errors.Trace(err)
	}
	configChanged, err := workload.EnsureFile(p.container, ConfigPath, configFile, 0o644)
	if err != nil {
		return errors.Trace(err)
	}
	running, err := p.container.ServiceRunning(ServiceName)
	if err != nil {
		return errors.Trace(err)
	}

	layerYAML, err := Layer(cfg).Render()
	if err != nil {
		return errors.Trace(err)
	}
	if err := p.container.AddLayer(ServiceName, layerYAML); err != nil {
		return errors.Trace(err)
	}
	if err := p.container.Replan(); err != nil {
		return errors.Trace(err)
	}

	if configChanged && running {
		logger.Infof("parca configuration changed, restarting")
		if err := p.container.Restart(ServiceName); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// ReconcileCACert places (or removes) the CA certificate Parca uses to
// scrape TLS profiling endpoints.
func (p *Parca) ReconcileCACert(caCert string) error {
	if !p.container.CanConnect() {
		return nil
	}
	if caCert == "" {
		if p.container.Exists(CACertPath) {
			return errors.Trace(p.container.RemovePath(CACertPath))
		}
		return nil
	}
	_, err := workload.EnsureFile(p.container, CACertPath, []byte(caCert), 0o644)
	return errors.Trace(err)
}

// Version scrapes the running server's version from its web UI, retrying
// while the server warms up. Returns "" when the server never answers; the
// version is cosmetic and must not fail a hook.
func (p *Parca) Version() string {
	version, err := p.fetchVersion()
	if err != nil {
		logger.Debugf("cannot determine parca version: %v", err)
		return ""
	}
	return version
}

func (p *Parca) fetchVersion() (string, error) {
	var version string
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			resp, err := http.Get(fmt.Sprintf("http://localhost:%d", Port))
			if err != nil {
				return errors.Trace(err)
			}
			defer func() { _ = resp.Body.Close() }()
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return errors.Trace(err)
			}
			m := versionPattern.FindSubmatch(body)
			if m == nil {
				return errors.NotFoundf("version marker in response")
			}
			version = string(m[1])
			return nil
		},
		Attempts: 3,
		Delay:    3 * time.Second,
		Clock:    p.clock,
	})
	return version, errors.Trace(err)
}
