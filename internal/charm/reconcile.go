// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package charm

import (
	"context"
	"fmt"
	"strings"

	"github.com/juju/errors"

	"github.com/canonical/parca-k8s-operator/internal/hooktool"
	"github.com/canonical/parca-k8s-operator/internal/k8s"
	"github.com/canonical/parca-k8s-operator/internal/relation"
	"github.com/canonical/parca-k8s-operator/internal/relation/catalogue"
	"github.com/canonical/parca-k8s-operator/internal/relation/cos"
	"github.com/canonical/parca-k8s-operator/internal/relation/ingress"
	"github.com/canonical/parca-k8s-operator/internal/relation/loki"
	"github.com/canonical/parca-k8s-operator/internal/relation/peers"
	"github.com/canonical/parca-k8s-operator/internal/relation/profiling"
	"github.com/canonical/parca-k8s-operator/internal/relation/s3"
	"github.com/canonical/parca-k8s-operator/internal/relation/store"
	"github.com/canonical/parca-k8s-operator/internal/relation/tlscerts"
	"github.com/canonical/parca-k8s-operator/internal/relation/tracing"
	"github.com/canonical/parca-k8s-operator/internal/workload/nginx"
	"github.com/canonical/parca-k8s-operator/internal/workload/nginxexporter"
	"github.com/canonical/parca-k8s-operator/internal/workload/parca"
)

// charmName is the name the charm is published under; it tags scrape
// metadata and dashboards.
const charmName = "parca-k8s"

// desiredState is everything a reconcile pass computes before touching the
// workloads.
type desiredState struct {
	config   Config
	leader   bool
	topology relation.Topology
	fqdn     string

	tls      *tlscerts.Bundle
	external *ingress.External

	scrapeConfigs []map[string]interface{}
	s3            *s3.ConnectionInfo
	remoteStore   *store.Config
	otlpEndpoint  string
	lokiTargets   []string
}

// reconcile is the holistic pass: gather state, converge the sidecars,
// publish provider data, then report status.
func (c *Charm) reconcile() error {
	c.setStatus(hooktool.StatusMaintenance, "reconciling")

	state, err := c.gatherState()
	if err != nil {
		return errors.Trace(err)
	}
	if err := c.reconcileWorkloads(state); err != nil {
		return errors.Trace(err)
	}
	if err := c.publishRelations(state); err != nil {
		return errors.Trace(err)
	}
	if err := c.openPorts(); err != nil {
		return errors.Trace(err)
	}
	c.patchService()
	c.reportVersion()
	c.reportStatus()
	return nil
}

func (c *Charm) gatherState() (*desiredState, error) {
	rawConfig, err := c.tools.ConfigGet()
	if err != nil {
		return nil, errors.Trace(err)
	}
	config, err := ParseConfig(rawConfig)
	if err != nil {
		return nil, errors.Trace(err)
	}
	leader, err := c.tools.IsLeader()
	if err != nil {
		return nil, errors.Trace(err)
	}
	state := &desiredState{
		config: config,
		leader: leader,
		fqdn:   c.fqdn(),
		topology: relation.Topology{
			Model:       c.info.ModelName,
			ModelUUID:   c.info.ModelUUID,
			Application: c.info.AppName,
			Unit:        c.info.UnitName,
			CharmName:   charmName,
		},
	}

	if err := c.gatherTLS(state); err != nil {
		return nil, errors.Trace(err)
	}
	state.external, err = ingress.ExternalHost(c.tools)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err := c.gatherScrapeConfigs(state); err != nil {
		return nil, errors.Trace(err)
	}
	state.s3, err = s3.Connection(c.tools)
	if err != nil {
		return nil, errors.Trace(err)
	}
	state.remoteStore, err = store.External(c.tools)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err := tracing.RequestReceivers(c.tools, tracing.WorkloadRelation,
		[]string{tracing.OTLPGRPC}, leader); err != nil {
		return nil, errors.Trace(err)
	}
	state.otlpEndpoint, err = tracing.Endpoint(c.tools, tracing.WorkloadRelation, tracing.OTLPGRPC)
	if err != nil {
		return nil, errors.Trace(err)
	}
	// The hook process is too short-lived to flush spans itself, but the
	// receiver request keeps a collector endpoint provisioned for it.
	if err := tracing.RequestReceivers(c.tools, tracing.CharmRelation,
		[]string{tracing.OTLPHTTP}, leader); err != nil {
		return nil, errors.Trace(err)
	}
	state.lokiTargets, err = loki.Endpoints(c.tools)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return state, nil
}

func (c *Charm) gatherTLS(state *desiredState) error {
	ids, err := c.tools.RelationIDs(tlscerts.RelationName)
	if err != nil {
		return errors.Trace(err)
	}
	if len(ids) == 0 {
		return nil
	}
	key, err := tlscerts.EnsurePrivateKey(c.tools, nil)
	if err != nil {
		return errors.Trace(err)
	}
	csr, err := tlscerts.Reconcile(c.tools, c.info.UnitName, key, tlscerts.RequestAttributes{
		CommonName: state.fqdn,
		SANsDNS:    []string{state.fqdn},
	})
	if err != nil {
		return errors.Trace(err)
	}
	state.tls, err = tlscerts.AssignedCertificate(c.tools, csr, key)
	return errors.Trace(err)
}

func (c *Charm) gatherScrapeConfigs(state *desiredState) error {
	jobs, err := profiling.Jobs(c.tools)
	if err != nil {
		return errors.Trace(err)
	}
	caCert := ""
	if state.tls != nil {
		caCert = state.tls.CA
	}
	jobs = append(jobs, profiling.SelfScrapeJob(state.fqdn, nginx.HTTPPort, caCert))
	state.scrapeConfigs = jobs
	return nil
}

func (c *Charm) reconcileWorkloads(state *desiredState) error {
	// nginx first: the TLS material it writes (or removes) decides the
	// scheme everything downstream advertises.
	var tlsMaterial *nginx.TLSMaterial
	if state.tls != nil {
		tlsMaterial = &nginx.TLSMaterial{
			Certificate: state.tls.Certificate,
			Key:         state.tls.Key,
			CACert:      state.tls.CA,
		}
	}
	nginxManager := nginx.New(c.containers[nginx.ContainerName], state.fqdn, state.pathPrefix(), tlsMaterial)
	if c.resolver != "" {
		nginxManager.SetResolver(c.resolver)
	}
	if err := nginxManager.Reconcile(); err != nil {
		return errors.Trace(err)
	}

	parcaManager := parca.New(c.containers[parca.ContainerName], c.clock)
	caCert := ""
	if state.tls != nil {
		caCert = state.tls.CA
	}
	if err := parcaManager.ReconcileCACert(caCert); err != nil {
		return errors.Trace(err)
	}
	if err := parcaManager.Reconcile(c.parcaConfig(state)); err != nil {
		return errors.Trace(err)
	}

	exporter := nginxexporter.New(
		c.containers[nginxexporter.ContainerName], nginx.HTTPPort, nginxManager.CertificatesOnDisk())
	return errors.Trace(exporter.Reconcile())
}

func (c *Charm) parcaConfig(state *desiredState) parca.Config {
	cfg := parca.Config{
		EnablePersistence:     state.config.EnablePersistence,
		MemoryStorageLimitMiB: state.config.MemoryStorageLimitMiB,
		PathPrefix:            state.pathPrefix(),
		ScrapeConfigs:         state.scrapeConfigs,
		OTLPEndpoint:          state.otlpEndpoint,
		TLSReady:              state.tls != nil,
		LogTargets:            loki.LogTargets(state.lokiTargets),
	}
	if state.s3 != nil {
		cfg.S3 = &parca.ObjectStorage{
			Endpoint:  state.s3.Endpoint,
			Bucket:    state.s3.Bucket,
			AccessKey: state.s3.AccessKey,
			SecretKey: state.s3.SecretKey,
			Region:    state.s3.Region,
			CACert:    state.s3.CACert(),
		}
	}
	if state.remoteStore != nil {
		cfg.Store = &parca.RemoteStore{
			Address:     state.remoteStore.Address,
			BearerToken: state.remoteStore.BearerToken,
			Insecure:    state.remoteStore.Insecure,
		}
	}
	return cfg
}

// pathPrefix is the external URL path the workload is served under, when
// the ingress provider routes by path.
func (s *desiredState) pathPrefix() string {
	if s.external == nil {
		return ""
	}
	return s.external.Path
}

func (c *Charm) publishRelations(state *desiredState) error {
	if err := peers.PublishAddress(c.tools, state.fqdn); err != nil {
		return errors.Trace(err)
	}
	if err := s3.RequestBucket(c.tools, "parca", state.leader); err != nil {
		return errors.Trace(err)
	}
	if err := ingress.Submit(c.tools, ingress.Route{
		ModelName: c.info.ModelName,
		AppName:   c.info.AppName,
		Host:      state.fqdn,
		TLS:       state.tls != nil,
		EntryPoints: []ingress.EntryPoint{
			{Name: "parca-http", Protocol: ingress.HTTP, Port: nginx.HTTPPort},
			{Name: "parca-grpc", Protocol: ingress.GRPC, Port: nginx.GRPCPort},
		},
	}, state.leader); err != nil {
		return errors.Trace(err)
	}
	if err := store.Publish(c.tools, store.Config{
		Address:  state.storeAddress(),
		Insecure: state.tls == nil,
	}, state.leader); err != nil {
		return errors.Trace(err)
	}
	if err := profiling.PublishSelfEndpoint(
		c.tools, appTopology(state.topology), c.info.UnitName, state.fqdn, nginx.HTTPPort, state.leader); err != nil {
		return errors.Trace(err)
	}
	if err := cos.PublishMetricsEndpoints(c.tools, cos.MetricsEndpoint{
		Topology: appTopology(state.topology),
		UnitName: c.info.UnitName,
		Address:  state.fqdn,
		Ports:    []int{nginx.HTTPPort, nginxexporter.Port},
	}, state.leader); err != nil {
		return errors.Trace(err)
	}
	if err := cos.PublishGrafanaSource(
		c.tools, appTopology(state.topology), state.fqdn, nginx.HTTPPort, state.leader); err != nil {
		return errors.Trace(err)
	}
	if err := cos.PublishDashboards(c.tools, charmName, state.leader); err != nil {
		return errors.Trace(err)
	}
	if err := catalogue.Publish(c.tools, catalogue.Item{
		Name:        "Parca",
		URL:         state.httpURL(),
		Icon:        "chart-areaspline",
		Description: "Continuous profiling backend. Allows you to collect, store, query and visualize profiles from your distributed deployment.",
	}, state.leader); err != nil {
		return errors.Trace(err)
	}
	return nil
}

// appTopology strips the unit from a topology, for application-scoped
// metadata.
func appTopology(t relation.Topology) relation.Topology {
	t.Unit = ""
	return t
}

// storeAddress is the gRPC endpoint other charms push profiles to:
// ingressed when available, the in-cluster FQDN otherwise.
func (s *desiredState) storeAddress() string {
	if s.external != nil && s.external.Path == "" {
		return fmt.Sprintf("%s:%d", s.external.Host, nginx.GRPCPort)
	}
	return fmt.Sprintf("%s:%d", s.fqdn, nginx.GRPCPort)
}

// httpURL is the browser-facing URL: ingressed when available.
func (s *desiredState) httpURL() string {
	scheme := "http"
	if s.tls != nil {
		scheme = "https"
	}
	if s.external != nil {
		return fmt.Sprintf("%s://%s%s", s.external.Scheme, s.external.Host, s.external.Path)
	}
	return fmt.Sprintf("%s://%s:%d", scheme, s.fqdn, nginx.HTTPPort)
}

func (c *Charm) openPorts() error {
	for _, port := range []int{nginx.HTTPPort, nginx.GRPCPort, nginxexporter.Port} {
		if err := c.tools.OpenPort("tcp", port); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// patchService converges the Kubernetes Service ports. Best effort: a
// missing cluster credential must not fail the hook.
func (c *Charm) patchService() {
	if c.patcher == nil {
		return
	}
	err := c.patcher.EnsurePorts(context.Background(), []k8s.ServicePort{
		{Name: fmt.Sprintf("%s-http", c.info.AppName), Port: nginx.HTTPPort},
		{Name: fmt.Sprintf("%s-grpc", c.info.AppName), Port: nginx.GRPCPort},
		{Name: fmt.Sprintf("%s-metrics", c.info.AppName), Port: nginxexporter.Port},
	})
	if err != nil {
		logger.Warningf("cannot patch kubernetes service: %v", err)
	}
}

// reportVersion records the running Parca version, when it answers.
func (c *Charm) reportVersion() {
	if !c.containers[parca.ContainerName].CanConnect() {
		return
	}
	version := c.versionProbe()
	if version == "" {
		return
	}
	if err := c.tools.ApplicationVersionSet(version); err != nil {
		logger.Warningf("cannot set workload version: %v", err)
	}
}

func (c *Charm) reportStatus() {
	if down := c.unreachableContainers(); len(down) > 0 {
		c.setStatus(hooktool.StatusWaiting,
			fmt.Sprintf("Waiting for containers: %s", strings.Join(down, ", ")))
		return
	}
	c.setStatus(hooktool.StatusActive, "")
}
