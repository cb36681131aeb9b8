// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package charm is the reconciler at the heart of the operator: it maps
// every Juju lifecycle event onto one holistic pass that recomputes the
// desired workload state from config and relation data and re-applies it
// idempotently.
package charm

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/juju/clock"
	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/canonical/parca-k8s-operator/internal/hook"
	"github.com/canonical/parca-k8s-operator/internal/hooktool"
	"github.com/canonical/parca-k8s-operator/internal/k8s"
	"github.com/canonical/parca-k8s-operator/internal/workload"
	"github.com/canonical/parca-k8s-operator/internal/workload/nginx"
	"github.com/canonical/parca-k8s-operator/internal/workload/nginxexporter"
	"github.com/canonical/parca-k8s-operator/internal/workload/parca"
)

var logger = loggo.GetLogger("parca.charm")

// ContainerNames lists the sidecars of the pod.
var ContainerNames = []string{
	parca.ContainerName,
	nginx.ContainerName,
	nginxexporter.ContainerName,
}

// ServicePortPatcher is the slice of internal/k8s the charm needs.
type ServicePortPatcher interface {
	EnsurePorts(ctx context.Context, ports []k8s.ServicePort) error
}

// Charm wires a hook invocation to the reconciler.
type Charm struct {
	info       hook.Info
	tools      hooktool.Context
	containers map[string]workload.Container
	patcher    ServicePortPatcher
	clock      clock.Clock

	// resolver overrides nginx's DNS resolver in tests.
	resolver string

	// versionProbe returns the running workload version, "" when unknown.
	versionProbe func() string
}

// Params are the Charm dependencies.
type Params struct {
	Info       hook.Info
	Tools      hooktool.Context
	Containers map[string]workload.Container

	// Patcher is optional; nil skips Kubernetes Service patching.
	Patcher ServicePortPatcher

	Clock clock.Clock

	// Resolver overrides the DNS resolver in rendered nginx config;
	// empty reads /etc/resolv.conf.
	Resolver string

	// VersionProbe overrides how the workload version is determined;
	// nil queries the running Parca server.
	VersionProbe func() string
}

// New validates params and returns a Charm.
func New(params Params) (*Charm, error) {
	if params.Tools == nil {
		return nil, errors.NotValidf("nil hook tool context")
	}
	if err := params.Info.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	for _, name := range ContainerNames {
		if params.Containers[name] == nil {
			return nil, errors.NotValidf("missing container %q", name)
		}
	}
	clk := params.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	probe := params.VersionProbe
	if probe == nil {
		container := params.Containers[parca.ContainerName]
		probe = func() string {
			return parca.New(container, clk).Version()
		}
	}
	return &Charm{
		info:         params.Info,
		tools:        params.Tools,
		containers:   params.Containers,
		patcher:      params.Patcher,
		clock:        clk,
		resolver:     params.Resolver,
		versionProbe: probe,
	}, nil
}

// Run services the hook or action this process was dispatched for.
func (c *Charm) Run() error {
	switch c.info.Kind {
	case hook.Action:
		return errors.Trace(c.runAction())
	case hook.Stop, hook.Remove:
		// Workload teardown is the pod's business; nothing to unwind.
		logger.Debugf("nothing to do for %q", c.info.Name)
		return nil
	default:
		return errors.Trace(c.reconcile())
	}
}

// fqdn returns this unit's in-cluster DNS name, following the
// StatefulSet/headless-service layout Juju deploys sidecar charms with.
func (c *Charm) fqdn() string {
	unit := strings.ReplaceAll(c.info.UnitName, "/", "-")
	return fmt.Sprintf("%s.%s-endpoints.%s.svc.cluster.local", unit, c.info.AppName, c.info.ModelName)
}

// unreachableContainers returns the names of containers whose Pebble
// socket does not answer, sorted.
func (c *Charm) unreachableContainers() []string {
	down := set.NewStrings()
	for name, container := range c.containers {
		if !container.CanConnect() {
			down.Add(name)
		}
	}
	values := down.Values()
	sort.Strings(values)
	return values
}

// setStatus reports unit status, logging rather than failing on error:
// status is cosmetic and must never abort a reconcile.
func (c *Charm) setStatus(status hooktool.Status, message string) {
	if err := c.tools.StatusSet(status, message); err != nil {
		logger.Warningf("cannot set unit status: %v", err)
	}
}
