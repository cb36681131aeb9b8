// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package k8s patches the application's Kubernetes Service so that it
// exposes the nginx and exporter ports instead of the placeholder port
// Juju creates the Service with.
package k8s

import (
	"context"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	core "k8s.io/api/core/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	meta "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
)

var logger = loggo.GetLogger("parca.k8s")

// ServicePort is one exposed port.
type ServicePort struct {
	Name string
	Port int
}

// ServicePatcher converges the application Service's port list.
type ServicePatcher struct {
	client    kubernetes.Interface
	namespace string
	appName   string
}

// NewServicePatcher returns a patcher using in-cluster credentials. The
// model name is the namespace and the application name is the Service name,
// per the Juju sidecar-charm deployment layout.
func NewServicePatcher(namespace, appName string) (*ServicePatcher, error) {
	config, err := rest.InClusterConfig()
	if err != nil {
		return nil, errors.Annotate(err, "loading in-cluster kubernetes config")
	}
	client, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return NewServicePatcherForClient(client, namespace, appName), nil
}

// NewServicePatcherForClient is NewServicePatcher with an injected client.
func NewServicePatcherForClient(client kubernetes.Interface, namespace, appName string) *ServicePatcher {
	return &ServicePatcher{client: client, namespace: namespace, appName: appName}
}

// EnsurePorts updates the Service to expose exactly the given TCP ports.
// Missing Services are left alone: Juju owns Service creation.
func (p *ServicePatcher) EnsurePorts(ctx context.Context, ports []ServicePort) error {
	api := p.client.CoreV1().Services(p.namespace)
	existing, err := api.Get(ctx, p.appName, meta.GetOptions{})
	if k8serrors.IsNotFound(err) {
		logger.Warningf("service %q not found in namespace %q; nothing to patch", p.appName, p.namespace)
		return nil
	}
	if err != nil {
		return errors.Annotatef(err, "getting service %q", p.appName)
	}

	desired := make([]core.ServicePort, 0, len(ports))
	for _, port := range ports {
		desired = append(desired, core.ServicePort{
			Name:       port.Name,
			Port:       int32(port.Port),
			TargetPort: intstr.FromInt(port.Port),
			Protocol:   core.ProtocolTCP,
		})
	}
	if portsEqual(existing.Spec.Ports, desired) {
		return nil
	}
	existing.Spec.Ports = desired
	if _, err := api.Update(ctx, existing, meta.UpdateOptions{}); err != nil {
		return errors.Annotatef(err, "updating service %q", p.appName)
	}
	logger.Infof("patched service %q ports", p.appName)
	return nil
}

func portsEqual(a, b []core.ServicePort) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name ||
			a[i].Port != b[i].Port ||
			a[i].TargetPort != b[i].TargetPort ||
			a[i].Protocol != b[i].Protocol {
			return false
		}
	}
	return true
}
