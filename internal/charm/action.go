// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package charm

import (
	"fmt"

	"github.com/juju/errors"

	"github.com/canonical/parca-k8s-operator/internal/relation/ingress"
	"github.com/canonical/parca-k8s-operator/internal/relation/tlscerts"
	"github.com/canonical/parca-k8s-operator/internal/workload/nginx"
)

// Endpoints are the addresses the list-endpoints action reports.
type Endpoints struct {
	HTTPURL        string
	GRPCURL        string
	HTTPIngressURL string
	GRPCIngressURL string
}

// ListEndpoints computes the direct and (when ready) ingressed endpoints.
func (c *Charm) ListEndpoints() (Endpoints, error) {
	scheme := "http"
	ids, err := c.tools.RelationIDs(tlscerts.RelationName)
	if err != nil {
		return Endpoints{}, errors.Trace(err)
	}
	if len(ids) > 0 {
		// TLS state follows what nginx actually serves.
		if nginx.New(c.containers[nginx.ContainerName], c.fqdn(), "", nil).CertificatesOnDisk() {
			scheme = "https"
		}
	}
	fqdn := c.fqdn()
	endpoints := Endpoints{
		HTTPURL: fmt.Sprintf("%s://%s:%d", scheme, fqdn, nginx.HTTPPort),
		GRPCURL: fmt.Sprintf("%s:%d", fqdn, nginx.GRPCPort),
	}
	external, err := ingress.ExternalHost(c.tools)
	if err != nil {
		return Endpoints{}, errors.Trace(err)
	}
	if external != nil {
		endpoints.HTTPIngressURL = fmt.Sprintf("%s://%s%s", external.Scheme, external.Host, external.Path)
		endpoints.GRPCIngressURL = fmt.Sprintf("%s:%d", external.Host, nginx.GRPCPort)
	}
	return endpoints, nil
}

// runAction dispatches the invoked action.
func (c *Charm) runAction() error {
	switch c.info.ActionName {
	case "list-endpoints":
		endpoints, err := c.ListEndpoints()
		if err != nil {
			if failErr := c.tools.ActionFail(err.Error()); failErr != nil {
				logger.Warningf("cannot fail action: %v", failErr)
			}
			return errors.Trace(err)
		}
		results := map[string]string{
			"http-url": endpoints.HTTPURL,
			"grpc-url": endpoints.GRPCURL,
		}
		if endpoints.HTTPIngressURL != "" {
			results["http-ingress-url"] = endpoints.HTTPIngressURL
			results["grpc-ingress-url"] = endpoints.GRPCIngressURL
		}
		return errors.Trace(c.tools.ActionSet(results))
	default:
		err := errors.NotFoundf("action %q", c.info.ActionName)
		if failErr := c.tools.ActionFail(err.Error()); failErr != nil {
			logger.Warningf("cannot fail action: %v", failErr)
		}
		return err
	}
}
