// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package ingress implements the requirer side of traefik_route: the charm
// renders raw Traefik router/service configuration for its HTTP and gRPC
// entrypoints and submits it over the relation; Traefik reports back the
// external host and scheme.
package ingress

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"gopkg.in/yaml.v3"

	"github.com/canonical/parca-k8s-operator/internal/hooktool"
)

var logger = loggo.GetLogger("parca.relation.ingress")

// RelationName is the traefik_route endpoint.
const RelationName = "ingress"

// Protocol of an entrypoint; gRPC entrypoints get h2c treatment when the
// pod serves plaintext.
type Protocol string

const (
	HTTP Protocol = "http"
	GRPC Protocol = "grpc"
)

// EntryPoint is one Traefik entrypoint the charm wants routed to itself.
type EntryPoint struct {
	Name     string
	Protocol Protocol
	Port     int
}

// Route describes the desired ingress configuration.
type Route struct {
	// ModelName and AppName namespace the Traefik router/service names.
	ModelName string
	AppName   string

	// Host is the in-cluster address Traefik forwards to (the unit FQDN).
	Host string

	// TLS reports whether the pod terminates TLS itself.
	TLS bool

	// EntryPoints to route.
	EntryPoints []EntryPoint
}

func (r Route) prefix(name string) string {
	return fmt.Sprintf("juju-%s-%s-%s", r.ModelName, r.AppName, name)
}

// StaticConfig renders the Traefik static configuration: one entrypoint
// address per port.
func (r Route) StaticConfig() map[string]interface{} {
	entryPoints := map[string]interface{}{}
	for _, ep := range r.EntryPoints {
		entryPoints[ep.Name] = map[string]interface{}{
			"address": fmt.Sprintf(":%d", ep.Port),
		}
	}
	return map[string]interface{}{"entryPoints": entryPoints}
}

// DynamicConfig renders the Traefik dynamic configuration: a router and a
// load-balanced service per entrypoint. Plaintext gRPC needs the h2c
// scheme; everything else uses http(s) against the pod.
func (r Route) DynamicConfig() map[string]interface{} {
	routers := map[string]interface{}{}
	services := map[string]interface{}{}
	for _, ep := range r.EntryPoints {
		serviceName := fmt.Sprintf("juju-%s-%s-service-%s", r.ModelName, r.AppName, ep.Name)
		routers[r.prefix(ep.Name)] = map[string]interface{}{
			"entryPoints": []interface{}{ep.Name},
			"service":     serviceName,
			"rule":        "ClientIP(`0.0.0.0/0`)",
		}
		scheme := "http"
		switch {
		case ep.Protocol == GRPC && !r.TLS:
			scheme = "h2c"
		case r.TLS:
			scheme = "https"
		}
		services[serviceName] = map[string]interface{}{
			"loadBalancer": map[string]interface{}{
				"servers": []interface{}{
					map[string]interface{}{
						"url": fmt.Sprintf("%s://%s:%d", scheme, r.Host, ep.Port),
					},
				},
			},
		}
	}
	return map[string]interface{}{
		"http": map[string]interface{}{
			"routers":  routers,
			"services": services,
		},
	}
}

// Submit writes the rendered configuration into the app databag of every
// ingress relation. Leader only; no-op otherwise.
func Submit(ctx hooktool.Context, route Route, leader bool) error {
	if !leader {
		return nil
	}
	ids, err := ctx.RelationIDs(RelationName)
	if err != nil {
		return errors.Trace(err)
	}
	if len(ids) == 0 {
		return nil
	}
	dynamic, err := yaml.Marshal(route.DynamicConfig())
	if err != nil {
		return errors.Trace(err)
	}
	static, err := yaml.Marshal(route.StaticConfig())
	if err != nil {
		return errors.Trace(err)
	}
	for _, id := range ids {
		err := ctx.RelationSetApp(id, hooktool.Settings{
			"config": string(dynamic),
			"static": string(static),
		})
		if err != nil {
			return errors.Trace(err)
		}
	}
	logger.Debugf("submitted ingress configuration to traefik")
	return nil
}

// External describes what the ingress provider exposes for us.
type External struct {
	Host   string
	Scheme string

	// Path is set when the provider routes by URL path rather than by
	// entrypoint port; it becomes the workload path prefix.
	Path string
}

// ExternalHost returns the external host/scheme published by the ingress
// provider, or nil while ingress is not ready. Both traefik_route databags
// (external_host/scheme) and plain ingress databags (a JSON url) are
// understood.
func ExternalHost(ctx hooktool.Context) (*External, error) {
	ids, err := ctx.RelationIDs(RelationName)
	if err != nil {
		return nil, errors.Trace(err)
	}
	for _, id := range ids {
		units, err := ctx.RelationListUnits(id)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if len(units) == 0 {
			continue
		}
		remoteApp := strings.SplitN(units[0], "/", 2)[0]
		data, err := ctx.RelationGetApp(id, remoteApp)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if host, ok := data.Get("external_host"); ok {
			scheme, ok := data.Get("scheme")
			if !ok {
				scheme = "http"
			}
			return &External{Host: host, Scheme: scheme}, nil
		}
		if raw, ok := data.Get("ingress"); ok {
			external, err := parseIngressURL(raw)
			if err != nil {
				return nil, errors.Annotatef(err, "relation %d", id)
			}
			if external != nil {
				return external, nil
			}
		}
	}
	return nil, nil
}

func parseIngressURL(raw string) (*External, error) {
	var payload struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, errors.Annotate(err, "parsing ingress databag")
	}
	if payload.URL == "" {
		return nil, nil
	}
	u, err := url.Parse(payload.URL)
	if err != nil {
		return nil, errors.Annotate(err, "parsing ingress url")
	}
	return &External{
		Host:   u.Host,
		Scheme: u.Scheme,
		Path:   strings.TrimSuffix(u.Path, "/"),
	}, nil
}
