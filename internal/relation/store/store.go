// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package store implements the parca_store interface: publishing this
// deployment's gRPC store endpoint to charms that push profiles here, and
// consuming an external store (e.g. Polar Signals Cloud) that this server
// forwards profiles to.
package store

import (
	"strconv"
	"strings"

	"github.com/juju/errors"

	"github.com/canonical/parca-k8s-operator/internal/hooktool"
)

const (
	// ProviderRelation exposes our store endpoint.
	ProviderRelation = "parca-store-endpoint"

	// RequirerRelation consumes an external store endpoint.
	RequirerRelation = "external-parca-store-endpoint"
)

const (
	addressKey     = "remote-store-address"
	bearerTokenKey = "remote-store-bearer-token"
	insecureKey    = "remote-store-insecure"
)

// Config is a store endpoint, local or remote.
type Config struct {
	Address     string
	BearerToken string
	Insecure    bool
}

// Publish writes our store endpoint into the app databag of every
// parca-store-endpoint relation. Leader only; no-op otherwise.
func Publish(ctx hooktool.Context, cfg Config, leader bool) error {
	if !leader {
		return nil
	}
	ids, err := ctx.RelationIDs(ProviderRelation)
	if err != nil {
		return errors.Trace(err)
	}
	for _, id := range ids {
		err := ctx.RelationSetApp(id, hooktool.Settings{
			addressKey:  cfg.Address,
			insecureKey: strconv.FormatBool(cfg.Insecure),
		})
		if err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// External returns the external store config, when a relation provides one.
func External(ctx hooktool.Context) (*Config, error) {
	ids, err := ctx.RelationIDs(RequirerRelation)
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
		address, ok := data.Get(addressKey)
		if !ok {
			continue
		}
		cfg := &Config{Address: address}
		cfg.BearerToken, _ = data.Get(bearerTokenKey)
		if insecure, ok := data.Get(insecureKey); ok {
			cfg.Insecure = insecure == "true"
		}
		return cfg, nil
	}
	return nil, nil
}
