// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package peers keeps the parca-peers peer relation: every unit publishes
// its FQDN so that any unit can enumerate the addresses of the whole
// application.
package peers

import (
	"sort"

	"github.com/juju/errors"
	"github.com/juju/names/v5"

	"github.com/canonical/parca-k8s-operator/internal/hooktool"
)

// RelationName is the peer endpoint.
const RelationName = "parca-peers"

const fqdnKey = "fqdn"

// PublishAddress records this unit's FQDN in its peer databag.
func PublishAddress(ctx hooktool.Context, fqdn string) error {
	ids, err := ctx.RelationIDs(RelationName)
	if err != nil {
		return errors.Trace(err)
	}
	for _, id := range ids {
		if err := ctx.RelationSetUnit(id, hooktool.Settings{fqdnKey: fqdn}); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// Addresses returns unit name to FQDN for every peer that has published
// one, this unit included.
func Addresses(ctx hooktool.Context, ownUnit, ownFQDN string) (map[string]string, error) {
	if !names.IsValidUnit(ownUnit) {
		return nil, errors.NotValidf("unit name %q", ownUnit)
	}
	addresses := map[string]string{ownUnit: ownFQDN}
	ids, err := ctx.RelationIDs(RelationName)
	if err != nil {
		return nil, errors.Trace(err)
	}
	for _, id := range ids {
		units, err := ctx.RelationListUnits(id)
		if err != nil {
			return nil, errors.Trace(err)
		}
		for _, unit := range units {
			data, err := ctx.RelationGetUnit(id, unit)
			if err != nil {
				return nil, errors.Trace(err)
			}
			if fqdn, ok := data.Get(fqdnKey); ok {
				addresses[unit] = fqdn
			}
		}
	}
	return addresses, nil
}

// SortedUnits returns the unit names of an address map, sorted.
func SortedUnits(addresses map[string]string) []string {
	units := make([]string, 0, len(addresses))
	for unit := range addresses {
		units = append(units, unit)
	}
	sort.Strings(units)
	return units
}
