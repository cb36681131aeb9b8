// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package catalogue publishes this application's entry to a catalogue
// charm: a display name, a URL and an icon.
package catalogue

import (
	"github.com/juju/errors"

	"github.com/canonical/parca-k8s-operator/internal/hooktool"
)

// RelationName is the catalogue endpoint.
const RelationName = "catalogue"

// Item is the catalogue entry.
type Item struct {
	Name        string
	URL         string
	Icon        string
	Description string
}

// Publish writes the item into the app databag of every catalogue
// relation. Leader only; no-op otherwise.
func Publish(ctx hooktool.Context, item Item, leader bool) error {
	if !leader {
		return nil
	}
	ids, err := ctx.RelationIDs(RelationName)
	if err != nil {
		return errors.Trace(err)
	}
	for _, id := range ids {
		err := ctx.RelationSetApp(id, hooktool.Settings{
			"name":        item.Name,
			"url":         item.URL,
			"icon":        item.Icon,
			"description": item.Description,
		})
		if err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}
