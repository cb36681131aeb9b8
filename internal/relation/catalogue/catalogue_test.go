// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package catalogue_test

import (
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/canonical/parca-k8s-operator/internal/hooktool"
	"github.com/canonical/parca-k8s-operator/internal/hooktool/hooktooltest"
	"github.com/canonical/parca-k8s-operator/internal/relation/catalogue"
)

type catalogueSuite struct {
	ctx *hooktooltest.Context
}

var _ = gc.Suite(&catalogueSuite{})

func (s *catalogueSuite) SetUpTest(c *gc.C) {
	s.ctx = hooktooltest.NewContext("parca-k8s/0")
}

func (s *catalogueSuite) TestPublish(c *gc.C) {
	rel := s.ctx.AddRelation(&hooktooltest.Relation{
		ID:        2,
		Name:      catalogue.RelationName,
		RemoteApp: "catalogue",
	})
	err := catalogue.Publish(s.ctx, catalogue.Item{
		Name:        "Parca",
		URL:         "http://parca.local:8080",
		Icon:        "chart-areaspline",
		Description: "Continuous profiling",
	}, true)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(rel.LocalAppData, jc.DeepEquals, hooktool.Settings{
		"name":        "Parca",
		"url":         "http://parca.local:8080",
		"icon":        "chart-areaspline",
		"description": "Continuous profiling",
	})
}

func (s *catalogueSuite) TestPublishNonLeaderNoop(c *gc.C) {
	rel := s.ctx.AddRelation(&hooktooltest.Relation{
		ID:        2,
		Name:      catalogue.RelationName,
		RemoteApp: "catalogue",
	})
	c.Assert(catalogue.Publish(s.ctx, catalogue.Item{Name: "Parca"}, false), jc.ErrorIsNil)
	c.Check(rel.LocalAppData, gc.HasLen, 0)
	s.ctx.CheckNoCalls(c)
}
