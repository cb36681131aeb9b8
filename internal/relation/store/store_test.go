// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package store_test

import (
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/canonical/parca-k8s-operator/internal/hooktool"
	"github.com/canonical/parca-k8s-operator/internal/hooktool/hooktooltest"
	"github.com/canonical/parca-k8s-operator/internal/relation/store"
)

type storeSuite struct {
	ctx *hooktooltest.Context
}

var _ = gc.Suite(&storeSuite{})

func (s *storeSuite) SetUpTest(c *gc.C) {
	s.ctx = hooktooltest.NewContext("parca-k8s/0")
}

func (s *storeSuite) TestPublish(c *gc.C) {
	rel := s.ctx.AddRelation(&hooktooltest.Relation{
		ID:        1,
		Name:      store.ProviderRelation,
		RemoteApp: "flog",
	})
	err := store.Publish(s.ctx, store.Config{Address: "parca.local:8081", Insecure: true}, true)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(rel.LocalAppData, jc.DeepEquals, hooktool.Settings{
		"remote-store-address":  "parca.local:8081",
		"remote-store-insecure": "true",
	})
}

func (s *storeSuite) TestPublishNonLeaderNoop(c *gc.C) {
	rel := s.ctx.AddRelation(&hooktooltest.Relation{
		ID:        1,
		Name:      store.ProviderRelation,
		RemoteApp: "flog",
	})
	err := store.Publish(s.ctx, store.Config{Address: "parca.local:8081"}, false)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(rel.LocalAppData, gc.HasLen, 0)
	s.ctx.CheckNoCalls(c)
}

func (s *storeSuite) TestExternal(c *gc.C) {
	s.ctx.AddRelation(&hooktooltest.Relation{
		ID:        2,
		Name:      store.RequirerRelation,
		RemoteApp: "polar-signals-cloud",
		AppData: hooktool.Settings{
			"remote-store-address":      "grpc.polarsignals.com:443",
			"remote-store-bearer-token": "deadbeef",
			"remote-store-insecure":     "false",
		},
	})
	cfg, err := store.External(s.ctx)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(cfg, gc.NotNil)
	c.Check(cfg.Address, gc.Equals, "grpc.polarsignals.com:443")
	c.Check(cfg.BearerToken, gc.Equals, "deadbeef")
	c.Check(cfg.Insecure, jc.IsFalse)
}

func (s *storeSuite) TestExternalInsecure(c *gc.C) {
	s.ctx.AddRelation(&hooktooltest.Relation{
		ID:        2,
		Name:      store.RequirerRelation,
		RemoteApp: "parca-central",
		AppData: hooktool.Settings{
			"remote-store-address":  "parca-central:8081",
			"remote-store-insecure": "true",
		},
	})
	cfg, err := store.External(s.ctx)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(cfg, gc.NotNil)
	c.Check(cfg.Insecure, jc.IsTrue)
	c.Check(cfg.BearerToken, gc.Equals, "")
}

func (s *storeSuite) TestExternalIncompleteDatabag(c *gc.C) {
	s.ctx.AddRelation(&hooktooltest.Relation{
		ID:        2,
		Name:      store.RequirerRelation,
		RemoteApp: "parca-central",
		AppData:   hooktool.Settings{"remote-store-bearer-token": "deadbeef"},
	})
	cfg, err := store.External(s.ctx)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(cfg, gc.IsNil)
}

func (s *storeSuite) TestExternalNoRelation(c *gc.C) {
	cfg, err := store.External(s.ctx)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(cfg, gc.IsNil)
}
