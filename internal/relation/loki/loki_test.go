// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package loki_test

import (
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/canonical/parca-k8s-operator/internal/hooktool"
	"github.com/canonical/parca-k8s-operator/internal/hooktool/hooktooltest"
	"github.com/canonical/parca-k8s-operator/internal/relation/loki"
	"github.com/canonical/parca-k8s-operator/internal/workload"
)

type lokiSuite struct {
	ctx *hooktooltest.Context
}

var _ = gc.Suite(&lokiSuite{})

func (s *lokiSuite) SetUpTest(c *gc.C) {
	s.ctx = hooktooltest.NewContext("parca-k8s/0")
}

func (s *lokiSuite) TestEndpointsSorted(c *gc.C) {
	s.ctx.AddRelation(&hooktooltest.Relation{
		ID:        3,
		Name:      loki.RelationName,
		RemoteApp: "loki",
		Units: map[string]hooktool.Settings{
			"loki/1": {"endpoint": `{"url": "http://loki-1:3100/loki/api/v1/push"}`},
			"loki/0": {"endpoint": `{"url": "http://loki-0:3100/loki/api/v1/push"}`},
		},
	})
	urls, err := loki.Endpoints(s.ctx)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(urls, jc.DeepEquals, []string{
		"http://loki-0:3100/loki/api/v1/push",
		"http://loki-1:3100/loki/api/v1/push",
	})
}

func (s *lokiSuite) TestEndpointsSkipSilentUnits(c *gc.C) {
	s.ctx.AddRelation(&hooktooltest.Relation{
		ID:        3,
		Name:      loki.RelationName,
		RemoteApp: "loki",
		Units: map[string]hooktool.Settings{
			"loki/0": {"endpoint": `{"url": "http://loki-0:3100/loki/api/v1/push"}`},
			"loki/1": {},
		},
	})
	urls, err := loki.Endpoints(s.ctx)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(urls, gc.HasLen, 1)
}

func (s *lokiSuite) TestEndpointsBadPayload(c *gc.C) {
	s.ctx.AddRelation(&hooktooltest.Relation{
		ID:        3,
		Name:      loki.RelationName,
		RemoteApp: "loki",
		Units: map[string]hooktool.Settings{
			"loki/0": {"endpoint": `{nope`},
		},
	})
	_, err := loki.Endpoints(s.ctx)
	c.Assert(err, gc.ErrorMatches, `parsing loki endpoint from "loki/0": .*`)
}

func (s *lokiSuite) TestLogTargets(c *gc.C) {
	targets := loki.LogTargets([]string{"http://loki-0:3100/loki/api/v1/push"})
	c.Check(targets, jc.DeepEquals, map[string]workload.LogTarget{
		"loki-0": {
			Override: "replace",
			Type:     "loki",
			Location: "http://loki-0:3100/loki/api/v1/push",
			Services: []string{"all"},
		},
	})
}

func (s *lokiSuite) TestLogTargetsEmpty(c *gc.C) {
	c.Check(loki.LogTargets(nil), gc.IsNil)
}
