// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package peers_test

import (
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/canonical/parca-k8s-operator/internal/hooktool"
	"github.com/canonical/parca-k8s-operator/internal/hooktool/hooktooltest"
	"github.com/canonical/parca-k8s-operator/internal/relation/peers"
)

type peersSuite struct {
	ctx *hooktooltest.Context
}

var _ = gc.Suite(&peersSuite{})

func (s *peersSuite) SetUpTest(c *gc.C) {
	s.ctx = hooktooltest.NewContext("parca-k8s/0")
}

func (s *peersSuite) TestPublishAddress(c *gc.C) {
	rel := s.ctx.AddRelation(&hooktooltest.Relation{
		ID:   0,
		Name: peers.RelationName,
	})
	fqdn := "parca-k8s-0.parca-k8s-endpoints.cos.svc.cluster.local"
	c.Assert(peers.PublishAddress(s.ctx, fqdn), jc.ErrorIsNil)
	c.Check(rel.LocalUnitData, jc.DeepEquals, hooktool.Settings{"fqdn": fqdn})
}

func (s *peersSuite) TestAddressesIncludeOwnUnit(c *gc.C) {
	s.ctx.AddRelation(&hooktooltest.Relation{
		ID:   0,
		Name: peers.RelationName,
		Units: map[string]hooktool.Settings{
			"parca-k8s/1": {"fqdn": "parca-k8s-1.parca-k8s-endpoints.cos.svc.cluster.local"},
			"parca-k8s/2": {},
		},
	})
	addresses, err := peers.Addresses(s.ctx, "parca-k8s/0", "parca-k8s-0.parca-k8s-endpoints.cos.svc.cluster.local")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(addresses, jc.DeepEquals, map[string]string{
		"parca-k8s/0": "parca-k8s-0.parca-k8s-endpoints.cos.svc.cluster.local",
		"parca-k8s/1": "parca-k8s-1.parca-k8s-endpoints.cos.svc.cluster.local",
	})
	c.Check(peers.SortedUnits(addresses), jc.DeepEquals, []string{"parca-k8s/0", "parca-k8s/1"})
}

func (s *peersSuite) TestAddressesWithoutPeerRelation(c *gc.C) {
	addresses, err := peers.Addresses(s.ctx, "parca-k8s/0", "fqdn.local")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(addresses, jc.DeepEquals, map[string]string{"parca-k8s/0": "fqdn.local"})
}

func (s *peersSuite) TestAddressesBadUnitName(c *gc.C) {
	_, err := peers.Addresses(s.ctx, "nonsense", "fqdn.local")
	c.Assert(err, gc.ErrorMatches, `unit name "nonsense" not valid`)
}
