// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cos_test

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"io"

	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/canonical/parca-k8s-operator/internal/hooktool/hooktooltest"
	"github.com/canonical/parca-k8s-operator/internal/relation"
	"github.com/canonical/parca-k8s-operator/internal/relation/cos"
)

func testTopology() relation.Topology {
	return relation.Topology{
		Model:       "cos",
		ModelUUID:   "deadbeef-0bad-400d-8000-4b1d0d06f00d",
		Application: "parca-k8s",
		CharmName:   "parca-k8s",
	}
}

type metricsSuite struct {
	ctx *hooktooltest.Context
}

var _ = gc.Suite(&metricsSuite{})

func (s *metricsSuite) SetUpTest(c *gc.C) {
	s.ctx = hooktooltest.NewContext("parca-k8s/0")
}

func (s *metricsSuite) TestPublish(c *gc.C) {
	rel := s.ctx.AddRelation(&hooktooltest.Relation{
		ID:        1,
		Name:      cos.MetricsRelation,
		RemoteApp: "prometheus",
	})
	err := cos.PublishMetricsEndpoints(s.ctx, cos.MetricsEndpoint{
		Topology: testTopology(),
		UnitName: "parca-k8s/0",
		Address:  "parca-k8s-0.parca-k8s-endpoints.cos.svc.cluster.local",
		Ports:    []int{8080, 9113},
	}, true)
	c.Assert(err, jc.ErrorIsNil)

	var jobs []map[string]interface{}
	c.Assert(json.Unmarshal([]byte(rel.LocalAppData["scrape_jobs"]), &jobs), jc.ErrorIsNil)
	c.Assert(jobs, gc.HasLen, 2)
	c.Check(jobs[0]["metrics_path"], gc.Equals, "/metrics")
	configs := jobs[0]["static_configs"].([]interface{})
	c.Check(configs[0].(map[string]interface{})["targets"], jc.DeepEquals, []interface{}{"*:8080"})
	configs = jobs[1]["static_configs"].([]interface{})
	c.Check(configs[0].(map[string]interface{})["targets"], jc.DeepEquals, []interface{}{"*:9113"})

	c.Check(rel.LocalAppData["scrape_metadata"], jc.Contains, `"application":"parca-k8s"`)
	c.Check(rel.LocalUnitData["prometheus_scrape_unit_address"], gc.Equals,
		"parca-k8s-0.parca-k8s-endpoints.cos.svc.cluster.local")
	c.Check(rel.LocalUnitData["prometheus_scrape_unit_name"], gc.Equals, "parca-k8s/0")
}

func (s *metricsSuite) TestPublishNonLeaderUnitDataOnly(c *gc.C) {
	rel := s.ctx.AddRelation(&hooktooltest.Relation{
		ID:        1,
		Name:      cos.MetricsRelation,
		RemoteApp: "prometheus",
	})
	err := cos.PublishMetricsEndpoints(s.ctx, cos.MetricsEndpoint{
		Topology: testTopology(),
		UnitName: "parca-k8s/1",
		Address:  "addr",
		Ports:    []int{8080},
	}, false)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(rel.LocalAppData, gc.HasLen, 0)
	c.Check(rel.LocalUnitData["prometheus_scrape_unit_name"], gc.Equals, "parca-k8s/1")
}

type sourceSuite struct {
	ctx *hooktooltest.Context
}

var _ = gc.Suite(&sourceSuite{})

func (s *sourceSuite) SetUpTest(c *gc.C) {
	s.ctx = hooktooltest.NewContext("parca-k8s/0")
}

func (s *sourceSuite) TestPublish(c *gc.C) {
	rel := s.ctx.AddRelation(&hooktooltest.Relation{
		ID:        2,
		Name:      cos.SourceRelation,
		RemoteApp: "grafana",
	})
	err := cos.PublishGrafanaSource(s.ctx, testTopology(), "parca.local", 8080, true)
	c.Assert(err, jc.ErrorIsNil)

	var source map[string]string
	c.Assert(json.Unmarshal([]byte(rel.LocalAppData["grafana_source_data"]), &source), jc.ErrorIsNil)
	c.Check(source["type"], gc.Equals, "parca")
	c.Check(source["model"], gc.Equals, "cos")
	c.Check(rel.LocalUnitData["grafana_source_host"], gc.Equals, "parca.local:8080")
}

type dashboardSuite struct {
	ctx *hooktooltest.Context
}

var _ = gc.Suite(&dashboardSuite{})

func (s *dashboardSuite) SetUpTest(c *gc.C) {
	s.ctx = hooktooltest.NewContext("parca-k8s/0")
}

func (s *dashboardSuite) TestPublishDashboards(c *gc.C) {
	rel := s.ctx.AddRelation(&hooktooltest.Relation{
		ID:        4,
		Name:      cos.DashboardRelation,
		RemoteApp: "grafana",
	})
	c.Assert(cos.PublishDashboards(s.ctx, "parca-k8s", true), jc.ErrorIsNil)

	var payload struct {
		Templates map[string]struct {
			Charm   string `json:"charm"`
			Content string `json:"content"`
		} `json:"templates"`
	}
	c.Assert(json.Unmarshal([]byte(rel.LocalAppData["dashboards"]), &payload), jc.ErrorIsNil)
	template, ok := payload.Templates["file:parca.json"]
	c.Assert(ok, jc.IsTrue)
	c.Check(template.Charm, gc.Equals, "parca-k8s")

	// The content round-trips through gzip+base64 to the bundled dashboard.
	compressed, err := base64.StdEncoding.DecodeString(template.Content)
	c.Assert(err, jc.ErrorIsNil)
	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	c.Assert(err, jc.ErrorIsNil)
	raw, err := io.ReadAll(zr)
	c.Assert(err, jc.ErrorIsNil)

	var dashboard map[string]interface{}
	c.Assert(json.Unmarshal(raw, &dashboard), jc.ErrorIsNil)
	c.Check(dashboard["title"], gc.NotNil)
}

func (s *dashboardSuite) TestPublishDashboardsNonLeaderNoop(c *gc.C) {
	rel := s.ctx.AddRelation(&hooktooltest.Relation{
		ID:        4,
		Name:      cos.DashboardRelation,
		RemoteApp: "grafana",
	})
	c.Assert(cos.PublishDashboards(s.ctx, "parca-k8s", false), jc.ErrorIsNil)
	c.Check(rel.LocalAppData, gc.HasLen, 0)
}
