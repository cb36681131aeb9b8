// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package profiling implements both ends of the parca_scrape interface:
// consuming profiling targets advertised by related charms, and providing
// this deployment's own profiling endpoint to other Parca instances.
package profiling

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/canonical/parca-k8s-operator/internal/hooktool"
	"github.com/canonical/parca-k8s-operator/internal/relation"
)

var logger = loggo.GetLogger("parca.relation.profiling")

const (
	// ConsumerRelation is the endpoint over which other charms expose
	// profiling targets to us.
	ConsumerRelation = "profiling-endpoint"

	// ProviderRelation is the endpoint over which we expose our own
	// profiles to another Parca.
	ProviderRelation = "self-profiling-endpoint"
)

// allowedJobKeys is the subset of Prometheus scrape config keys accepted
// from relation data; anything else is dropped silently.
var allowedJobKeys = map[string]bool{
	"job_name":                 true,
	"metrics_path":             true,
	"static_configs":           true,
	"scrape_interval":          true,
	"scrape_timeout":           true,
	"proxy_url":                true,
	"relabel_configs":          true,
	"metric_relabel_configs":   true,
	"sample_limit":             true,
	"label_limit":              true,
	"label_name_length_limit":  true,
	"label_value_length_limit": true,
	"scheme":                   true,
	"basic_auth":               true,
	"tls_config":               true,
}

// instanceRelabel collapses the topology labels into the instance label so
// that each profiled unit shows up as one instance.
var instanceRelabel = map[string]interface{}{
	"source_labels": []interface{}{
		"juju_model",
		"juju_model_uuid",
		"juju_application",
		"juju_unit",
	},
	"separator":    "_",
	"target_label": "instance",
	"regex":        "(.*)",
}

// Jobs assembles the scrape jobs from every profiling-endpoint relation:
// remote app data carries the job skeletons and the scrape metadata, remote
// unit data carries per-unit addresses for wildcard target expansion.
func Jobs(ctx hooktool.Context) ([]map[string]interface{}, error) {
	ids, err := ctx.RelationIDs(ConsumerRelation)
	if err != nil {
		return nil, errors.Trace(err)
	}
	var jobs []map[string]interface{}
	for _, id := range ids {
		relationJobs, err := jobsForRelation(ctx, id)
		if err != nil {
			return nil, errors.Annotatef(err, "relation %d", id)
		}
		jobs = append(jobs, relationJobs...)
	}
	return jobs, nil
}

func jobsForRelation(ctx hooktool.Context, id int) ([]map[string]interface{}, error) {
	units, err := ctx.RelationListUnits(id)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if len(units) == 0 {
		return nil, nil
	}
	remoteApp := strings.SplitN(units[0], "/", 2)[0]
	appData, err := ctx.RelationGetApp(id, remoteApp)
	if err != nil {
		return nil, errors.Trace(err)
	}
	rawJobs, ok := appData.Get("scrape_jobs")
	if !ok {
		return nil, nil
	}
	rawMetadata, ok := appData.Get("scrape_metadata")
	if !ok {
		return nil, nil
	}
	topology, err := relation.ParseMetadata(rawMetadata)
	if err != nil {
		return nil, errors.Trace(err)
	}
	var declared []map[string]interface{}
	if err := json.Unmarshal([]byte(rawJobs), &declared); err != nil {
		return nil, errors.Annotate(err, "parsing scrape jobs")
	}

	hosts, err := unitHosts(ctx, id, units)
	if err != nil {
		return nil, errors.Trace(err)
	}

	var jobs []map[string]interface{}
	for i, job := range declared {
		built := buildJob(job, topology, hosts, i)
		if built != nil {
			jobs = append(jobs, built)
		}
	}
	return jobs, nil
}

type unitHost struct {
	unit    string
	address string
}

func unitHosts(ctx hooktool.Context, id int, units []string) ([]unitHost, error) {
	var hosts []unitHost
	for _, unit := range units {
		data, err := ctx.RelationGetUnit(id, unit)
		if err != nil {
			return nil, errors.Trace(err)
		}
		address, ok := data.Get("parca_scrape_unit_address")
		if !ok {
			continue
		}
		name, ok := data.Get("parca_scrape_unit_name")
		if !ok {
			name = unit
		}
		hosts = append(hosts, unitHost{unit: unjson(name), address: unjson(address)})
	}
	sort.Slice(hosts, func(i, j int) bool { return hosts[i].unit < hosts[j].unit })
	return hosts, nil
}

// unjson strips a layer of JSON string quoting if present; some charm libs
// json-dump unit fields, some write them bare.
func unjson(s string) string {
	var out string
	if err := json.Unmarshal([]byte(s), &out); err == nil {
		return out
	}
	return s
}

func buildJob(job map[string]interface{}, topology relation.Topology, hosts []unitHost, index int) map[string]interface{} {
	out := map[string]interface{}{}
	for k, v := range job {
		if allowedJobKeys[k] {
			out[k] = v
		}
	}
	name, _ := out["job_name"].(string)
	if name == "" {
		name = fmt.Sprintf("default_%d", index)
	}
	out["job_name"] = topology.Identifier() + "_" + name

	staticConfigs, _ := out["static_configs"].([]interface{})
	var expanded []interface{}
	for _, rawConfig := range staticConfigs {
		config, ok := rawConfig.(map[string]interface{})
		if !ok {
			continue
		}
		expanded = append(expanded, expandStaticConfig(config, topology, hosts)...)
	}
	if len(expanded) == 0 {
		return nil
	}
	out["static_configs"] = expanded
	out["relabel_configs"] = []interface{}{instanceRelabel}
	return out
}

// expandStaticConfig splits wildcard targets ("*:<port>") into one config
// per related unit, labelled with that unit's topology; literal targets
// keep the application-level topology labels.
func expandStaticConfig(config map[string]interface{}, topology relation.Topology, hosts []unitHost) []interface{} {
	baseLabels := map[string]string{}
	if rawLabels, ok := config["labels"].(map[string]interface{}); ok {
		for k, v := range rawLabels {
			if s, ok := v.(string); ok {
				baseLabels[k] = s
			}
		}
	}
	targets, _ := config["targets"].([]interface{})
	var literal []string
	var wildcardPorts []string
	for _, rawTarget := range targets {
		target, ok := rawTarget.(string)
		if !ok {
			continue
		}
		if strings.HasPrefix(target, "*") {
			wildcardPorts = append(wildcardPorts, strings.TrimPrefix(target, "*"))
		} else {
			literal = append(literal, target)
		}
	}

	var out []interface{}
	if len(literal) > 0 {
		appTopology := topology
		appTopology.Unit = ""
		out = append(out, staticConfig(literal, baseLabels, appTopology))
	}
	for _, host := range hosts {
		var targets []string
		for _, port := range wildcardPorts {
			targets = append(targets, host.address+port)
		}
		if len(targets) == 0 {
			continue
		}
		unitTopology := topology
		unitTopology.Unit = host.unit
		out = append(out, staticConfig(targets, baseLabels, unitTopology))
	}
	return out
}

func staticConfig(targets []string, baseLabels map[string]string, topology relation.Topology) map[string]interface{} {
	labels := map[string]interface{}{}
	for k, v := range baseLabels {
		labels[k] = v
	}
	for k, v := range topology.Labels() {
		labels[k] = v
	}
	targetList := make([]interface{}, len(targets))
	for i, t := range targets {
		targetList[i] = t
	}
	return map[string]interface{}{
		"targets": targetList,
		"labels":  labels,
	}
}

// SelfScrapeJob returns the scrape config for this deployment's own
// profiles, scraped through nginx. caCert switches the job to https.
func SelfScrapeJob(host string, port int, caCert string) map[string]interface{} {
	job := map[string]interface{}{
		"job_name": "parca",
		"static_configs": []interface{}{
			map[string]interface{}{
				"targets": []interface{}{fmt.Sprintf("%s:%d", host, port)},
			},
		},
	}
	if caCert != "" {
		job["scheme"] = "https"
		job["tls_config"] = map[string]interface{}{"ca": caCert}
	}
	return job
}

// PublishSelfEndpoint advertises this unit as a profiling target on every
// self-profiling-endpoint relation, so that another Parca can scrape this
// one. App data is leader-gated by the caller.
func PublishSelfEndpoint(ctx hooktool.Context, topology relation.Topology, unitName, address string, port int, leader bool) error {
	ids, err := ctx.RelationIDs(ProviderRelation)
	if err != nil {
		return errors.Trace(err)
	}
	if len(ids) == 0 {
		return nil
	}
	jobs, err := json.Marshal([]map[string]interface{}{{
		"static_configs": []map[string]interface{}{{
			"targets": []string{fmt.Sprintf("*:%d", port)},
		}},
	}})
	if err != nil {
		return errors.Trace(err)
	}
	metadata, err := topology.MarshalMetadata()
	if err != nil {
		return errors.Trace(err)
	}
	for _, id := range ids {
		if leader {
			err := ctx.RelationSetApp(id, hooktool.Settings{
				"scrape_jobs":     string(jobs),
				"scrape_metadata": metadata,
			})
			if err != nil {
				return errors.Trace(err)
			}
		}
		err := ctx.RelationSetUnit(id, hooktool.Settings{
			"parca_scrape_unit_address": address,
			"parca_scrape_unit_name":    unitName,
		})
		if err != nil {
			return errors.Trace(err)
		}
	}
	logger.Debugf("published self-profiling endpoint on %d relation(s)", len(ids))
	return nil
}
