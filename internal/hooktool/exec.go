// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package hooktool

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
)

var logger = loggo.GetLogger("parca.hooktool")

// Runner executes a hook tool and returns its stdout. stdin may be nil.
type Runner interface {
	Run(tool string, stdin []byte, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(tool string, stdin []byte, args ...string) ([]byte, error) {
	cmd := exec.Command(tool, args...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, errors.Annotatef(err, "%s: %s", tool, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// toolContext implements Context by invoking jujuc tools.
type toolContext struct {
	runner Runner
}

// NewContextWithRunner allows tests to substitute the tool runner.
func NewContextWithRunner(runner Runner) Context {
	return &toolContext{runner: runner}
}

func (c *toolContext) runJSON(out interface{}, tool string, args ...string) error {
	data, err := c.runner.Run(tool, nil, append(args, "--format=json")...)
	if err != nil {
		return errors.Trace(err)
	}
	// Tools print "null" when there is nothing to report.
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Annotatef(err, "parsing %s output", tool)
	}
	return nil
}

func (c *toolContext) ConfigGet() (map[string]interface{}, error) {
	var cfg map[string]interface{}
	if err := c.runJSON(&cfg, "config-get"); err != nil {
		return nil, errors.Trace(err)
	}
	return cfg, nil
}

func (c *toolContext) RelationIDs(name string) ([]int, error) {
	var raw []string
	if err := c.runJSON(&raw, "relation-ids", name); err != nil {
		return nil, errors.Trace(err)
	}
	// relation-ids prints "<name>:<id>" pairs.
	ids := make([]int, 0, len(raw))
	for _, s := range raw {
		i := strings.LastIndexByte(s, ':')
		if i < 0 {
			return nil, errors.NotValidf("relation id %q", s)
		}
		id, err := strconv.Atoi(s[i+1:])
		if err != nil {
			return nil, errors.NotValidf("relation id %q", s)
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

func (c *toolContext) RelationListUnits(id int) ([]string, error) {
	var units []string
	if err := c.runJSON(&units, "relation-list", "-r", strconv.Itoa(id)); err != nil {
		return nil, errors.Trace(err)
	}
	sort.Strings(units)
	return units, nil
}

func (c *toolContext) RelationGetUnit(id int, unit string) (Settings, error) {
	var settings Settings
	err := c.runJSON(&settings, "relation-get", "-r", strconv.Itoa(id), "-", unit)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return settings, nil
}

func (c *toolContext) RelationGetApp(id int, app string) (Settings, error) {
	var settings Settings
	err := c.runJSON(&settings, "relation-get", "-r", strconv.Itoa(id), "--app", "-", app)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return settings, nil
}

func (c *toolContext) relationSet(id int, app bool, settings Settings) error {
	// Settings go through --file on stdin so that multi-line values
	// (certificates, rendered YAML) survive unmangled.
	doc, err := marshalSettingsYAML(settings)
	if err != nil {
		return errors.Trace(err)
	}
	args := []string{"-r", strconv.Itoa(id)}
	if app {
		args = append(args, "--app")
	}
	args = append(args, "--file", "-")
	_, err = c.runner.Run("relation-set", doc, args...)
	return errors.Trace(err)
}

func (c *toolContext) RelationSetUnit(id int, settings Settings) error {
	return c.relationSet(id, false, settings)
}

func (c *toolContext) RelationSetApp(id int, settings Settings) error {
	return c.relationSet(id, true, settings)
}

func (c *toolContext) IsLeader() (bool, error) {
	var leader bool
	if err := c.runJSON(&leader, "is-leader"); err != nil {
		return false, errors.Trace(err)
	}
	return leader, nil
}

func (c *toolContext) PrivateAddress() (string, error) {
	var addr string
	if err := c.runJSON(&addr, "unit-get", "private-address"); err != nil {
		return "", errors.Trace(err)
	}
	return addr, nil
}

func (c *toolContext) StatusSet(status Status, message string) error {
	_, err := c.runner.Run("status-set", nil, string(status), message)
	return errors.Trace(err)
}

func (c *toolContext) ApplicationVersionSet(version string) error {
	_, err := c.runner.Run("application-version-set", nil, version)
	return errors.Trace(err)
}

func (c *toolContext) OpenPort(protocol string, port int) error {
	_, err := c.runner.Run("open-port", nil, fmt.Sprintf("%d/%s", port, protocol))
	return errors.Trace(err)
}

func (c *toolContext) OpenedPorts() ([]string, error) {
	var ports []string
	if err := c.runJSON(&ports, "opened-ports"); err != nil {
		return nil, errors.Trace(err)
	}
	return ports, nil
}

func (c *toolContext) SecretAdd(label string, content map[string]string) (string, error) {
	args := make([]string, 0, len(content)+2)
	for _, k := range sortedKeys(content) {
		args = append(args, fmt.Sprintf("%s=%s", k, content[k]))
	}
	args = append(args, "--label", label)
	out, err := c.runner.Run("secret-add", nil, args...)
	if err != nil {
		return "", errors.Trace(err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (c *toolContext) SecretGet(label string) (map[string]string, error) {
	var content map[string]string
	err := c.runJSON(&content, "secret-get", "--label", label)
	if err != nil {
		// The tool exits non-zero when the label is unknown; callers
		// handle bootstrap.
		logger.Debugf("secret-get %q: %v", label, err)
		return nil, errors.Annotatef(SecretNotFound, "label %q", label)
	}
	return content, nil
}

func (c *toolContext) SecretSet(label string, content map[string]string) error {
	args := make([]string, 0, len(content)+2)
	for _, k := range sortedKeys(content) {
		args = append(args, fmt.Sprintf("%s=%s", k, content[k]))
	}
	args = append(args, "--label", label)
	_, err := c.runner.Run("secret-set", nil, args...)
	return errors.Trace(err)
}

func (c *toolContext) ActionGet() (map[string]interface{}, error) {
	var params map[string]interface{}
	if err := c.runJSON(&params, "action-get"); err != nil {
		return nil, errors.Trace(err)
	}
	return params, nil
}

func (c *toolContext) ActionSet(values map[string]string) error {
	args := make([]string, 0, len(values))
	for _, k := range sortedKeys(values) {
		args = append(args, fmt.Sprintf("%s=%s", k, values[k]))
	}
	_, err := c.runner.Run("action-set", nil, args...)
	return errors.Trace(err)
}

func (c *toolContext) ActionFail(message string) error {
	_, err := c.runner.Run("action-fail", nil, message)
	return errors.Trace(err)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
