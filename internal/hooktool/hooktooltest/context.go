// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package hooktooltest provides an in-memory hooktool.Context for tests.
package hooktooltest

import (
	"sort"
	"strconv"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/testing"

	"github.com/canonical/parca-k8s-operator/internal/hooktool"
)

// Relation models one established relation.
type Relation struct {
	ID   int
	Name string

	// RemoteApp is the counterpart application name.
	RemoteApp string

	// AppData is the remote application databag.
	AppData hooktool.Settings

	// Units holds the remote unit databags.
	Units map[string]hooktool.Settings

	// LocalAppData and LocalUnitData accumulate what the charm writes.
	LocalAppData  hooktool.Settings
	LocalUnitData hooktool.Settings
}

// Context is a fake hooktool.Context. Reads come from the fields; writes
// land in the per-relation Local* bags and the exported fields. The
// embedded Stub records every call and injects errors.
type Context struct {
	*testing.Stub

	OwnUnit string
	Config  map[string]interface{}
	Leader  bool
	Address string

	Relations []*Relation
	Secrets   map[string]map[string]string

	Status        hooktool.Status
	StatusMessage string
	Version       string
	Ports         []string

	ActionParams  map[string]interface{}
	ActionResults map[string]string
	ActionFailure string
}

// NewContext returns an empty fake context.
func NewContext(ownUnit string) *Context {
	return &Context{
		Stub:    &testing.Stub{},
		OwnUnit: ownUnit,
		Config:  map[string]interface{}{},
		Secrets: map[string]map[string]string{},
	}
}

// AddRelation registers a relation and returns it for mutation.
func (c *Context) AddRelation(rel *Relation) *Relation {
	if rel.Units == nil {
		rel.Units = map[string]hooktool.Settings{}
	}
	if rel.LocalAppData == nil {
		rel.LocalAppData = hooktool.Settings{}
	}
	if rel.LocalUnitData == nil {
		rel.LocalUnitData = hooktool.Settings{}
	}
	c.Relations = append(c.Relations, rel)
	return rel
}

// Relation returns the registered relation with the given id, or nil.
func (c *Context) Relation(id int) *Relation {
	for _, rel := range c.Relations {
		if rel.ID == id {
			return rel
		}
	}
	return nil
}

func (c *Context) ConfigGet() (map[string]interface{}, error) {
	c.AddCall("ConfigGet")
	return c.Config, c.NextErr()
}

func (c *Context) RelationIDs(name string) ([]int, error) {
	c.AddCall("RelationIDs", name)
	if err := c.NextErr(); err != nil {
		return nil, err
	}
	var ids []int
	for _, rel := range c.Relations {
		if rel.Name == name {
			ids = append(ids, rel.ID)
		}
	}
	return ids, nil
}

func (c *Context) RelationListUnits(id int) ([]string, error) {
	c.AddCall("RelationListUnits", id)
	if err := c.NextErr(); err != nil {
		return nil, err
	}
	rel := c.Relation(id)
	if rel == nil {
		return nil, errors.NotFoundf("relation %d", id)
	}
	var units []string
	for unit := range rel.Units {
		units = append(units, unit)
	}
	if len(units) == 0 && rel.RemoteApp != "" {
		units = append(units, rel.RemoteApp+"/0")
	}
	sort.Strings(units)
	return units, nil
}

func (c *Context) RelationGetUnit(id int, unit string) (hooktool.Settings, error) {
	c.AddCall("RelationGetUnit", id, unit)
	if err := c.NextErr(); err != nil {
		return nil, err
	}
	rel := c.Relation(id)
	if rel == nil {
		return nil, errors.NotFoundf("relation %d", id)
	}
	if unit == c.OwnUnit {
		return rel.LocalUnitData, nil
	}
	return rel.Units[unit], nil
}

func (c *Context) RelationGetApp(id int, app string) (hooktool.Settings, error) {
	c.AddCall("RelationGetApp", id, app)
	if err := c.NextErr(); err != nil {
		return nil, err
	}
	rel := c.Relation(id)
	if rel == nil {
		return nil, errors.NotFoundf("relation %d", id)
	}
	if app == ownApp(c.OwnUnit) {
		return rel.LocalAppData, nil
	}
	return rel.AppData, nil
}

func (c *Context) RelationSetUnit(id int, settings hooktool.Settings) error {
	c.AddCall("RelationSetUnit", id, settings)
	if err := c.NextErr(); err != nil {
		return err
	}
	rel := c.Relation(id)
	if rel == nil {
		return errors.NotFoundf("relation %d", id)
	}
	rel.LocalUnitData.Merge(settings)
	return nil
}

func (c *Context) RelationSetApp(id int, settings hooktool.Settings) error {
	c.AddCall("RelationSetApp", id, settings)
	if err := c.NextErr(); err != nil {
		return err
	}
	rel := c.Relation(id)
	if rel == nil {
		return errors.NotFoundf("relation %d", id)
	}
	rel.LocalAppData.Merge(settings)
	return nil
}

func (c *Context) IsLeader() (bool, error) {
	c.AddCall("IsLeader")
	return c.Leader, c.NextErr()
}

func (c *Context) PrivateAddress() (string, error) {
	c.AddCall("PrivateAddress")
	return c.Address, c.NextErr()
}

func (c *Context) StatusSet(status hooktool.Status, message string) error {
	c.AddCall("StatusSet", status, message)
	if err := c.NextErr(); err != nil {
		return err
	}
	c.Status = status
	c.StatusMessage = message
	return nil
}

func (c *Context) ApplicationVersionSet(version string) error {
	c.AddCall("ApplicationVersionSet", version)
	if err := c.NextErr(); err != nil {
		return err
	}
	c.Version = version
	return nil
}

func (c *Context) OpenPort(protocol string, port int) error {
	c.AddCall("OpenPort", protocol, port)
	if err := c.NextErr(); err != nil {
		return err
	}
	c.Ports = append(c.Ports, portString(port, protocol))
	return nil
}

func (c *Context) OpenedPorts() ([]string, error) {
	c.AddCall("OpenedPorts")
	return c.Ports, c.NextErr()
}

func (c *Context) SecretAdd(label string, content map[string]string) (string, error) {
	c.AddCall("SecretAdd", label, content)
	if err := c.NextErr(); err != nil {
		return "", err
	}
	c.Secrets[label] = content
	return "secret://" + label, nil
}

func (c *Context) SecretGet(label string) (map[string]string, error) {
	c.AddCall("SecretGet", label)
	if err := c.NextErr(); err != nil {
		return nil, err
	}
	content, ok := c.Secrets[label]
	if !ok {
		return nil, errors.Annotatef(hooktool.SecretNotFound, "label %q", label)
	}
	return content, nil
}

func (c *Context) SecretSet(label string, content map[string]string) error {
	c.AddCall("SecretSet", label, content)
	if err := c.NextErr(); err != nil {
		return err
	}
	c.Secrets[label] = content
	return nil
}

func (c *Context) ActionGet() (map[string]interface{}, error) {
	c.AddCall("ActionGet")
	return c.ActionParams, c.NextErr()
}

func (c *Context) ActionSet(values map[string]string) error {
	c.AddCall("ActionSet", values)
	if err := c.NextErr(); err != nil {
		return err
	}
	c.ActionResults = values
	return nil
}

func (c *Context) ActionFail(message string) error {
	c.AddCall("ActionFail", message)
	if err := c.NextErr(); err != nil {
		return err
	}
	c.ActionFailure = message
	return nil
}

func ownApp(unit string) string {
	return strings.SplitN(unit, "/", 2)[0]
}

func portString(port int, protocol string) string {
	return strconv.Itoa(port) + "/" + protocol
}
