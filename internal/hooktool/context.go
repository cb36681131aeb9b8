// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package hooktool speaks to the jujuc hook tools that Juju places on the
// PATH of a dispatching hook. It is the operator's only channel back to the
// controller: config, relation data, leadership, status, ports, secrets and
// action results all go through it.
package hooktool

import (
	"os"

	"github.com/juju/errors"
)

// Status is a unit workload status value understood by status-set.
type Status string

const (
	StatusMaintenance Status = "maintenance"
	StatusBlocked     Status = "blocked"
	StatusWaiting     Status = "waiting"
	StatusActive      Status = "active"
)

// Settings is a relation databag: a flat map of string keys to string
// values. Empty values delete keys on write.
type Settings map[string]string

// SecretNotFound describes a missing unit secret. secret-get exits non-zero
// for unknown labels; callers that bootstrap secrets need to tell that apart
// from tool failure.
var SecretNotFound = errors.ConstError("secret not found")

// Context is the hook tool surface the reconciler consumes. The production
// implementation execs the jujuc tools; tests substitute a fake.
type Context interface {
	// ConfigGet returns all charm config options.
	ConfigGet() (map[string]interface{}, error)

	// RelationIDs returns the ids of all established relations with the
	// given endpoint name.
	RelationIDs(name string) ([]int, error)

	// RelationListUnits returns the remote unit names present in a relation.
	RelationListUnits(id int) ([]string, error)

	// RelationGetUnit returns the databag a remote unit has published.
	RelationGetUnit(id int, unit string) (Settings, error)

	// RelationGetApp returns the application databag the remote (or own,
	// when unit is this unit's application) application has published.
	RelationGetApp(id int, app string) (Settings, error)

	// RelationSetUnit writes settings into this unit's databag.
	RelationSetUnit(id int, settings Settings) error

	// RelationSetApp writes settings into the application databag.
	// Leader only.
	RelationSetApp(id int, settings Settings) error

	// IsLeader reports whether this unit holds application leadership.
	IsLeader() (bool, error)

	// PrivateAddress returns the unit's private address.
	PrivateAddress() (string, error)

	// StatusSet sets the unit workload status.
	StatusSet(status Status, message string) error

	// ApplicationVersionSet records the workload version shown in status.
	ApplicationVersionSet(version string) error

	// OpenPort opens port/protocol on the unit.
	OpenPort(protocol string, port int) error

	// OpenedPorts lists ports already opened by the unit.
	OpenedPorts() ([]string, error)

	// SecretAdd creates a unit-owned secret and returns its URI.
	SecretAdd(label string, content map[string]string) (string, error)

	// SecretGet returns the content of a secret by label.
	SecretGet(label string) (map[string]string, error)

	// SecretSet updates the content of a secret by label.
	SecretSet(label string, content map[string]string) error

	// ActionGet returns the parameters of the running action.
	ActionGet() (map[string]interface{}, error)

	// ActionSet records action results.
	ActionSet(values map[string]string) error

	// ActionFail marks the running action failed.
	ActionFail(message string) error
}

// NewContext returns a Context backed by the hook tools on the PATH.
func NewContext() Context {
	return &toolContext{runner: execRunner{}}
}

// Getenv is exposed for the dispatch entry point; hook tools inherit the
// full hook environment from the process.
func Getenv(key string) string {
	return os.Getenv(key)
}
