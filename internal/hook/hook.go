// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package hook provides types that describe the Juju hook invocation the
// operator binary is servicing.
package hook

import (
	"strconv"
	"strings"

	"github.com/juju/errors"
)

// Kind enumerates the hook kinds the operator reacts to. Relation hooks are
// collapsed onto a single kind per suffix; the reconciler is holistic, so it
// only needs to know that relation data may have changed, not which key did.
type Kind string

const (
	Install          Kind = "install"
	Start            Kind = "start"
	Stop             Kind = "stop"
	Remove           Kind = "remove"
	ConfigChanged    Kind = "config-changed"
	UpdateStatus     Kind = "update-status"
	UpgradeCharm     Kind = "upgrade-charm"
	LeaderElected    Kind = "leader-elected"
	LeaderDeposed    Kind = "leader-deposed"
	SecretChanged    Kind = "secret-changed"
	SecretRotate     Kind = "secret-rotate"
	PebbleReady      Kind = "pebble-ready"
	PebbleCheck      Kind = "pebble-check-failed"
	RelationCreated  Kind = "relation-created"
	RelationJoined   Kind = "relation-joined"
	RelationChanged  Kind = "relation-changed"
	RelationDeparted Kind = "relation-departed"
	RelationBroken   Kind = "relation-broken"
	Action           Kind = "action"
)

// relationSuffixes maps hook name suffixes to relation hook kinds.
var relationSuffixes = map[string]Kind{
	"-relation-created":  RelationCreated,
	"-relation-joined":   RelationJoined,
	"-relation-changed":  RelationChanged,
	"-relation-departed": RelationDeparted,
	"-relation-broken":   RelationBroken,
}

// Info holds the context of a single hook invocation, as parsed from the
// environment Juju sets up for the dispatch process.
type Info struct {
	Kind Kind

	// Name is the full hook name as dispatched, e.g. "config-changed" or
	// "profiling-endpoint-relation-changed".
	Name string

	// UnitName and AppName identify this unit, e.g. "parca-k8s/0".
	UnitName string
	AppName  string

	// ModelName and ModelUUID identify the hosting model.
	ModelName string
	ModelUUID string

	// CharmDir is the charm root directory.
	CharmDir string

	// RelationName and RelationID are only set for relation hooks.
	RelationName string
	RelationID   int

	// RemoteUnit is set for relation hooks triggered by a counterpart unit.
	RemoteUnit string

	// WorkloadName is set for pebble-ready and pebble-check hooks.
	WorkloadName string

	// ActionName is set when Kind is Action.
	ActionName string
}

// Environ is the subset of the process environment Info is parsed from.
// os.Getenv satisfies it.
type Environ func(key string) string

// Parse builds an Info from the Juju hook environment.
func Parse(getenv Environ) (Info, error) {
	info := Info{
		Name:      getenv("JUJU_HOOK_NAME"),
		UnitName:  getenv("JUJU_UNIT_NAME"),
		ModelName: getenv("JUJU_MODEL_NAME"),
		ModelUUID: getenv("JUJU_MODEL_UUID"),
		CharmDir:  getenv("JUJU_CHARM_DIR"),
	}
	if info.UnitName == "" {
		return Info{}, errors.NotValidf("hook environment without JUJU_UNIT_NAME")
	}
	if i := strings.IndexRune(info.UnitName, '/'); i > 0 {
		info.AppName = info.UnitName[:i]
	} else {
		return Info{}, errors.NotValidf("unit name %q", info.UnitName)
	}

	if action := getenv("JUJU_ACTION_NAME"); action != "" {
		info.Kind = Action
		info.ActionName = action
		return info, nil
	}

	if info.Name == "" {
		// Older dispatch scripts only set JUJU_DISPATCH_PATH.
		path := getenv("JUJU_DISPATCH_PATH")
		info.Name = strings.TrimPrefix(path, "hooks/")
	}
	if info.Name == "" {
		return Info{}, errors.NotValidf("hook environment without a hook name")
	}

	info.Kind = Kind(info.Name)
	for suffix, kind := range relationSuffixes {
		if strings.HasSuffix(info.Name, suffix) {
			info.Kind = kind
			info.RelationName = strings.TrimSuffix(info.Name, suffix)
			break
		}
	}
	switch {
	case strings.HasSuffix(info.Name, "-pebble-ready"):
		info.Kind = PebbleReady
		info.WorkloadName = getenv("JUJU_WORKLOAD_NAME")
		if info.WorkloadName == "" {
			info.WorkloadName = strings.TrimSuffix(info.Name, "-pebble-ready")
		}
	case strings.HasSuffix(info.Name, "-pebble-check-failed"):
		info.Kind = PebbleCheck
		info.WorkloadName = getenv("JUJU_WORKLOAD_NAME")
	}

	if relID := getenv("JUJU_RELATION_ID"); relID != "" {
		// Relation ids come through as "<name>:<id>".
		idPart := relID
		if i := strings.LastIndexByte(relID, ':'); i >= 0 {
			idPart = relID[i+1:]
		}
		id, err := strconv.Atoi(idPart)
		if err != nil {
			return Info{}, errors.NotValidf("relation id %q", relID)
		}
		info.RelationID = id
		info.RemoteUnit = getenv("JUJU_REMOTE_UNIT")
	} else {
		info.RelationID = -1
	}
	return info, nil
}

// Validate returns an error if the info is inconsistent for its kind.
func (i Info) Validate() error {
	switch i.Kind {
	case RelationCreated, RelationJoined, RelationChanged, RelationDeparted, RelationBroken:
		if i.RelationName == "" || i.RelationID < 0 {
			return errors.NotValidf("%q hook without relation context", i.Name)
		}
	case PebbleReady, PebbleCheck:
		if i.WorkloadName == "" {
			return errors.NotValidf("%q hook without workload name", i.Name)
		}
	case Action:
		if i.ActionName == "" {
			return errors.NotValidf("action invocation without action name")
		}
	}
	return nil
}
