// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package hooktool

import (
	"github.com/juju/errors"
	"gopkg.in/yaml.v3"
)

// marshalSettingsYAML renders settings as the YAML mapping relation-set
// accepts on --file.
func marshalSettingsYAML(settings Settings) ([]byte, error) {
	data, err := yaml.Marshal(map[string]string(settings))
	if err != nil {
		return nil, errors.Trace(err)
	}
	return data, nil
}

// Get returns the value for key, and whether it is present and non-empty.
func (s Settings) Get(key string) (string, bool) {
	v, ok := s[key]
	return v, ok && v != ""
}

// Merge folds other into s, returning s for chaining.
func (s Settings) Merge(other Settings) Settings {
	for k, v := range other {
		s[k] = v
	}
	return s
}
