// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package charm

import (
	"github.com/juju/errors"
	"github.com/juju/schema"
)

// Config is the charm configuration.
type Config struct {
	// EnablePersistence stores profiles on disk instead of in memory.
	EnablePersistence bool

	// MemoryStorageLimitMiB bounds in-memory profile storage.
	MemoryStorageLimitMiB int
}

var configChecker = schema.FieldMap(schema.Fields{
	"enable-persistence":   schema.Bool(),
	"memory-storage-limit": schema.ForceInt(),
}, schema.Defaults{
	"enable-persistence":   false,
	"memory-storage-limit": 4096,
})

// ParseConfig validates and coerces the raw config-get payload. Unknown
// keys are ignored: Juju owns the option schema, the charm only reads the
// options it knows.
func ParseConfig(raw map[string]interface{}) (Config, error) {
	known := map[string]interface{}{}
	for _, key := range []string{"enable-persistence", "memory-storage-limit"} {
		if v, ok := raw[key]; ok && v != nil {
			known[key] = v
		}
	}
	coerced, err := configChecker.Coerce(known, nil)
	if err != nil {
		return Config{}, errors.Annotate(err, "validating charm config")
	}
	fields := coerced.(map[string]interface{})
	return Config{
		EnablePersistence:     fields["enable-persistence"].(bool),
		MemoryStorageLimitMiB: fields["memory-storage-limit"].(int),
	}, nil
}
