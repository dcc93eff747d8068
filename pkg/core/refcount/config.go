// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package refcount

import (
	"os"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// REFCOUNT_DEBUG is the environment variable read at initialization with the configuration of the
// package. See SetConfig for the format.
const REFCOUNT_DEBUG = "REFCOUNT_DEBUG" //nolint:revive // Named after the environment variable, as GOMLX_BACKEND.

// Config holds the package-wide debugging options.
type Config struct {
	// Track enables the registry of live objects, see LiveObjects.
	// It adds a sync.Map operation to Make and to deallocation, but nothing to the other operations.
	Track bool

	// Fatal makes an InvariantViolation terminate the program (klog.Fatal) instead of panicking.
	Fatal bool
}

// String returns the configuration in the format accepted by SetConfig.
func (c Config) String() string {
	var parts []string
	if c.Track {
		parts = append(parts, "track")
	}
	if c.Fatal {
		parts = append(parts, "fatal")
	}
	return strings.Join(parts, ",")
}

var config atomic.Pointer[Config]

func init() {
	config.Store(&Config{})
	if value, found := os.LookupEnv(REFCOUNT_DEBUG); found {
		if err := SetConfig(value); err != nil {
			klog.Errorf("ignoring $%s: %v", REFCOUNT_DEBUG, err)
		}
	}
}

func currentConfig() *Config { return config.Load() }

// CurrentConfig returns a copy of the configuration in use.
func CurrentConfig() Config { return *currentConfig() }

// ParseConfig parses a comma-separated list of options:
//
//   - "track": enables the registry of live objects (see LiveObjects).
//   - "fatal": an InvariantViolation terminates the program.
//   - "panic": an InvariantViolation panics (the default).
//
// Empty options are ignored, and an unknown option is an error.
func ParseConfig(value string) (Config, error) {
	var c Config
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		switch part {
		case "":
			continue
		case "track":
			c.Track = true
		case "fatal":
			c.Fatal = true
		case "panic":
			c.Fatal = false
		default:
			return Config{}, errors.Errorf("unknown refcount configuration option %q in %q", part, value)
		}
	}
	return c, nil
}

// SetConfig parses value (see ParseConfig) and makes it the configuration in use.
//
// Enabling "track" only registers objects created afterward.
func SetConfig(value string) error {
	c, err := ParseConfig(value)
	if err != nil {
		return err
	}
	config.Store(&c)
	return nil
}
