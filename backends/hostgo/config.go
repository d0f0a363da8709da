// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hostgo

import (
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Config of the hostgo backend.
type Config struct {
	Devices      int
	Parallelism  int
	FP64, FP16   bool
	MaxGroupSize int
}

// DefaultConfig returns the configuration used for an empty config string.
func DefaultConfig() Config {
	return Config{
		Devices:      1,
		Parallelism:  runtime.NumCPU(),
		FP64:         true,
		FP16:         true,
		MaxGroupSize: 1024,
	}
}

// ParseConfig parses the backend configuration string, see package documentation.
func ParseConfig(config string) (Config, error) {
	cfg := DefaultConfig()
	for _, part := range strings.Split(config, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, hasValue := strings.Cut(part, "=")
		switch key {
		case "nofp64":
			cfg.FP64 = false
		case "nofp16":
			cfg.FP16 = false
		case "devices", "parallelism", "maxgroup":
			if !hasValue {
				return cfg, errors.Errorf("hostgo: config %q requires a value, e.g. %q", key, key+"=2")
			}
			n, err := strconv.Atoi(value)
			if err != nil {
				return cfg, errors.Wrapf(err, "hostgo: parsing config %q", part)
			}
			switch key {
			case "devices":
				if n < 1 {
					return cfg, errors.Errorf("hostgo: config %q: at least one device is required", part)
				}
				cfg.Devices = n
			case "parallelism":
				if n < -1 {
					return cfg, errors.Errorf("hostgo: config %q: parallelism must be -1 (unlimited), 0 (disabled) or positive", part)
				}
				cfg.Parallelism = n
			case "maxgroup":
				if n < 1 {
					return cfg, errors.Errorf("hostgo: config %q: max work-group size must be positive", part)
				}
				cfg.MaxGroupSize = n
			}
		default:
			return cfg, errors.Errorf("hostgo: unknown config %q, valid options are devices=N, parallelism=N, nofp64, nofp16, maxgroup=N", part)
		}
	}
	return cfg, nil
}
