// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config is the optional configuration file, by default ~/.config/kernelcache/config.yaml.
// Pointers distinguish "not set" from zero values.
type Config struct {
	Backend   string `yaml:"backend"`
	DebugSync *bool  `yaml:"debug_sync"`
	Verbosity *int   `yaml:"verbosity"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "kernelcache", "config.yaml")
}

// loadConfig reads the config file. A missing file is only an error if it was explicitly requested.
func loadConfig(path string, required bool) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !required {
			return cfg, nil
		}
		return cfg, errors.Wrapf(err, "reading config file %q", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parsing config file %q", path)
	}
	return cfg, nil
}

// apply sets the global flags not explicitly given in the command line.
func (cfg Config) apply(cmd *cli.Command) {
	if cfg.Backend != "" && !cmd.IsSet("backend") {
		flagBackend = cfg.Backend
	}
	if cfg.DebugSync != nil && !cmd.IsSet("debug-sync") {
		flagDebugSync = *cfg.DebugSync
	}
	if cfg.Verbosity != nil && !cmd.IsSet("v") {
		flagVerbosity = *cfg.Verbosity
	}
}
