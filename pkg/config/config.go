// Package config loads ember's host-level Configuration from YAML: the
// numeric/host knobs of vm.Config that make sense as data, as opposed to
// the resolver/foreign-binding hooks that stay code.
package config

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/kristofer/ember/pkg/vm"
)

// Configuration is the on-disk shape of a host's VM tuning knobs, module
// search roots, and the optional compiled-module cache path.
type Configuration struct {
	InitialHeapSize   int      `yaml:"initial_heap_size"`
	MinHeapSize       int      `yaml:"min_heap_size"`
	HeapGrowthPercent int      `yaml:"heap_growth_percent"`
	LogLevel          string   `yaml:"log_level"`
	ModulePaths       []string `yaml:"module_paths"`
	ModuleCachePath   string   `yaml:"module_cache_path"`
}

// Default returns the zero-value Configuration's effective settings,
// matching vm.New's own defaults so a host that skips config loading
// entirely still behaves identically to one that loads an empty file.
func Default() Configuration {
	return Configuration{LogLevel: "info"}
}

// Load reads and parses a YAML configuration file.
func Load(path string) (Configuration, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// ZerologLevel parses LogLevel, defaulting to info on an empty or
// unrecognized string rather than erroring -- a malformed log_level
// shouldn't prevent the VM from starting.
func (c Configuration) ZerologLevel() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Validate checks every ModulePaths entry exists and is a directory,
// collecting every problem rather than bailing on the first -- a host
// with three bad search roots deserves all three complaints in one
// error, not a fix-one-rerun-see-the-next cycle.
func (c Configuration) Validate() error {
	var result *multierror.Error
	for _, p := range c.ModulePaths {
		info, err := os.Stat(p)
		switch {
		case err != nil:
			result = multierror.Append(result, fmt.Errorf("module path %q: %w", p, err))
		case !info.IsDir():
			result = multierror.Append(result, fmt.Errorf("module path %q is not a directory", p))
		}
	}
	return result.ErrorOrNil()
}

// VMConfig builds a vm.Config seeded from the loaded settings, leaving
// the host to fill in ResolveModule/LoadModule/foreign-binding hooks and
// Write/Error sinks -- those stay code, never YAML.
func (c Configuration) VMConfig(logger zerolog.Logger) vm.Config {
	return vm.Config{
		InitialHeapSize:   c.InitialHeapSize,
		MinHeapSize:       c.MinHeapSize,
		HeapGrowthPercent: c.HeapGrowthPercent,
		Logger:            logger.Level(c.ZerologLevel()),
	}
}
