// Package config holds the run settings shared by the command line tools.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"
)

const (
	ModeELF = "elf"
	ModeRaw = "raw"
)

var (
	ErrInvalidMode        = errors.New("mode must be elf or raw")
	ErrDataSegmentWithELF = errors.New("a data segment can only be prepended in raw mode")
	ErrInvalidPageSize    = errors.New("page size must be a power of two")
)

// Config is the decoded form of a YAML run file. Zero fields keep their
// defaults.
type Config struct {
	Mode        string `yaml:"mode"`
	DataSegment uint32 `yaml:"data_segment"`
	Trace       bool   `yaml:"trace"`
	MaxSteps    uint64 `yaml:"max_steps"`
	LogLevel    string `yaml:"log_level"`
	LogModules  string `yaml:"log_modules"`
	Output      string `yaml:"output"` // bfc only
	PageSize    uint32 `yaml:"page_size"`
}

// Default returns the settings used when no file or flag overrides them.
func Default() Config {
	return Config{
		Mode:     ModeELF,
		LogLevel: "warn",
		Output:   "a.out",
	}
}

// Load reads a YAML file on top of Default.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Mode = strings.ToLower(cfg.Mode)
	return cfg, cfg.Validate()
}

// Validate checks the combination of settings.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeELF:
		if c.DataSegment != 0 {
			return ErrDataSegmentWithELF
		}
	case ModeRaw:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidMode, c.Mode)
	}
	if c.PageSize != 0 && c.PageSize&(c.PageSize-1) != 0 {
		return fmt.Errorf("%w: %d", ErrInvalidPageSize, c.PageSize)
	}
	return nil
}
