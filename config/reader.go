package config

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/a8m/envsubst"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Format is the encoding of a configuration file.
type Format string

// Supported formats.
const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatOf returns the format of a file by extension. Anything but .yaml and .yml is JSON.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Read reads, expands and validates a configuration file.
func Read(path string) (*Config, error) {
	buf, err := envsubst.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read config %s", path)
	}
	cfg, err := FromBytes(buf, FormatOf(path))
	if err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	cfg.ConfigFilePath = path
	return cfg, nil
}

// FromBytes decodes and validates a configuration. Environment variables must already be
// expanded.
func FromBytes(buf []byte, format Format) (*Config, error) {
	var cfg Config
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(buf))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return nil, errors.Wrap(err, "failed to decode config from yaml")
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(buf))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return nil, errors.Wrap(err, "failed to decode config from json")
		}
	}
	cfg.EnsureIDs()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// StatePath returns the state file of cfg, resolved against the directory of its file.
func (c *Config) StatePath() string {
	p := c.Daemon.StateFile
	if p == "" {
		p = DefaultStateFile
	}
	if filepath.IsAbs(p) || c.ConfigFilePath == "" {
		return p
	}
	return filepath.Join(filepath.Dir(c.ConfigFilePath), p)
}
