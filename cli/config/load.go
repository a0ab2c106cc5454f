package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML config file, expands environment variables, and
// unmarshals into a Config struct. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := decodeFile(path, "config", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadManifest reads an entry manifest. JSON manifests parse as YAML.
// Entries are not validated here; the run validates them.
func LoadManifest(path string) (*Manifest, error) {
	var m Manifest
	if err := decodeFile(path, "manifest", &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func decodeFile(path, kind string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s file not found: %s", kind, path)
		}
		return fmt.Errorf("cannot read %s file %q: %w", kind, path, err)
	}

	expanded, err := ExpandEnv(string(data))
	if err != nil {
		return fmt.Errorf("%s %s: %w", kind, path, err)
	}

	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		// Empty, whitespace-only and comment-only files decode to nothing.
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid YAML in %s: %w", path, err)
	}
	return nil
}
