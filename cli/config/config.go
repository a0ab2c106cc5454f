package config

import (
	"fmt"
	"time"

	"github.com/pithecene-io/zipline/types"
)

// Config represents a zipline.yaml configuration file.
// All values are optional and act as defaults for zipline run and serve flags.
// CLI flags always override config values.
type Config struct {
	Output    string               `yaml:"output"`
	Sink      string               `yaml:"sink"`
	Dir       string               `yaml:"dir"`
	Overwrite bool                 `yaml:"overwrite"`
	Entries   []types.EntryRequest `yaml:"entries"`
	Fetch     FetchConfig          `yaml:"fetch"`
	Storage   StorageConfig        `yaml:"storage"`
	Adapter   AdapterConfig        `yaml:"adapter"`
	Serve     ServeConfig          `yaml:"serve"`
}

// FetchConfig holds HTTP fetch defaults.
type FetchConfig struct {
	Timeout   Duration          `yaml:"timeout"`
	UserAgent string            `yaml:"user_agent"`
	ChunkSize int               `yaml:"chunk_size"`
	Headers   map[string]string `yaml:"headers,omitempty"`
	Proxy     ProxyConfig       `yaml:"proxy"`
}

// ProxyConfig holds the forward proxy pool for fetches.
type ProxyConfig struct {
	Endpoints []string `yaml:"endpoints"`
	Strategy  string   `yaml:"strategy"`
	StickyTTL Duration `yaml:"sticky_ttl"`
}

// StorageConfig holds store sink defaults from the config file.
type StorageConfig struct {
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// AdapterConfig holds adapter defaults from the config file.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Stream  string            `yaml:"stream,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// ServeConfig holds zipline serve defaults.
type ServeConfig struct {
	Addr string `yaml:"addr"`
	// ShutdownTimeout bounds graceful shutdown (default 10s).
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// Manifest is a standalone list of entries, in YAML or JSON.
type Manifest struct {
	// Output is the suggested archive name.
	Output  string               `yaml:"output" json:"output"`
	Entries []types.EntryRequest `yaml:"entries" json:"entries"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}
