package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	ziplineconfig "github.com/pithecene-io/zipline/cli/config"
)

// loadConfig loads --config if set. A nil config means no file was given.
func loadConfig(c *cli.Context) (*ziplineconfig.Config, error) {
	path := c.String("config")
	if path == "" {
		return nil, nil
	}
	return ziplineconfig.Load(path)
}

// configVal reads a value from cfg, or the zero value if cfg is nil.
func configVal[T any](cfg *ziplineconfig.Config, get func(*ziplineconfig.Config) T) T {
	if cfg == nil {
		var zero T
		return zero
	}
	return get(cfg)
}

// resolveString returns the flag value when explicitly set, then the
// config value when non-empty, then the flag default.
func resolveString(c *cli.Context, name, configValue string) string {
	if c.IsSet(name) {
		return c.String(name)
	}
	if configValue != "" {
		return configValue
	}
	return c.String(name)
}

// resolveInt is resolveString for int flags. Zero config values fall through.
func resolveInt(c *cli.Context, name string, configValue int) int {
	if c.IsSet(name) {
		return c.Int(name)
	}
	if configValue != 0 {
		return configValue
	}
	return c.Int(name)
}

// resolveBool prefers an explicit flag, then a true config value.
func resolveBool(c *cli.Context, name string, configValue bool) bool {
	if c.IsSet(name) {
		return c.Bool(name)
	}
	return configValue || c.Bool(name)
}

// resolveDuration is resolveString for duration flags.
func resolveDuration(c *cli.Context, name string, configValue time.Duration) time.Duration {
	if c.IsSet(name) {
		return c.Duration(name)
	}
	if configValue != 0 {
		return configValue
	}
	return c.Duration(name)
}

// parseKeyValues parses repeated key=value flags on top of base.
// Flag values win over base entries with the same key.
func parseKeyValues(flagName string, values []string, base map[string]string) (map[string]string, error) {
	if len(values) == 0 && len(base) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(base)+len(values))
	for k, v := range base {
		out[k] = v
	}
	for _, kv := range values {
		k, v, ok := strings.Cut(kv, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --%s %q: expected key=value", flagName, kv)
		}
		out[k] = strings.TrimSpace(v)
	}
	return out, nil
}
