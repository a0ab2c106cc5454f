// Package cmd provides CLI commands for the zipline binary.
package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/zipline/fetch"
	"github.com/pithecene-io/zipline/types"
)

// Shared flags for read-only commands.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// TUIFlag enables Bubble Tea interactive mode.
	// Only valid for select read-only commands (verify, debug report).
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Enable interactive TUI mode (verify, debug report only)",
	}

	// ConfigFlag points at a zipline.yaml file.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to zipline.yaml (flags override config values)",
		EnvVars: []string{"ZIPLINE_CONFIG"},
	}
)

// ReadOnlyFlags returns the shared flags for all read-only commands.
// Includes --tui so that unsupported commands can provide explicit error messages
// instead of generic "flag not defined" errors.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
		TUIFlag,
	}
}

// TUIReadOnlyFlags returns flags for commands that support TUI mode.
// This is an alias for ReadOnlyFlags, kept for documentation clarity.
func TUIReadOnlyFlags() []cli.Flag {
	return ReadOnlyFlags()
}

// storageFlags returns the Lode store flags shared by run and debug runs.
func storageFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "storage-backend",
			Usage: "Store backend: fs or s3",
		},
		&cli.StringFlag{
			Name:  "storage-path",
			Usage: "Store path (fs: directory, s3: bucket/prefix)",
		},
		&cli.StringFlag{
			Name:  "storage-region",
			Usage: "AWS region for S3 backend (optional, uses default chain)",
		},
		&cli.StringFlag{
			Name:  "storage-endpoint",
			Usage: "Custom S3 endpoint (MinIO, R2)",
		},
		&cli.BoolFlag{
			Name:  "s3-path-style",
			Usage: "Use path-style S3 addressing",
		},
	}
}

// fetchFlags returns the HTTP fetch flags shared by run and serve.
func fetchFlags() []cli.Flag {
	return []cli.Flag{
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "Per-entry fetch timeout (0 disables)",
		},
		&cli.StringFlag{
			Name:  "user-agent",
			Usage: "User-Agent header for fetches",
			Value: fetch.DefaultUserAgent,
		},
		&cli.IntFlag{
			Name:  "chunk-size",
			Usage: "Fetch chunk size in bytes",
			Value: fetch.DefaultChunkSize,
		},
		&cli.StringSliceFlag{
			Name:  "header",
			Usage: "Extra fetch header as key=value (repeatable)",
		},
		&cli.StringSliceFlag{
			Name:  "proxy",
			Usage: "Forward proxy URL for fetches, http, https or socks5 (repeatable, forms a pool)",
		},
		&cli.StringFlag{
			Name:  "proxy-strategy",
			Usage: "Proxy pool strategy: round_robin, random or sticky (per origin)",
			Value: string(types.ProxyStrategyRoundRobin),
		},
		&cli.DurationFlag{
			Name:  "proxy-sticky-ttl",
			Usage: "Expire sticky proxy assignments after this long (0 keeps them)",
		},
	}
}
