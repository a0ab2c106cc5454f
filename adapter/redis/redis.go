// Package redis publishes archive completion events to Redis.
//
// Every event is PUBLISHed as JSON on a pub/sub channel. When a stream is
// configured the event is also appended to it with XADD so consumers that
// were offline can catch up.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pithecene-io/zipline/adapter"
)

// DefaultChannel is the default pub/sub channel name.
const DefaultChannel = "zipline:archive_completed"

// DefaultTimeout is the default per-publish timeout.
const DefaultTimeout = 5 * time.Second

// DefaultStreamMaxLen caps the stream length (approximate trimming).
const DefaultStreamMaxLen = 10000

// Config configures the Redis adapter.
type Config struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Channel is the pub/sub channel name (default: zipline:archive_completed).
	Channel string
	// Stream is an optional stream key the event is also appended to.
	Stream string
	// StreamMaxLen caps the stream length (default 10000).
	StreamMaxLen int64
	// Timeout is the per-publish timeout (default 5s).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure.
	Retries int
	// Backoff is the delay before the first retry (default adapter.DefaultBackoff).
	Backoff time.Duration
}

// Adapter publishes archive completion events via Redis.
type Adapter struct {
	config Config
	client *goredis.Client
}

// New creates a Redis adapter from the given config.
// Returns an error if the URL is empty or invalid.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}

	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}

	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.StreamMaxLen <= 0 {
		cfg.StreamMaxLen = DefaultStreamMaxLen
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = adapter.DefaultBackoff
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}

	return &Adapter{
		config: cfg,
		client: goredis.NewClient(opts),
	}, nil
}

// Publish sends the event to the channel and, if configured, the stream.
// Both writes go out in one pipeline so a retry repeats them together.
func (a *Adapter) Publish(ctx context.Context, event *adapter.ArchiveCompletedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}

	return adapter.Retry(ctx, "redis", a.config.Retries, a.config.Backoff, func(ctx context.Context) error {
		publishCtx, cancel := context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()

		_, err := a.client.Pipelined(publishCtx, func(p goredis.Pipeliner) error {
			p.Publish(publishCtx, a.config.Channel, body)
			if a.config.Stream != "" {
				p.XAdd(publishCtx, &goredis.XAddArgs{
					Stream: a.config.Stream,
					MaxLen: a.config.StreamMaxLen,
					Approx: true,
					Values: map[string]any{
						"run_id":  event.RunID,
						"outcome": event.Outcome,
						"event":   body,
					},
				})
			}
			return nil
		})
		return err
	})
}

// Close releases adapter resources.
func (a *Adapter) Close() error {
	return a.client.Close()
}

// Verify Adapter implements the adapter interface.
var _ adapter.Adapter = (*Adapter)(nil)
