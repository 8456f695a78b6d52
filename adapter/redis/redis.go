// Package redis publishes render job completions to a Redis channel.
//
// Each completed or failed job becomes one JSON PUBLISH on a
// configurable channel, so downstream consumers (library scanners,
// notification bots) can react without polling output directories.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/cadenzalab/bmsrender/adapter"
)

// DefaultChannel is the default pub/sub channel name.
const DefaultChannel = "bmsrender:job_completed"

// DefaultTimeout is the default per-publish timeout.
const DefaultTimeout = 5 * time.Second

// DefaultRetries is the default number of retry attempts.
const DefaultRetries = 3

// Config configures the Redis pub/sub adapter.
type Config struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Channel is the pub/sub channel name (default: bmsrender:job_completed).
	Channel string
	// Timeout is the per-publish timeout (default 5s).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure (default 3).
	Retries int
}

// Adapter publishes job completion events via Redis PUBLISH.
type Adapter struct {
	client  *goredis.Client
	channel string
	timeout time.Duration
	retries int
}

// New creates a Redis pub/sub adapter from the given config.
// Returns an error if the URL is empty or invalid.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}

	a := &Adapter{
		client:  goredis.NewClient(opts),
		channel: cfg.Channel,
		timeout: cfg.Timeout,
		retries: cfg.Retries,
	}
	if a.channel == "" {
		a.channel = DefaultChannel
	}
	if a.timeout <= 0 {
		a.timeout = DefaultTimeout
	}
	return a, nil
}

// Publish sends the event as one JSON PUBLISH on the configured
// channel, retrying transient failures with exponential backoff.
func (a *Adapter) Publish(ctx context.Context, event *adapter.JobCompletedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}

	attempts := 1 + a.retries
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if err := sleepBackoff(ctx, i); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("redis: context canceled: %w", err)
		}

		publishCtx, cancel := context.WithTimeout(ctx, a.timeout)
		lastErr = a.client.Publish(publishCtx, a.channel, body).Err()
		cancel()
		if lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("redis: failed after %d attempts: %w", attempts, lastErr)
}

// sleepBackoff waits 500ms doubled per attempt, or until ctx is done.
func sleepBackoff(ctx context.Context, attempt int) error {
	delay := time.Duration(1<<uint(attempt-1)) * 500 * time.Millisecond
	select {
	case <-ctx.Done():
		return fmt.Errorf("redis: context canceled during backoff: %w", ctx.Err())
	case <-time.After(delay):
		return nil
	}
}

// Close releases adapter resources.
func (a *Adapter) Close() error {
	return a.client.Close()
}

// Verify Adapter implements the adapter interface.
var _ adapter.Adapter = (*Adapter)(nil)
