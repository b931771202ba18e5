// Package redis implements a Redis event-queue dispatcher.
//
// Each request body is one JSON event. It is sent with PUBLISH to a
// pub/sub channel, or with RPUSH onto a list when the consumer drains a
// work queue instead of subscribing.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pithecene-io/lmsmig/adapter"
	"github.com/pithecene-io/lmsmig/types"
)

// DefaultChannel is the default channel or list name.
const DefaultChannel = "generate_certificate_request"

// DefaultTimeout is the default per-publish timeout.
const DefaultTimeout = 5 * time.Second

// Mode selects how events are delivered.
type Mode string

// Delivery modes.
const (
	ModePublish Mode = "publish"
	ModeList    Mode = "list"
)

// Config configures the Redis dispatcher.
type Config struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Channel is the channel (or list key) used when a request has no
	// target (default: generate_certificate_request).
	Channel string
	// Mode is publish (default) or list.
	Mode Mode
	// Timeout is the per-publish timeout (default 5s).
	Timeout time.Duration
}

// Dispatcher delivers events via Redis.
type Dispatcher struct {
	config Config
	client *goredis.Client
}

// New creates a Redis dispatcher from the given config.
// Returns an error if the URL is empty or invalid.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis dispatcher requires a URL")
	}

	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis dispatcher: invalid URL: %w", err)
	}

	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	switch cfg.Mode {
	case "":
		cfg.Mode = ModePublish
	case ModePublish, ModeList:
	default:
		return nil, fmt.Errorf("redis dispatcher: unknown mode %q", cfg.Mode)
	}

	return &Dispatcher{
		config: cfg,
		client: goredis.NewClient(opts),
	}, nil
}

// Dispatch delivers the request body to the request target, or to the
// configured channel when the target is empty.
func (d *Dispatcher) Dispatch(ctx context.Context, req types.Request) (types.Response, error) {
	if err := ctx.Err(); err != nil {
		return types.Response{}, fmt.Errorf("redis: context canceled: %w", err)
	}

	channel := req.Target
	if channel == "" {
		channel = d.config.Channel
	}

	pubCtx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	defer cancel()

	var err error
	if d.config.Mode == ModeList {
		err = d.client.RPush(pubCtx, channel, req.Body).Err()
	} else {
		err = d.client.Publish(pubCtx, channel, req.Body).Err()
	}
	if err != nil {
		return types.Response{}, fmt.Errorf("redis: %s %s: %w", d.config.Mode, channel, err)
	}
	return types.Response{}, nil
}

// Close releases dispatcher resources.
func (d *Dispatcher) Close() error {
	return d.client.Close()
}

// Verify Dispatcher implements the adapter interface.
var _ adapter.Dispatcher = (*Dispatcher)(nil)
