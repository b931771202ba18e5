// Package kafka implements a Kafka event-queue dispatcher.
//
// Each request body is written as one message value. Writes are
// synchronous so every event gets its own step result; the runner window
// size, not the producer, paces the queue.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/pithecene-io/lmsmig/adapter"
	"github.com/pithecene-io/lmsmig/types"
)

// DefaultTimeout is the default per-message write timeout.
const DefaultTimeout = 10 * time.Second

// Config configures the Kafka dispatcher.
type Config struct {
	// Brokers are the bootstrap addresses (required).
	Brokers []string
	// Topic is used when a request has no target (required).
	Topic string
	// Timeout is the per-message write timeout (default 10s).
	Timeout time.Duration
}

// messageWriter is the subset of *kafkago.Writer the dispatcher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Dispatcher writes events to Kafka.
type Dispatcher struct {
	config Config
	writer messageWriter
}

// New creates a Kafka dispatcher. No connection is made until the first
// Dispatch.
func New(cfg Config) (*Dispatcher, error) {
	if err := applyDefaults(&cfg); err != nil {
		return nil, err
	}
	// One message per produce request: a synchronous write would
	// otherwise wait out BatchTimeout for a batch that never fills.
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Balancer:     &kafkago.LeastBytes{},
		BatchSize:    1,
		WriteTimeout: cfg.Timeout,
		RequiredAcks: kafkago.RequireAll,
	}
	return newWithWriter(cfg, w), nil
}

func newWithWriter(cfg Config, w messageWriter) *Dispatcher {
	return &Dispatcher{config: cfg, writer: w}
}

func applyDefaults(cfg *Config) error {
	if len(cfg.Brokers) == 0 {
		return errors.New("kafka dispatcher requires at least one broker")
	}
	if cfg.Topic == "" {
		return errors.New("kafka dispatcher requires a topic")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return nil
}

// Dispatch writes the request body to the request target topic, or to the
// configured topic when the target is empty.
func (d *Dispatcher) Dispatch(ctx context.Context, req types.Request) (types.Response, error) {
	topic := req.Target
	if topic == "" {
		topic = d.config.Topic
	}

	writeCtx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	defer cancel()

	msg := kafkago.Message{Topic: topic, Value: req.Body}
	if err := d.writer.WriteMessages(writeCtx, msg); err != nil {
		return types.Response{}, fmt.Errorf("kafka: write to %s: %w", topic, err)
	}
	return types.Response{}, nil
}

// Close flushes pending writes and releases the writer.
func (d *Dispatcher) Close() error {
	return d.writer.Close()
}

// Verify Dispatcher implements the adapter interface.
var _ adapter.Dispatcher = (*Dispatcher)(nil)
