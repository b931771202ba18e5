// Package cql implements a Cassandra dispatcher.
//
// The dispatcher is window aware: the runner opens one session per window
// with BeginWindow and closes it with EndWindow, so a window's statements
// share a connection and the store sees bounded bursts separated by the
// runner's pacing delay.
package cql

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gocql/gocql"

	"github.com/pithecene-io/lmsmig/adapter"
	"github.com/pithecene-io/lmsmig/types"
)

// DefaultPort is the default native protocol port.
const DefaultPort = 9042

// DefaultTimeout is the default per-statement timeout.
const DefaultTimeout = 15 * time.Second

// Config configures the Cassandra dispatcher.
type Config struct {
	// Hosts are the contact points (required).
	Hosts []string
	// Port is the native protocol port (default 9042).
	Port int
	// Keyspace is the session keyspace.
	Keyspace string
	// Consistency is a gocql consistency name (default quorum).
	Consistency string
	// Timeout is the per-statement timeout (default 15s).
	Timeout time.Duration
}

// ParseConnectionURL splits cassandra://host[:port] into host and port.
func ParseConnectionURL(raw string) (string, int, error) {
	if !strings.Contains(raw, "://") {
		raw = "cassandra://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", 0, fmt.Errorf("invalid connection url: %w", err)
	}
	if u.Hostname() == "" {
		return "", 0, fmt.Errorf("invalid connection url %q: missing host", raw)
	}
	port := DefaultPort
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return "", 0, fmt.Errorf("invalid connection url port %q: %w", p, err)
		}
	}
	return u.Hostname(), port, nil
}

// Session executes single statements.
type Session interface {
	// Exec runs stmt. For conditional statements (IF ...) it reports
	// whether the condition held; other statements always report applied.
	Exec(ctx context.Context, stmt string, args ...any) (applied bool, err error)
	Close()
}

// Opener creates sessions.
type Opener func() (Session, error)

// Dispatcher executes CQL statements.
type Dispatcher struct {
	open    Opener
	session Session
	// window is true between BeginWindow and EndWindow.
	window bool
}

// New creates a dispatcher backed by a gocql cluster. No connection is
// made until the first window or statement.
func New(cfg Config) (*Dispatcher, error) {
	if len(cfg.Hosts) == 0 {
		return nil, errors.New("cql dispatcher requires at least one host")
	}
	if cfg.Port <= 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	consistency := gocql.Quorum
	if cfg.Consistency != "" {
		c, err := gocql.ParseConsistencyWrapper(cfg.Consistency)
		if err != nil {
			return nil, fmt.Errorf("cql dispatcher: %w", err)
		}
		consistency = c
	}

	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Port = cfg.Port
	cluster.Keyspace = cfg.Keyspace
	cluster.Consistency = consistency
	cluster.Timeout = cfg.Timeout
	cluster.ConnectTimeout = cfg.Timeout

	return NewWithOpener(func() (Session, error) {
		s, err := cluster.CreateSession()
		if err != nil {
			return nil, err
		}
		return &gocqlSession{s: s}, nil
	}), nil
}

// NewWithOpener creates a dispatcher over a custom session source.
func NewWithOpener(open Opener) *Dispatcher {
	return &Dispatcher{open: open}
}

// BeginWindow opens the session used by the window's statements.
func (d *Dispatcher) BeginWindow(_ context.Context) error {
	d.closeSession()
	d.window = true
	return d.ensureSession()
}

// EndWindow closes the window's session.
func (d *Dispatcher) EndWindow(_ context.Context) error {
	d.window = false
	d.closeSession()
	return nil
}

// Dispatch executes req.Target with req.Args. A conditional statement that
// is not applied fails with types.ErrNotApplied.
func (d *Dispatcher) Dispatch(ctx context.Context, req types.Request) (types.Response, error) {
	if err := d.ensureSession(); err != nil {
		return types.Response{}, err
	}
	// Outside a window each statement gets its own session.
	if !d.window {
		defer d.closeSession()
	}

	applied, err := d.session.Exec(ctx, req.Target, req.Args...)
	if err != nil {
		return types.Response{}, fmt.Errorf("cql: %w", err)
	}
	if !applied {
		return types.Response{}, types.ErrNotApplied
	}
	return types.Response{}, nil
}

// Close releases any open session.
func (d *Dispatcher) Close() error {
	d.window = false
	d.closeSession()
	return nil
}

func (d *Dispatcher) ensureSession() error {
	if d.session != nil {
		return nil
	}
	s, err := d.open()
	if err != nil {
		return fmt.Errorf("cql: open session: %w", err)
	}
	d.session = s
	return nil
}

func (d *Dispatcher) closeSession() {
	if d.session != nil {
		d.session.Close()
		d.session = nil
	}
}

type gocqlSession struct {
	s *gocql.Session
}

func (g *gocqlSession) Exec(ctx context.Context, stmt string, args ...any) (bool, error) {
	q := g.s.Query(stmt, args...).WithContext(ctx)
	if !isConditional(stmt) {
		return true, q.Exec()
	}
	return q.MapScanCAS(map[string]any{})
}

func (g *gocqlSession) Close() {
	g.s.Close()
}

// isConditional reports whether stmt is a lightweight transaction.
func isConditional(stmt string) bool {
	return strings.Contains(strings.ToUpper(stmt), " IF ")
}

// Verify Dispatcher implements the adapter interfaces.
var (
	_ adapter.Dispatcher  = (*Dispatcher)(nil)
	_ adapter.WindowAware = (*Dispatcher)(nil)
)
