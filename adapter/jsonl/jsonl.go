// Package jsonl implements a dispatcher that appends each request body as
// one line of a JSON Lines file.
package jsonl

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pithecene-io/lmsmig/adapter"
	"github.com/pithecene-io/lmsmig/types"
)

// Dispatcher writes events to a JSONL file. The file is created (or
// truncated) when the first window begins or the first line is written,
// so a run that fails before dispatching leaves an existing file intact.
type Dispatcher struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	buf    *bufio.Writer
	lines  int
	closed bool
}

// New validates path. Nothing is created until the file is first opened.
func New(path string) (*Dispatcher, error) {
	if path == "" {
		return nil, errors.New("jsonl dispatcher requires a path")
	}
	return &Dispatcher{path: path}, nil
}

// open creates the parent directories and the file. Callers hold d.mu.
func (d *Dispatcher) open() error {
	if d.closed {
		return fmt.Errorf("jsonl: %s is closed", d.path)
	}
	if d.buf != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
		return fmt.Errorf("jsonl: create dir: %w", err)
	}
	f, err := os.Create(d.path)
	if err != nil {
		return fmt.Errorf("jsonl: create %s: %w", d.path, err)
	}
	d.file = f
	d.buf = bufio.NewWriter(f)
	return nil
}

// BeginWindow opens the file on the first window.
func (d *Dispatcher) BeginWindow(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open()
}

// EndWindow flushes the window's lines to disk.
func (d *Dispatcher) EndWindow(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.buf == nil {
		return nil
	}
	if err := d.buf.Flush(); err != nil {
		return fmt.Errorf("jsonl: flush: %w", err)
	}
	return nil
}

// Dispatch appends req.Body as one line. Bodies containing a newline are
// rejected since they would split the record.
func (d *Dispatcher) Dispatch(_ context.Context, req types.Request) (types.Response, error) {
	if bytes.ContainsAny(req.Body, "\r\n") {
		return types.Response{}, errors.New("jsonl: body contains a line break")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.open(); err != nil {
		return types.Response{}, err
	}
	if _, err := d.buf.Write(req.Body); err != nil {
		return types.Response{}, fmt.Errorf("jsonl: write: %w", err)
	}
	if err := d.buf.WriteByte('\n'); err != nil {
		return types.Response{}, fmt.Errorf("jsonl: write: %w", err)
	}
	d.lines++
	return types.Response{}, nil
}

// Lines returns the number of lines written so far.
func (d *Dispatcher) Lines() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lines
}

// Path returns the output path.
func (d *Dispatcher) Path() string {
	return d.path
}

// Close flushes and closes the file.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closed = true
	if d.buf == nil {
		return nil
	}
	flushErr := d.buf.Flush()
	closeErr := d.file.Close()
	d.buf = nil
	return errors.Join(flushErr, closeErr)
}

// Verify Dispatcher implements the adapter interfaces.
var (
	_ adapter.Dispatcher  = (*Dispatcher)(nil)
	_ adapter.WindowAware = (*Dispatcher)(nil)
)
