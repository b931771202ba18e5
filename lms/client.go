package lms

import (
	"context"
	"fmt"
	"time"

	"github.com/pithecene-io/lmsmig/adapter"
	"github.com/pithecene-io/lmsmig/types"
)

// Client runs the read-only identifier lookups.
type Client struct {
	rest    adapter.Dispatcher
	builder *Builder
	timeout time.Duration
}

// NewClient creates a lookup client over a REST dispatcher.
func NewClient(rest adapter.Dispatcher, builder *Builder, timeout time.Duration) *Client {
	return &Client{rest: rest, builder: builder, timeout: timeout}
}

// FindUser resolves an email to user identifiers.
func (c *Client) FindUser(ctx context.Context, email string) ([]types.Identifier, error) {
	return c.lookup(ctx, func() (types.Request, error) { return c.builder.SearchUser(email) }, DecodeUsers)
}

// FindCourse resolves a course code to live course identifiers.
func (c *Client) FindCourse(ctx context.Context, code string) ([]types.Identifier, error) {
	return c.lookup(ctx, func() (types.Request, error) { return c.builder.SearchCourse(code) }, DecodeCourses)
}

// FindBatch resolves a batch name to batch identifiers.
func (c *Client) FindBatch(ctx context.Context, name string) ([]types.Identifier, error) {
	return c.lookup(ctx, func() (types.Request, error) { return c.builder.ListBatch(name) }, DecodeBatches)
}

func (c *Client) lookup(ctx context.Context, build func() (types.Request, error), decode func([]byte) ([]types.Identifier, error)) ([]types.Identifier, error) {
	req, err := build()
	if err != nil {
		return nil, err
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	resp, err := c.rest.Dispatch(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.Target, err)
	}
	return decode(resp.Body)
}
