package cql

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pithecene-io/lmsmig/types"
)

type execCall struct {
	stmt string
	args []any
}

type fakeSession struct {
	id      int
	calls   *[]execCall
	applied bool
	err     error
	closed  bool
}

func (f *fakeSession) Exec(_ context.Context, stmt string, args ...any) (bool, error) {
	*f.calls = append(*f.calls, execCall{stmt: stmt, args: args})
	return f.applied, f.err
}

func (f *fakeSession) Close() { f.closed = true }

type fakeCluster struct {
	sessions []*fakeSession
	calls    []execCall
	applied  bool
	execErr  error
	openErr  error
}

func (c *fakeCluster) open() (Session, error) {
	if c.openErr != nil {
		return nil, c.openErr
	}
	s := &fakeSession{id: len(c.sessions) + 1, calls: &c.calls, applied: c.applied, err: c.execErr}
	c.sessions = append(c.sessions, s)
	return s, nil
}

func req(stmt string, args ...any) types.Request {
	return types.Request{Backend: types.BackendCQL, Method: "EXECUTE", Target: stmt, Args: args}
}

func TestWindow_OneSessionPerWindow(t *testing.T) {
	c := &fakeCluster{applied: true}
	d := NewWithOpener(c.open)
	ctx := t.Context()

	for w := 0; w < 2; w++ {
		require.NoError(t, d.BeginWindow(ctx))
		for i := 0; i < 3; i++ {
			_, err := d.Dispatch(ctx, req("UPDATE ks.t SET a = ? WHERE k = ?", "v", i))
			require.NoError(t, err)
		}
		require.NoError(t, d.EndWindow(ctx))
	}

	require.Len(t, c.sessions, 2)
	assert.True(t, c.sessions[0].closed)
	assert.True(t, c.sessions[1].closed)
	assert.Len(t, c.calls, 6)
	assert.Equal(t, []any{"v", 2}, c.calls[5].args)
}

func TestDispatch_OutsideWindowUsesShortSession(t *testing.T) {
	c := &fakeCluster{applied: true}
	d := NewWithOpener(c.open)

	_, err := d.Dispatch(t.Context(), req("UPDATE ks.t SET a = 1"))
	require.NoError(t, err)
	_, err = d.Dispatch(t.Context(), req("UPDATE ks.t SET a = 2"))
	require.NoError(t, err)

	require.Len(t, c.sessions, 2)
	assert.True(t, c.sessions[0].closed)
	assert.True(t, c.sessions[1].closed)
}

func TestDispatch_NotApplied(t *testing.T) {
	c := &fakeCluster{applied: false}
	d := NewWithOpener(c.open)

	_, err := d.Dispatch(t.Context(), req("UPDATE ks.user_enrolments SET completedon = ? WHERE userid = ? IF EXISTS", "d", "u"))
	assert.ErrorIs(t, err, types.ErrNotApplied)
}

func TestDispatch_ExecError(t *testing.T) {
	c := &fakeCluster{execErr: errors.New("timeout")}
	d := NewWithOpener(c.open)

	_, err := d.Dispatch(t.Context(), req("UPDATE x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}

func TestDispatch_OpenError(t *testing.T) {
	c := &fakeCluster{openErr: errors.New("no hosts available")}
	d := NewWithOpener(c.open)

	assert.Error(t, d.BeginWindow(t.Context()))
	_, err := d.Dispatch(t.Context(), req("UPDATE x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open session")
}

func TestClose_ClosesOpenSession(t *testing.T) {
	c := &fakeCluster{applied: true}
	d := NewWithOpener(c.open)
	require.NoError(t, d.BeginWindow(t.Context()))
	require.NoError(t, d.Close())
	assert.True(t, c.sessions[0].closed)
}

func TestParseConnectionURL(t *testing.T) {
	host, port, err := ParseConnectionURL("cassandra://db.local:9142")
	require.NoError(t, err)
	assert.Equal(t, "db.local", host)
	assert.Equal(t, 9142, port)

	host, port, err = ParseConnectionURL("localhost")
	require.NoError(t, err)
	assert.Equal(t, "localhost", host)
	assert.Equal(t, DefaultPort, port)

	_, _, err = ParseConnectionURL("cassandra://:9042")
	assert.Error(t, err)

	_, _, err = ParseConnectionURL("cassandra://h:port")
	assert.Error(t, err)
}

func TestIsConditional(t *testing.T) {
	assert.True(t, isConditional("UPDATE t SET a = 1 WHERE k = 1 IF EXISTS"))
	assert.True(t, isConditional("update t set a = 1 where k = 1 if a = 0"))
	assert.False(t, isConditional("UPDATE t SET start_date = ? WHERE courseid = ?"))
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	_, err = New(Config{Hosts: []string{"h"}, Consistency: "bogus"})
	assert.Error(t, err)

	d, err := New(Config{Hosts: []string{"h"}, Consistency: "LOCAL_QUORUM"})
	require.NoError(t, err)
	require.NoError(t, d.Close())
}
