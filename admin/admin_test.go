// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package admin

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/absmach/fluxbench/transport/memory"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type call struct {
	op    string
	topic string
}

type recordingAdmin struct {
	calls []call
	err   error
}

func (r *recordingAdmin) CreateTopics(_ context.Context, topics ...string) error {
	for _, t := range topics {
		r.calls = append(r.calls, call{"create", t})
	}
	return r.err
}

func (r *recordingAdmin) DeleteTopics(_ context.Context, topics ...string) error {
	for _, t := range topics {
		r.calls = append(r.calls, call{"delete", t})
	}
	return r.err
}

func (r *recordingAdmin) Close() error { return nil }

func TestPrepareMemory(t *testing.T) {
	broker := memory.NewBroker()
	m := New(broker.Admin(), Config{}, discard)

	err := m.Prepare(context.Background(), []string{"umh.v1.b", "umh.v1.a", "umh.v1.b", ""})
	require.NoError(t, err)
	assert.Equal(t, []string{"umh.v1.a", "umh.v1.b"}, broker.Topics())
	require.NoError(t, m.Close())
}

func TestPrepareRecreate(t *testing.T) {
	rec := &recordingAdmin{}
	m := New(rec, Config{Recreate: true}, discard)

	require.NoError(t, m.Prepare(context.Background(), []string{"b", "a"}))
	assert.Equal(t, []call{
		{"delete", "a"},
		{"delete", "b"},
		{"create", "a"},
		{"create", "b"},
	}, rec.calls)
}

func TestPrepareEmpty(t *testing.T) {
	rec := &recordingAdmin{}
	m := New(rec, Config{}, discard)
	require.NoError(t, m.Prepare(context.Background(), nil))
	assert.Empty(t, rec.calls)
}

func TestBreakerOpens(t *testing.T) {
	errDown := errors.New("broker unreachable")
	rec := &recordingAdmin{err: errDown}
	m := New(rec, Config{FailureThreshold: 2, ResetTimeout: time.Minute}, discard)

	err := m.Prepare(context.Background(), []string{"a", "b", "c", "d"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errDown)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)

	// Only the calls before the breaker opened reached the broker.
	assert.Len(t, rec.calls, 2)
	assert.Equal(t, gobreaker.StateOpen, m.State())

	// Later calls fail fast.
	err = m.Create(context.Background(), []string{"e"})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Len(t, rec.calls, 2)
}

func TestFailuresBelowThreshold(t *testing.T) {
	rec := &recordingAdmin{err: errors.New("denied")}
	m := New(rec, Config{FailureThreshold: 5}, discard)

	err := m.Create(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnavailable)
	assert.Len(t, rec.calls, 2)
	assert.Equal(t, gobreaker.StateClosed, m.State())
}

func TestCanceledContext(t *testing.T) {
	rec := &recordingAdmin{}
	m := New(rec, Config{}, discard)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, m.Prepare(ctx, []string{"a"}), context.Canceled)
	assert.Empty(t, rec.calls)
}

func TestNilAdmin(t *testing.T) {
	m := New(nil, Config{}, nil)
	assert.NoError(t, m.Prepare(context.Background(), []string{"a"}))
	assert.NoError(t, m.Close())
}
