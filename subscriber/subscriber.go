// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package subscriber consumes messages from a broker and records the identity of every
// message it receives.
package subscriber

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/absmach/fluxbench/identity"
	"github.com/absmach/fluxbench/internal/state"
	"github.com/absmach/fluxbench/ledger"
	"github.com/absmach/fluxbench/metrics"
	"github.com/absmach/fluxbench/transport"
	"github.com/dustin/go-humanize"
)

// Defaults.
const (
	DefaultPollTimeout  = time.Second
	DefaultBatchSize    = 10_000
	DefaultErrorBackoff = 100 * time.Millisecond
)

// ErrStopped is returned by Begin once the subscriber has been stopped.
var ErrStopped = errors.New("subscriber stopped")

// Config configures a subscriber.
type Config struct {
	PollTimeout  time.Duration
	BatchSize    int
	ErrorBackoff time.Duration
}

func (c *Config) setDefaults() {
	if c.PollTimeout <= 0 {
		c.PollTimeout = DefaultPollTimeout
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = DefaultErrorBackoff
	}
}

// Stats is a snapshot of subscriber counters.
type Stats struct {
	Received uint64        `json:"received"`
	Errors   uint64        `json:"errors"`
	Elapsed  time.Duration `json:"elapsed"`
	Rate     float64       `json:"rate"` // messages per second
}

// Subscriber runs the receive loop in its own goroutine.
type Subscriber struct {
	consumer transport.Consumer
	cfg      Config
	metrics  *metrics.Metrics
	logger   *slog.Logger

	state  *state.Machine
	ledger *ledger.Ledger

	received  atomic.Uint64
	pollErrs  atomic.Uint64
	startedAt atomic.Int64
	stoppedAt atomic.Int64
}

// New creates an idle subscriber. m may be nil.
func New(consumer transport.Consumer, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Subscriber {
	cfg.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{
		consumer: consumer,
		cfg:      cfg,
		metrics:  m,
		logger:   logger,
		state:    state.New(),
		ledger:   ledger.New(cfg.BatchSize),
	}
}

// Begin starts the receive loop. Calling it again while the loop runs does nothing;
// calling it after End returns ErrStopped.
func (s *Subscriber) Begin() error {
	if s.state.Transition(state.StateIdle, state.StateRunning) {
		s.startedAt.Store(time.Now().UnixNano())
		go s.run()
		return nil
	}
	if s.state.Running() {
		return nil
	}
	return ErrStopped
}

// End asks the loop to stop. A poll in progress completes and its message is counted,
// so the loop exits within one PollTimeout. Messages the consumer already buffered
// are then drained without waiting.
func (s *Subscriber) End() {
	s.state.Stop()
}

// Wait blocks until the loop has exited.
func (s *Subscriber) Wait(ctx context.Context) error {
	return s.state.Wait(ctx)
}

// Done is closed once the loop has exited.
func (s *Subscriber) Done() <-chan struct{} {
	return s.state.Done()
}

// ReceivedHashes returns the identities recorded so far.
func (s *Subscriber) ReceivedHashes() []identity.Hash {
	return s.ledger.Snapshot()
}

// ReceivedCount returns the number of received messages.
func (s *Subscriber) ReceivedCount() uint64 {
	return s.received.Load()
}

// Stats returns the current counters.
func (s *Subscriber) Stats() Stats {
	st := Stats{
		Received: s.received.Load(),
		Errors:   s.pollErrs.Load(),
	}
	start := s.startedAt.Load()
	if start == 0 {
		return st
	}
	end := s.stoppedAt.Load()
	if end == 0 {
		end = time.Now().UnixNano()
	}
	st.Elapsed = time.Duration(end - start)
	if st.Elapsed > 0 {
		st.Rate = float64(st.Received) / st.Elapsed.Seconds()
	}
	return st
}

func (s *Subscriber) run() {
	defer s.state.Finish()

	batch := ledger.NewBatch(s.ledger, s.cfg.BatchSize)
	var hasher identity.Hasher
	lastLog := time.Now()

	s.logger.Info("subscriber started", slog.Duration("poll_timeout", s.cfg.PollTimeout))

	ctx := context.Background()
	record := func(msg *transport.Message) uint64 {
		batch.Add(hasher.Sum(msg.Topic, msg.Key, msg.Payload))
		s.metrics.RecordReceived(1)
		return s.received.Add(1)
	}

	for s.state.Running() {
		msg, err := s.consumer.Poll(ctx, s.cfg.PollTimeout)
		if err != nil {
			s.pollErrs.Add(1)
			s.metrics.RecordReceiveError()
			s.logger.Warn("poll failed", slog.String("error", err.Error()))
			if errors.Is(err, transport.ErrClosed) {
				break
			}
			s.sleep(s.cfg.ErrorBackoff)
			continue
		}
		if msg == nil {
			continue
		}

		n := record(msg)
		if batch.Pending() >= s.cfg.BatchSize {
			batch.Flush()

			now := time.Now()
			rate := float64(s.cfg.BatchSize) / now.Sub(lastLog).Seconds()
			lastLog = now
			s.logger.Info("receive progress",
				slog.String("received", humanize.Comma(int64(n))),
				slog.String("rate", humanize.Comma(int64(rate))+" msg/s"),
				slog.Uint64("errors", s.pollErrs.Load()))
		}
	}

	// Bounded so a consumer that keeps receiving cannot hold the loop open.
	for i := 0; i < s.cfg.BatchSize; i++ {
		msg, err := s.consumer.Poll(ctx, 0)
		if err != nil || msg == nil {
			break
		}
		record(msg)
	}

	batch.Flush()
	s.stoppedAt.Store(time.Now().UnixNano())

	st := s.Stats()
	s.logger.Info("subscriber stopped",
		slog.String("received", humanize.Comma(int64(st.Received))),
		slog.Uint64("errors", st.Errors),
		slog.Duration("elapsed", st.Elapsed))
}

// sleep backs off after a poll error, cut short once End was called.
func (s *Subscriber) sleep(d time.Duration) {
	const step = 10 * time.Millisecond
	for d > 0 && s.state.Running() {
		time.Sleep(min(d, step))
		d -= step
	}
}
