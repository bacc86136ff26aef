// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package publisher drains a message source into a broker producer as fast as the
// producer accepts messages, recording the identity of every accepted message.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/absmach/fluxbench/generator"
	"github.com/absmach/fluxbench/identity"
	"github.com/absmach/fluxbench/internal/state"
	"github.com/absmach/fluxbench/ledger"
	"github.com/absmach/fluxbench/metrics"
	"github.com/absmach/fluxbench/ratelimit"
	"github.com/absmach/fluxbench/transport"
	"github.com/dustin/go-humanize"
)

// Defaults.
const (
	DefaultBatchSize         = 10_000
	DefaultFlushTimeout      = time.Second
	DefaultFinalFlushTimeout = 10 * time.Second
	DefaultMaxBackoffDepth   = 10
)

var (
	// ErrStopped is returned by Begin once the publisher has been stopped.
	ErrStopped = errors.New("publisher stopped")
	// ErrBackoffExhausted reports a message dropped after every flush round failed to
	// make room for it.
	ErrBackoffExhausted = errors.New("send backoff exhausted")
)

// Config configures a publisher.
type Config struct {
	// BatchSize is the number of sends between periodic flushes and ledger appends.
	BatchSize         int
	FlushTimeout      time.Duration
	FinalFlushTimeout time.Duration
	// MaxBackoffDepth bounds the flush-and-retry rounds spent on a single message.
	MaxBackoffDepth int
	RateLimit       ratelimit.Config
}

func (c *Config) setDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = DefaultFlushTimeout
	}
	if c.FinalFlushTimeout <= 0 {
		c.FinalFlushTimeout = DefaultFinalFlushTimeout
	}
	if c.MaxBackoffDepth <= 0 {
		c.MaxBackoffDepth = DefaultMaxBackoffDepth
	}
}

// Stats is a snapshot of publisher counters.
type Stats struct {
	Sent    uint64        `json:"sent"`
	Failed  uint64        `json:"failed"`
	Retries uint64        `json:"retries"`
	Elapsed time.Duration `json:"elapsed"`
	Rate    float64       `json:"rate"` // messages per second
}

// Publisher runs the send loop in its own goroutine.
type Publisher struct {
	producer transport.Producer
	source   generator.Source
	cfg      Config
	limiter  *ratelimit.Limiter
	metrics  *metrics.Metrics
	logger   *slog.Logger

	state  *state.Machine
	ledger *ledger.Ledger
	ctx    context.Context
	cancel context.CancelFunc

	sent      atomic.Uint64
	failed    atomic.Uint64
	retries   atomic.Uint64
	startedAt atomic.Int64
	stoppedAt atomic.Int64
}

// New creates an idle publisher. m may be nil.
func New(producer transport.Producer, source generator.Source, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Publisher {
	cfg.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Publisher{
		producer: producer,
		source:   source,
		cfg:      cfg,
		limiter:  ratelimit.New(cfg.RateLimit),
		metrics:  m,
		logger:   logger,
		state:    state.New(),
		ledger:   ledger.New(cfg.BatchSize),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Begin starts the send loop. Calling it again while the loop runs does nothing;
// calling it after End returns ErrStopped.
func (p *Publisher) Begin() error {
	if p.state.Transition(state.StateIdle, state.StateRunning) {
		p.startedAt.Store(time.Now().UnixNano())
		go p.run()
		return nil
	}
	if p.state.Running() {
		return nil
	}
	return ErrStopped
}

// End asks the loop to stop after the message in hand. Buffered messages are still
// flushed before the loop exits.
func (p *Publisher) End() {
	p.state.Stop()
	p.cancel()
}

// Wait blocks until the loop has exited.
func (p *Publisher) Wait(ctx context.Context) error {
	return p.state.Wait(ctx)
}

// Done is closed once the loop has exited.
func (p *Publisher) Done() <-chan struct{} {
	return p.state.Done()
}

// SentHashes returns the identities of accepted messages recorded so far.
func (p *Publisher) SentHashes() []identity.Hash {
	return p.ledger.Snapshot()
}

// SentCount returns the number of accepted messages.
func (p *Publisher) SentCount() uint64 {
	return p.sent.Load()
}

// Stats returns the current counters.
func (p *Publisher) Stats() Stats {
	s := Stats{
		Sent:    p.sent.Load(),
		Failed:  p.failed.Load(),
		Retries: p.retries.Load(),
	}
	start := p.startedAt.Load()
	if start == 0 {
		return s
	}
	end := p.stoppedAt.Load()
	if end == 0 {
		end = time.Now().UnixNano()
	}
	s.Elapsed = time.Duration(end - start)
	if s.Elapsed > 0 {
		s.Rate = float64(s.Sent) / s.Elapsed.Seconds()
	}
	return s
}

func (p *Publisher) run() {
	defer p.state.Finish()

	batch := ledger.NewBatch(p.ledger, p.cfg.BatchSize)
	var hasher identity.Hasher
	lastLog := time.Now()

	p.logger.Info("publisher started",
		slog.Int("batch_size", p.cfg.BatchSize),
		slog.Float64("rate_limit", p.limiter.Rate()))

	for p.state.Running() {
		msg, err := p.source.Next(p.ctx)
		if err != nil {
			if errors.Is(err, generator.ErrExhausted) {
				p.logger.Info("message source exhausted")
			} else if p.ctx.Err() == nil {
				p.logger.Error("message source failed", slog.String("error", err.Error()))
			}
			break
		}
		if err := p.limiter.Wait(p.ctx); err != nil {
			break
		}

		h := hasher.Sum(msg.Topic, msg.Key, msg.Payload)
		if err := p.send(msg); err != nil {
			p.failed.Add(1)
			p.metrics.RecordFailed(failureReason(err))
			p.logger.Warn("message dropped",
				slog.String("topic", msg.Topic),
				slog.String("key", msg.Key),
				slog.String("error", err.Error()))
			continue
		}
		batch.Add(h)
		p.sent.Add(1)
		p.metrics.RecordSent(1)

		if batch.Pending() >= p.cfg.BatchSize {
			if err := p.flush(p.cfg.FlushTimeout); err != nil {
				p.logger.Warn("batch flush incomplete", slog.String("error", err.Error()))
			}
			batch.Flush()

			now := time.Now()
			batchRate := float64(p.cfg.BatchSize) / now.Sub(lastLog).Seconds()
			lastLog = now
			st := p.Stats()
			p.logger.Info("publish progress",
				slog.String("sent", humanize.Comma(int64(st.Sent))),
				slog.String("rate", humanize.Comma(int64(st.Rate))+" msg/s"),
				slog.String("batch_rate", humanize.Comma(int64(batchRate))+" msg/s"),
				slog.Uint64("failed", p.failed.Load()),
				slog.Uint64("retries", p.retries.Load()))
		}
	}

	if err := p.flush(p.cfg.FinalFlushTimeout); err != nil {
		p.logger.Warn("final flush incomplete", slog.String("error", err.Error()))
	}
	batch.Flush()
	p.stoppedAt.Store(time.Now().UnixNano())

	s := p.Stats()
	p.logger.Info("publisher stopped",
		slog.String("sent", humanize.Comma(int64(s.Sent))),
		slog.Uint64("failed", s.Failed),
		slog.Uint64("retries", s.Retries),
		slog.String("rate", humanize.Comma(int64(s.Rate))+" msg/s"),
		slog.Duration("elapsed", s.Elapsed))
}

// send delivers msg to the producer. A full local queue is drained by flushing with a
// timeout that grows with every round, and the same message is retried. After
// MaxBackoffDepth rounds the message is given up.
func (p *Publisher) send(msg generator.Message) error {
	for depth := 0; ; depth++ {
		err := p.producer.Send(context.Background(), msg.Topic, msg.Key, msg.Payload)
		if err == nil {
			return nil
		}
		if !transport.IsTransient(err) {
			return err
		}
		if depth >= p.cfg.MaxBackoffDepth {
			return fmt.Errorf("%w after %d flushes: %w", ErrBackoffExhausted, depth, err)
		}
		p.retries.Add(1)
		p.metrics.RecordRetry()
		timeout := p.cfg.FlushTimeout * time.Duration(min(depth, p.cfg.MaxBackoffDepth)+1)
		if err := p.flush(timeout); err != nil {
			p.logger.Debug("backoff flush incomplete",
				slog.Int("depth", depth),
				slog.String("error", err.Error()))
		}
	}
}

func (p *Publisher) flush(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()
	err := p.producer.Flush(ctx)
	p.metrics.RecordFlush(time.Since(start))
	return err
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrBackoffExhausted):
		return "backoff_exhausted"
	case errors.Is(err, transport.ErrClosed):
		return "closed"
	default:
		return "rejected"
	}
}
