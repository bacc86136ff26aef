// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package admin provisions broker topics for a run behind a circuit breaker, so an
// unreachable broker fails the setup phase quickly instead of timing out once per topic.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/absmach/fluxbench/transport"
	"github.com/sony/gobreaker"
)

// Defaults.
const (
	DefaultTimeout          = 30 * time.Second
	DefaultFailureThreshold = 5
	DefaultResetTimeout     = 30 * time.Second
)

// ErrUnavailable is returned once the breaker has opened.
var ErrUnavailable = errors.New("topic administration unavailable")

// Config configures topic provisioning.
type Config struct {
	// Recreate deletes every topic before creating it, discarding messages of earlier runs.
	Recreate bool
	// Timeout bounds each administrative request.
	Timeout          time.Duration
	FailureThreshold uint32
	ResetTimeout     time.Duration
}

func (c *Config) setDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = DefaultResetTimeout
	}
}

// Manager creates and deletes topics through a transport.Admin.
type Manager struct {
	admin   transport.Admin
	cfg     Config
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// New creates a manager. A nil admin is replaced by transport.NopAdmin.
func New(admin transport.Admin, cfg Config, logger *slog.Logger) *Manager {
	cfg.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if admin == nil {
		admin = transport.NopAdmin{}
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "topic-admin",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("admin circuit breaker state changed",
				slog.String("name", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
	return &Manager{admin: admin, cfg: cfg, breaker: breaker, logger: logger}
}

// Prepare provisions every unique prefix, deleting it first when Recreate is set.
func (m *Manager) Prepare(ctx context.Context, prefixes []string) error {
	topics := unique(prefixes)
	if len(topics) == 0 {
		return nil
	}
	start := time.Now()
	if m.cfg.Recreate {
		if err := m.Delete(ctx, topics); err != nil {
			return err
		}
	}
	if err := m.Create(ctx, topics); err != nil {
		return err
	}
	m.logger.Info("topics prepared",
		slog.Int("topics", len(topics)),
		slog.Bool("recreated", m.cfg.Recreate),
		slog.Duration("took", time.Since(start)))
	return nil
}

// Create creates topics one by one.
func (m *Manager) Create(ctx context.Context, topics []string) error {
	return m.each(ctx, "create", topics, m.admin.CreateTopics)
}

// Delete deletes topics one by one.
func (m *Manager) Delete(ctx context.Context, topics []string) error {
	return m.each(ctx, "delete", topics, m.admin.DeleteTopics)
}

// Close closes the underlying admin.
func (m *Manager) Close() error {
	return m.admin.Close()
}

// State returns the breaker state.
func (m *Manager) State() gobreaker.State {
	return m.breaker.State()
}

func (m *Manager) each(ctx context.Context, op string, topics []string, fn func(context.Context, ...string) error) error {
	var errs []error
	for _, t := range topics {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := m.breaker.Execute(func() (interface{}, error) {
			rctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
			defer cancel()
			return nil, fn(rctx, t)
		})
		switch {
		case err == nil:
			m.logger.Debug("topic "+op+"d", slog.String("topic", t))
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			errs = append(errs, fmt.Errorf("%w: %s %s: %w", ErrUnavailable, op, t, err))
			return errors.Join(errs...)
		default:
			m.logger.Error("topic "+op+" failed", slog.String("topic", t), slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("%s topic %s: %w", op, t, err))
		}
	}
	return errors.Join(errs...)
}

func unique(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s != "" {
			out = append(out, s)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
