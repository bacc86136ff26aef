// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit paces message sends to a target rate.
package ratelimit

import (
	"context"
	"errors"

	"golang.org/x/time/rate"
)

var errInvalidRate = errors.New("rate limit must be positive when enabled")

// Config holds publish rate limiting settings.
type Config struct {
	Enabled bool    `yaml:"enabled"`
	Rate    float64 `yaml:"rate"`  // messages per second
	Burst   int     `yaml:"burst"` // burst allowance
}

// DefaultConfig returns a disabled limiter configuration.
func DefaultConfig() Config {
	return Config{
		Enabled: false,
		Rate:    10_000,
		Burst:   1000,
	}
}

// Validate checks an enabled configuration.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Rate <= 0 {
		return errInvalidRate
	}
	return nil
}

// Limiter blocks senders to keep them under the configured rate. A nil Limiter never
// blocks.
type Limiter struct {
	limiter *rate.Limiter
}

// New creates a limiter, or returns nil when limiting is disabled.
func New(cfg Config) *Limiter {
	if !cfg.Enabled || cfg.Rate <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(cfg.Rate), burst)}
}

// Wait blocks until one send is allowed or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	return l.limiter.Wait(ctx)
}

// Allow reports whether one send may happen now.
func (l *Limiter) Allow() bool {
	if l == nil {
		return true
	}
	return l.limiter.Allow()
}

// Rate returns the configured rate, or zero for an unlimited limiter.
func (l *Limiter) Rate() float64 {
	if l == nil {
		return 0
	}
	return float64(l.limiter.Limit())
}
