// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package nats implements transport sessions on core NATS. The subject of a message is
// its full dotted path, so generated paths are used unchanged.
package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/absmach/fluxbench/identity"
	"github.com/absmach/fluxbench/transport"
	"github.com/nats-io/nats.go"
)

// Defaults.
const (
	DefaultReconnectBuffer = 64 * 1024 * 1024
	DefaultConnectTimeout  = 10 * time.Second
	DefaultBuffer          = 100_000

	fallbackFlushTimeout = 10 * time.Second
)

// Config configures NATS sessions.
type Config struct {
	// Servers are host:port addresses.
	Servers  []string
	Name     string
	Username string
	Password string
	Token    string
	// ReconnectBuffer bounds bytes buffered while reconnecting; publishes beyond it
	// fail with transport.ErrCapacity.
	ReconnectBuffer int
	ConnectTimeout  time.Duration
	// Group makes subscriptions queue subscriptions.
	Group string
	// Buffer is the depth of the receive queue.
	Buffer int
}

// Validate checks the server list.
func (c Config) Validate() error {
	if len(c.Servers) == 0 {
		return fmt.Errorf("%w: no nats servers", transport.ErrInvalidAddress)
	}
	for _, s := range c.Servers {
		if err := transport.ValidateAddress(s); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.ReconnectBuffer <= 0 {
		c.ReconnectBuffer = DefaultReconnectBuffer
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Buffer <= 0 {
		c.Buffer = DefaultBuffer
	}
}

// URL returns the comma separated server URL list.
func (c Config) URL() string {
	urls := make([]string, len(c.Servers))
	for i, s := range c.Servers {
		urls[i] = "nats://" + s
	}
	return strings.Join(urls, ",")
}

func (c Config) options(logger *slog.Logger, onError func(error)) []nats.Option {
	opts := []nats.Option{
		nats.Timeout(c.ConnectTimeout),
		nats.ReconnectBufSize(c.ReconnectBuffer),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", slog.String("addr", nc.ConnectedAddr()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			logger.Warn("nats async error", slog.String("error", err.Error()))
			if onError != nil {
				onError(err)
			}
		}),
	}
	if c.Name != "" {
		opts = append(opts, nats.Name(c.Name))
	}
	if c.Username != "" {
		opts = append(opts, nats.UserInfo(c.Username, c.Password))
	}
	if c.Token != "" {
		opts = append(opts, nats.Token(c.Token))
	}
	return opts
}

// mapError converts client errors to transport errors.
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, nats.ErrReconnectBufExceeded):
		return fmt.Errorf("%w: %w", transport.ErrCapacity, err)
	case errors.Is(err, nats.ErrConnectionClosed), errors.Is(err, nats.ErrBadSubscription):
		return fmt.Errorf("%w: %w", transport.ErrClosed, err)
	default:
		return err
	}
}

// Producer publishes on subject topic.key.
type Producer struct {
	nc *nats.Conn
}

var _ transport.Producer = (*Producer)(nil)

// NewProducer connects a publishing client.
func NewProducer(cfg Config, logger *slog.Logger) (*Producer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(cfg.URL(), cfg.options(logger, nil)...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &Producer{nc: nc}, nil
}

// Send publishes one message.
func (p *Producer) Send(ctx context.Context, topic, key string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return mapError(p.nc.Publish(identity.Join(topic, key), payload))
}

// Flush round-trips to the server so every prior publish was processed.
func (p *Producer) Flush(ctx context.Context) error {
	var err error
	if _, ok := ctx.Deadline(); ok {
		err = p.nc.FlushWithContext(ctx)
	} else {
		err = p.nc.FlushTimeout(fallbackFlushTimeout)
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, nats.ErrTimeout):
		return fmt.Errorf("%w: %w", transport.ErrFlushTimeout, err)
	default:
		return mapError(err)
	}
}

// Close closes the connection.
func (p *Producer) Close() error {
	p.nc.Close()
	return nil
}

// Consumer receives messages of its subjects through a channel subscription.
type Consumer struct {
	nc     *nats.Conn
	subs   []*nats.Subscription
	msgs   chan *nats.Msg
	errs   chan error
	closed atomic.Bool
}

var _ transport.Consumer = (*Consumer)(nil)

// NewConsumer connects and subscribes to subjects, which may use NATS wildcards.
func NewConsumer(cfg Config, subjects []string, logger *slog.Logger) (*Consumer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(subjects) == 0 {
		return nil, errors.New("nats consumer needs at least one subject")
	}
	cfg.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	c := &Consumer{
		msgs: make(chan *nats.Msg, cfg.Buffer),
		errs: make(chan error, 16),
	}
	nc, err := nats.Connect(cfg.URL(), cfg.options(logger, c.report)...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	c.nc = nc

	for _, s := range subjects {
		var sub *nats.Subscription
		if cfg.Group != "" {
			sub, err = nc.ChanQueueSubscribe(s, cfg.Group, c.msgs)
		} else {
			sub, err = nc.ChanSubscribe(s, c.msgs)
		}
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("nats subscribe %s: %w", s, err)
		}
		c.subs = append(c.subs, sub)
	}
	if err := nc.FlushTimeout(cfg.ConnectTimeout); err != nil {
		nc.Close()
		return nil, fmt.Errorf("nats subscribe flush: %w", err)
	}
	return c, nil
}

func (c *Consumer) report(err error) {
	select {
	case c.errs <- err:
	default:
	}
}

// Poll returns the next message, an asynchronous error such as a slow consumer
// notice, or (nil, nil) after timeout.
func (c *Consumer) Poll(ctx context.Context, timeout time.Duration) (*transport.Message, error) {
	if c.closed.Load() {
		return nil, transport.ErrClosed
	}
	select {
	case m := <-c.msgs:
		return &transport.Message{Topic: m.Subject, Payload: m.Data}, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case m := <-c.msgs:
		return &transport.Message{Topic: m.Subject, Payload: m.Data}, nil
	case err := <-c.errs:
		return nil, mapError(err)
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close unsubscribes and closes the connection.
func (c *Consumer) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	for _, s := range c.subs {
		_ = s.Unsubscribe()
	}
	c.nc.Close()
	return nil
}
