// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package kafka implements transport sessions on top of franz-go. The topic of a
// message is the Kafka topic and the key travels as the record key.
package kafka

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/absmach/fluxbench/transport"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl/scram"
)

// Defaults.
const (
	DefaultMaxBufferedRecords = 100_000
	DefaultDeliveryTimeout    = 30 * time.Second
	DefaultPartitions         = 1
	DefaultReplicationFactor  = 1
)

// Config configures Kafka sessions.
type Config struct {
	Brokers  []string
	ClientID string

	// MaxBufferedRecords bounds the producer's in-flight records. Send returns
	// transport.ErrCapacity once it is reached.
	MaxBufferedRecords int
	DeliveryTimeout    time.Duration
	Linger             time.Duration

	Group string

	Partitions        int32
	ReplicationFactor int16

	TLS      bool
	Username string
	Password string
}

func (c *Config) setDefaults() {
	if c.MaxBufferedRecords <= 0 {
		c.MaxBufferedRecords = DefaultMaxBufferedRecords
	}
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = DefaultDeliveryTimeout
	}
	if c.Partitions <= 0 {
		c.Partitions = DefaultPartitions
	}
	if c.ReplicationFactor <= 0 {
		c.ReplicationFactor = DefaultReplicationFactor
	}
}

// Validate checks the broker list.
func (c Config) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("%w: no kafka brokers", transport.ErrInvalidAddress)
	}
	for _, b := range c.Brokers {
		if err := transport.ValidateAddress(b); err != nil {
			return err
		}
	}
	return nil
}

func (c Config) baseOpts() []kgo.Opt {
	opts := []kgo.Opt{kgo.SeedBrokers(c.Brokers...)}
	if c.ClientID != "" {
		opts = append(opts, kgo.ClientID(c.ClientID))
	}
	if c.TLS {
		opts = append(opts, kgo.DialTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12}))
	}
	if c.Username != "" {
		opts = append(opts, kgo.SASL(scram.Auth{User: c.Username, Pass: c.Password}.AsSha512Mechanism()))
	}
	return opts
}

// Producer sends records asynchronously. Delivery failures reported by the client
// are counted and logged.
type Producer struct {
	client   *kgo.Client
	capacity int64
	logger   *slog.Logger

	failed atomic.Uint64
	closed atomic.Bool
}

var _ transport.Producer = (*Producer)(nil)

// NewProducer creates a producer client. No connection is made until the first send.
func NewProducer(cfg Config, logger *slog.Logger) (*Producer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	opts := append(cfg.baseOpts(),
		kgo.MaxBufferedRecords(cfg.MaxBufferedRecords),
		kgo.RecordDeliveryTimeout(cfg.DeliveryTimeout),
		kgo.ProducerLinger(cfg.Linger),
	)
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return &Producer{
		client:   client,
		capacity: int64(cfg.MaxBufferedRecords),
		logger:   logger,
	}, nil
}

// Send enqueues one record.
func (p *Producer) Send(ctx context.Context, topic, key string, payload []byte) error {
	if p.closed.Load() {
		return transport.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.client.BufferedProduceRecords() >= p.capacity {
		return transport.ErrCapacity
	}
	rec := &kgo.Record{Topic: topic, Key: []byte(key), Value: payload}
	p.client.Produce(ctx, rec, p.delivered)
	return nil
}

func (p *Producer) delivered(r *kgo.Record, err error) {
	if err == nil {
		return
	}
	n := p.failed.Add(1)
	if errors.Is(err, kgo.ErrClientClosed) {
		return
	}
	// Delivery failures tend to arrive in bursts; log a sample.
	if n == 1 || n%1000 == 0 {
		p.logger.Warn("kafka delivery failed",
			slog.String("topic", r.Topic),
			slog.Uint64("failed", n),
			slog.String("error", err.Error()))
	}
}

// Failed returns the number of records the client gave up delivering.
func (p *Producer) Failed() uint64 {
	return p.failed.Load()
}

// Flush waits until every buffered record is acknowledged or failed.
func (p *Producer) Flush(ctx context.Context) error {
	if p.closed.Load() {
		return transport.ErrClosed
	}
	if err := p.client.Flush(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %d records buffered", transport.ErrFlushTimeout, p.client.BufferedProduceRecords())
		}
		return err
	}
	return nil
}

// Close closes the client. Unflushed records are failed.
func (p *Producer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	p.client.Close()
	return nil
}

// Consumer reads records through a consumer group, starting from the earliest offset
// for groups without committed offsets.
type Consumer struct {
	client  *kgo.Client
	pending []*kgo.Record
	closed  atomic.Bool
}

var _ transport.Consumer = (*Consumer)(nil)

// NewConsumer creates a consumer of topics.
func NewConsumer(cfg Config, topics []string) (*Consumer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(topics) == 0 {
		return nil, errors.New("kafka consumer needs at least one topic")
	}
	if cfg.Group == "" {
		return nil, errors.New("kafka consumer needs a group id")
	}

	opts := append(cfg.baseOpts(),
		kgo.ConsumeTopics(topics...),
		kgo.ConsumerGroup(cfg.Group),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	return &Consumer{client: client}, nil
}

// Poll returns the next record, fetching a new batch when the local one is drained.
func (c *Consumer) Poll(ctx context.Context, timeout time.Duration) (*transport.Message, error) {
	if c.closed.Load() {
		return nil, transport.ErrClosed
	}
	if len(c.pending) == 0 {
		if err := c.fetch(ctx, timeout); err != nil && len(c.pending) == 0 {
			return nil, err
		}
		if len(c.pending) == 0 {
			return nil, nil
		}
	}
	r := c.pending[0]
	c.pending[0] = nil
	c.pending = c.pending[1:]
	return &transport.Message{Topic: r.Topic, Key: string(r.Key), Payload: r.Value}, nil
}

func (c *Consumer) fetch(ctx context.Context, timeout time.Duration) error {
	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fetches := c.client.PollFetches(pollCtx)
	if fetches.IsClientClosed() {
		return transport.ErrClosed
	}
	// Records already fetched were committed by the group, so they are kept even when
	// ctx ended during the poll. Records of healthy partitions stay queued when
	// another partition failed.
	c.pending = fetches.Records()
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, fe := range fetches.Errors() {
		if errors.Is(fe.Err, context.DeadlineExceeded) || errors.Is(fe.Err, context.Canceled) {
			continue
		}
		return fmt.Errorf("fetch %s/%d: %w", fe.Topic, fe.Partition, fe.Err)
	}
	return nil
}

// Close leaves the group and closes the client.
func (c *Consumer) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.client.Close()
	return nil
}
