// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package mqtt implements transport sessions on top of the Eclipse Paho client. Dotted
// message paths are published as slash separated MQTT topics with the key folded in,
// and received topics are translated back so both sides hash the same path.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/absmach/fluxbench/identity"
	"github.com/absmach/fluxbench/topics"
	"github.com/absmach/fluxbench/transport"
	paho "github.com/eclipse/paho.mqtt.golang"
)

// Defaults.
const (
	DefaultInflight       = 10_000
	DefaultConnectTimeout = 10 * time.Second
	DefaultKeepAlive      = 30 * time.Second
	DefaultBuffer         = 100_000

	disconnectQuiesce = 250 // milliseconds
)

var errConnectTimeout = errors.New("mqtt connect timed out")

// Config configures MQTT sessions.
type Config struct {
	// Broker is a single host:port address.
	Broker   string
	ClientID string
	QoS      byte
	// Inflight bounds unacknowledged publishes; Send returns transport.ErrCapacity when
	// the window is full.
	Inflight       int
	ConnectTimeout time.Duration
	KeepAlive      time.Duration
	Username       string
	Password       string
	// Group turns subscriptions into shared subscriptions.
	Group string
	// Buffer is the depth of the receive queue.
	Buffer int
}

// Validate checks the broker address and QoS.
func (c Config) Validate() error {
	if err := transport.ValidateAddress(c.Broker); err != nil {
		return err
	}
	if c.QoS > 2 {
		return fmt.Errorf("invalid mqtt qos %d", c.QoS)
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Inflight <= 0 {
		c.Inflight = DefaultInflight
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = DefaultKeepAlive
	}
	if c.Buffer <= 0 {
		c.Buffer = DefaultBuffer
	}
}

func (c Config) clientOptions() *paho.ClientOptions {
	opts := paho.NewClientOptions().
		AddBroker("tcp://" + c.Broker).
		SetClientID(c.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetOrderMatters(false).
		SetConnectTimeout(c.ConnectTimeout).
		SetKeepAlive(c.KeepAlive).
		SetWriteTimeout(c.ConnectTimeout)
	if c.Username != "" {
		opts.SetUsername(c.Username)
		opts.SetPassword(c.Password)
	}
	return opts
}

func connect(client paho.Client, timeout time.Duration) error {
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return errConnectTimeout
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

// window tracks publish tokens that have not completed yet.
type window struct {
	limit  int
	tokens []paho.Token
}

// prune drops completed tokens from the front and returns how many of them failed.
func (w *window) prune() (failed int) {
	i := 0
	for ; i < len(w.tokens); i++ {
		t := w.tokens[i]
		select {
		case <-t.Done():
			if t.Error() != nil {
				failed++
			}
		default:
			w.tokens = w.tokens[i:]
			return failed
		}
	}
	w.tokens = w.tokens[:0]
	return failed
}

func (w *window) full() bool {
	return len(w.tokens) >= w.limit
}

func (w *window) add(t paho.Token) {
	w.tokens = append(w.tokens, t)
}

// drain waits for every token. Tokens still pending when ctx is done stay tracked.
func (w *window) drain(ctx context.Context) (failed int, err error) {
	for len(w.tokens) > 0 {
		t := w.tokens[0]
		select {
		case <-t.Done():
			if t.Error() != nil {
				failed++
			}
			w.tokens = w.tokens[1:]
		case <-ctx.Done():
			return failed, ctx.Err()
		}
	}
	return failed, nil
}

// Producer publishes with a bounded window of outstanding tokens.
type Producer struct {
	client paho.Client
	qos    byte
	logger *slog.Logger

	mu     sync.Mutex
	window window
	failed atomic.Uint64
	closed atomic.Bool
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

	opts := cfg.clientOptions().
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			logger.Warn("mqtt publisher connection lost", slog.String("error", err.Error()))
		})
	client := paho.NewClient(opts)
	if err := connect(client, cfg.ConnectTimeout); err != nil {
		return nil, err
	}
	return &Producer{
		client: client,
		qos:    cfg.QoS,
		logger: logger,
		window: window{limit: cfg.Inflight},
	}, nil
}

// Send publishes the message on the MQTT form of topic.key.
func (p *Producer) Send(ctx context.Context, topic, key string, payload []byte) error {
	if p.closed.Load() {
		return transport.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed.Add(uint64(p.window.prune()))
	if p.window.full() {
		return transport.ErrCapacity
	}
	t := p.client.Publish(topics.ToMQTT(identity.Join(topic, key)), p.qos, false, payload)
	p.window.add(t)
	return nil
}

// Flush waits for every outstanding publish.
func (p *Producer) Flush(ctx context.Context) error {
	if p.closed.Load() {
		return transport.ErrClosed
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	failed, err := p.window.drain(ctx)
	p.failed.Add(uint64(failed))
	if err != nil {
		return fmt.Errorf("%w: %d publishes outstanding", transport.ErrFlushTimeout, len(p.window.tokens))
	}
	return nil
}

// Failed returns the number of publishes whose token reported an error.
func (p *Producer) Failed() uint64 {
	return p.failed.Load()
}

// Close disconnects the client.
func (p *Producer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	p.client.Disconnect(disconnectQuiesce)
	return nil
}

// Consumer receives messages of its filters through a buffered queue.
type Consumer struct {
	client paho.Client
	msgs   chan transport.Message
	errs   chan error
	done   chan struct{}
	closed atomic.Bool
}

var _ transport.Consumer = (*Consumer)(nil)

// NewConsumer connects and subscribes to filters, given in MQTT form. Subscriptions are
// restored after every reconnect.
func NewConsumer(cfg Config, filters []string, logger *slog.Logger) (*Consumer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(filters) == 0 {
		return nil, errors.New("mqtt consumer needs at least one filter")
	}
	cfg.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	subs := make(map[string]byte, len(filters))
	for _, f := range filters {
		if err := topics.ValidateFilter(f); err != nil {
			return nil, fmt.Errorf("%w: %q", err, f)
		}
		subs[topics.Shared(cfg.Group, f)] = cfg.QoS
	}

	c := &Consumer{
		msgs: make(chan transport.Message, cfg.Buffer),
		errs: make(chan error, 16),
		done: make(chan struct{}),
	}
	subscribed := make(chan error, 1)

	opts := cfg.clientOptions().
		SetOnConnectHandler(func(client paho.Client) {
			err := waitToken(client.SubscribeMultiple(subs, c.handle), cfg.ConnectTimeout)
			select {
			case subscribed <- err:
			default:
				if err != nil {
					c.report(fmt.Errorf("resubscribe: %w", err))
				}
			}
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			logger.Warn("mqtt subscriber connection lost", slog.String("error", err.Error()))
			c.report(fmt.Errorf("mqtt connection lost: %w", err))
		})
	c.client = paho.NewClient(opts)
	if err := connect(c.client, cfg.ConnectTimeout); err != nil {
		return nil, err
	}

	select {
	case err := <-subscribed:
		if err != nil {
			c.client.Disconnect(0)
			return nil, fmt.Errorf("mqtt subscribe: %w", err)
		}
	case <-time.After(cfg.ConnectTimeout):
		c.client.Disconnect(0)
		return nil, errors.New("mqtt subscribe timed out")
	}
	return c, nil
}

func waitToken(t paho.Token, timeout time.Duration) error {
	if !t.WaitTimeout(timeout) {
		return errors.New("timed out")
	}
	return t.Error()
}

func (c *Consumer) handle(_ paho.Client, m paho.Message) {
	msg := transport.Message{Topic: topics.FromMQTT(m.Topic()), Payload: m.Payload()}
	select {
	case c.msgs <- msg:
	case <-c.done:
	}
}

func (c *Consumer) report(err error) {
	select {
	case c.errs <- err:
	default:
	}
}

// Poll returns the next message, an asynchronous session error, or (nil, nil) after
// timeout.
func (c *Consumer) Poll(ctx context.Context, timeout time.Duration) (*transport.Message, error) {
	if c.closed.Load() {
		return nil, transport.ErrClosed
	}
	select {
	case m := <-c.msgs:
		return &m, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case m := <-c.msgs:
		return &m, nil
	case err := <-c.errs:
		return nil, err
	case <-timer.C:
		return nil, nil
	case <-c.done:
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close disconnects the client.
func (c *Consumer) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	close(c.done)
	c.client.Disconnect(disconnectQuiesce)
	return nil
}
