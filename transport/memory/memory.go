// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package memory implements an in-process broker used for dry runs and tests. It
// routes like an MQTT broker: the key is folded into the topic and subscriptions use
// MQTT filters over the slash separated form of the path.
package memory

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/absmach/fluxbench/identity"
	"github.com/absmach/fluxbench/topics"
	"github.com/absmach/fluxbench/transport"
)

// DefaultCapacity is the pending buffer size of a producer.
const DefaultCapacity = 100_000

// Broker routes flushed messages to matching consumers.
type Broker struct {
	mu        sync.RWMutex
	consumers []*Consumer
	groups    map[string]*shareGroup
	topics    map[string]struct{}

	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

type shareGroup struct {
	members []*Consumer
	next    int
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{
		groups: make(map[string]*shareGroup),
		topics: make(map[string]struct{}),
	}
}

// Published returns the number of messages flushed into the broker.
func (b *Broker) Published() uint64 { return b.published.Load() }

// Delivered returns the number of consumer deliveries.
func (b *Broker) Delivered() uint64 { return b.delivered.Load() }

// Dropped returns the number of messages no consumer matched.
func (b *Broker) Dropped() uint64 { return b.dropped.Load() }

func (b *Broker) route(msgs []transport.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, m := range msgs {
		b.published.Add(1)
		mqttTopic := topics.ToMQTT(m.Topic)
		matched := false
		for _, c := range b.consumers {
			if c.group == "" && c.matches(mqttTopic) {
				c.push(m)
				matched = true
			}
		}
		for _, g := range b.groups {
			if c := g.pick(mqttTopic); c != nil {
				c.push(m)
				matched = true
			}
		}
		if !matched {
			b.dropped.Add(1)
		}
	}
}

// pick returns the next group member matching topic in round robin order. Callers hold
// the broker lock.
func (g *shareGroup) pick(topic string) *Consumer {
	n := len(g.members)
	for i := 0; i < n; i++ {
		c := g.members[(g.next+i)%n]
		if c.matches(topic) {
			g.next = (g.next + i + 1) % n
			return c
		}
	}
	return nil
}

// ProducerConfig configures a producer and its fault injection.
type ProducerConfig struct {
	// Capacity bounds the pending buffer; Send returns ErrCapacity when it is full.
	Capacity int
	// FailEvery makes every Nth Send call return ErrCapacity.
	FailEvery int
	// Reject, when set, is consulted on every Send; a non-nil error fails the send.
	Reject func(topic, key string) error
	// FlushDelay delays every Flush, for exercising flush timeouts.
	FlushDelay time.Duration
}

// Producer buffers sent messages until Flush hands them to the broker.
type Producer struct {
	broker *Broker
	cfg    ProducerConfig

	mu      sync.Mutex
	pending []transport.Message
	sends   uint64
	closed  bool
}

var _ transport.Producer = (*Producer)(nil)

// NewProducer creates a producer publishing to b.
func (b *Broker) NewProducer(cfg ProducerConfig) *Producer {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	return &Producer{
		broker:  b,
		cfg:     cfg,
		pending: make([]transport.Message, 0, min(cfg.Capacity, 1024)),
	}
}

// Send buffers one message.
func (p *Producer) Send(ctx context.Context, topic, key string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return transport.ErrClosed
	}
	p.sends++
	if p.cfg.Reject != nil {
		if err := p.cfg.Reject(topic, key); err != nil {
			return err
		}
	}
	if p.cfg.FailEvery > 0 && p.sends%uint64(p.cfg.FailEvery) == 0 {
		return transport.ErrCapacity
	}
	if len(p.pending) >= p.cfg.Capacity {
		return transport.ErrCapacity
	}
	p.pending = append(p.pending, transport.Message{
		Topic:   identity.Join(topic, key),
		Payload: payload,
	})
	return nil
}

// Pending returns the number of buffered messages.
func (p *Producer) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Flush routes every buffered message.
func (p *Producer) Flush(ctx context.Context) error {
	if p.cfg.FlushDelay > 0 {
		t := time.NewTimer(p.cfg.FlushDelay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return transport.ErrFlushTimeout
		}
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return transport.ErrClosed
	}
	batch := p.pending
	p.pending = make([]transport.Message, 0, cap(batch))
	p.mu.Unlock()

	p.broker.route(batch)
	return nil
}

// Close discards unflushed messages.
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.pending = nil
	return nil
}

// Consumer receives messages matching its filters. Filters use the MQTT form.
type Consumer struct {
	broker  *Broker
	filters []string
	group   string

	mu     sync.Mutex
	queue  []transport.Message
	fail   []error
	signal chan struct{}
	closed bool
}

var _ transport.Consumer = (*Consumer)(nil)

// Subscribe creates a consumer for filters. Consumers sharing a non-empty group split
// matching messages between them.
func (b *Broker) Subscribe(group string, filters ...string) (*Consumer, error) {
	for _, f := range filters {
		if err := topics.ValidateFilter(f); err != nil {
			return nil, err
		}
	}
	c := &Consumer{
		broker:  b,
		filters: filters,
		group:   group,
		signal:  make(chan struct{}, 1),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if group == "" {
		b.consumers = append(b.consumers, c)
		return c, nil
	}
	g, ok := b.groups[group]
	if !ok {
		g = &shareGroup{}
		b.groups[group] = g
	}
	g.members = append(g.members, c)
	return c, nil
}

func (c *Consumer) matches(topic string) bool {
	for _, f := range c.filters {
		if topics.Match(f, topic) {
			return true
		}
	}
	return false
}

func (c *Consumer) push(m transport.Message) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.queue = append(c.queue, m)
	c.mu.Unlock()
	c.broker.delivered.Add(1)
	c.notify()
}

func (c *Consumer) notify() {
	select {
	case c.signal <- struct{}{}:
	default:
	}
}

// Fail makes the next Poll return err.
func (c *Consumer) Fail(err error) {
	c.mu.Lock()
	c.fail = append(c.fail, err)
	c.mu.Unlock()
	c.notify()
}

// Poll returns the next message, or (nil, nil) after timeout.
func (c *Consumer) Poll(ctx context.Context, timeout time.Duration) (*transport.Message, error) {
	var timer *time.Timer
	for {
		c.mu.Lock()
		switch {
		case c.closed:
			c.mu.Unlock()
			return nil, transport.ErrClosed
		case len(c.fail) > 0:
			err := c.fail[0]
			c.fail = c.fail[1:]
			c.mu.Unlock()
			return nil, err
		case len(c.queue) > 0:
			m := c.queue[0]
			c.queue = c.queue[1:]
			c.mu.Unlock()
			return &m, nil
		}
		c.mu.Unlock()

		if timer == nil {
			timer = time.NewTimer(timeout)
			defer timer.Stop()
		}
		select {
		case <-c.signal:
		case <-timer.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close detaches the consumer from the broker.
func (c *Consumer) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.queue = nil
	c.mu.Unlock()
	c.notify()

	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if c.group == "" {
		b.consumers = slices.DeleteFunc(b.consumers, func(x *Consumer) bool { return x == c })
		return nil
	}
	if g, ok := b.groups[c.group]; ok {
		g.members = slices.DeleteFunc(g.members, func(x *Consumer) bool { return x == c })
		g.next = 0
		if len(g.members) == 0 {
			delete(b.groups, c.group)
		}
	}
	return nil
}

// Admin records created topics. Routing does not depend on them.
type Admin struct {
	broker *Broker
}

var _ transport.Admin = (*Admin)(nil)

// Admin returns the broker's topic administrator.
func (b *Broker) Admin() *Admin {
	return &Admin{broker: b}
}

// CreateTopics records topics.
func (a *Admin) CreateTopics(ctx context.Context, names ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.broker.mu.Lock()
	defer a.broker.mu.Unlock()
	for _, n := range names {
		a.broker.topics[n] = struct{}{}
	}
	return nil
}

// DeleteTopics forgets topics.
func (a *Admin) DeleteTopics(ctx context.Context, names ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.broker.mu.Lock()
	defer a.broker.mu.Unlock()
	for _, n := range names {
		delete(a.broker.topics, n)
	}
	return nil
}

// Close does nothing.
func (a *Admin) Close() error { return nil }

// Topics returns the recorded topics, sorted.
func (b *Broker) Topics() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.topics))
	for t := range b.topics {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}
