// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package generator produces synthetic telemetry: a fixed population of topics drawn
// from a hierarchy, schema-valid payloads for those topics and a worker pool that feeds
// generated messages through a bounded queue.
package generator

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/absmach/fluxbench/hierarchy"
)

// Generator errors.
var (
	ErrNoTopics      = errors.New("topic count must be positive")
	ErrNoValidTopics = errors.New("no topic in the population can be synthesized")
	ErrInvalidSplit  = errors.New("split index out of range for topic path")
	ErrSkip          = errors.New("boolean value type is undefined for a physical unit")
	ErrExhausted     = errors.New("message source exhausted")
)

// TopicRecord is one concrete topic of the population.
type TopicRecord struct {
	Path string
	Unit hierarchy.Unit
	Type hierarchy.ValueType
}

// Synthesizable reports whether messages can be generated for the record.
func (r TopicRecord) Synthesizable() bool {
	return !(r.Unit.Physical() && r.Type == hierarchy.TypeBoolean)
}

// Message is a generated message. Topic is the routed prefix of the path and Key the
// remainder plus a uniqueness suffix.
type Message struct {
	Topic   string
	Key     string
	Payload []byte
}

// Path returns the full dotted path of the message.
func (m Message) Path() string {
	return m.Topic + "." + m.Key
}

// Source yields generated messages.
type Source interface {
	Next(ctx context.Context) (Message, error)
}

// Buffer is a Source over a pre-generated slice of messages. It is safe for concurrent
// use and returns ErrExhausted once every message was handed out.
type Buffer struct {
	msgs []Message
	next atomic.Int64
}

var _ Source = (*Buffer)(nil)

// NewBuffer wraps msgs.
func NewBuffer(msgs []Message) *Buffer {
	return &Buffer{msgs: msgs}
}

// Next returns the next message.
func (b *Buffer) Next(ctx context.Context) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	i := b.next.Add(1) - 1
	if i >= int64(len(b.msgs)) {
		return Message{}, ErrExhausted
	}
	return b.msgs[i], nil
}

// Len returns the total number of messages.
func (b *Buffer) Len() int {
	return len(b.msgs)
}

// At returns the i-th message.
func (b *Buffer) At(i int) Message {
	return b.msgs[i]
}

// Remaining returns the number of messages not yet handed out.
func (b *Buffer) Remaining() int {
	n := int64(len(b.msgs)) - b.next.Load()
	if n < 0 {
		return 0
	}
	return int(n)
}
