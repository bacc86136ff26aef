// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package transport defines the broker session boundary shared by every supported
// messaging system. Sessions are created once per run and owned by a single publisher
// or subscriber goroutine.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Transport errors.
var (
	// ErrCapacity reports that the local send queue is full. It is transient: flushing
	// outstanding messages makes room.
	ErrCapacity       = errors.New("local send queue full")
	ErrFlushTimeout   = errors.New("flush timed out with messages outstanding")
	ErrClosed         = errors.New("session closed")
	ErrInvalidAddress = errors.New("invalid broker address")
	ErrUnknownKind    = errors.New("unknown transport")
)

// IsTransient reports whether a send may succeed after flushing and retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrCapacity)
}

// Kind names a messaging system.
type Kind string

// Supported transports.
const (
	Kafka  Kind = "kafka"
	MQTT   Kind = "mqtt"
	NATS   Kind = "nats"
	Memory Kind = "memory"
)

// ParseKind resolves a transport name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case Kafka, MQTT, NATS, Memory:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// Message is a received message. Transports that carry a separate key fill Key;
// transports that fold the key into the topic leave it empty and report the full
// dotted path as Topic.
type Message struct {
	Topic   string
	Key     string
	Payload []byte
}

// Producer publishes messages. Send may buffer; Flush waits for buffered messages.
type Producer interface {
	Send(ctx context.Context, topic, key string, payload []byte) error
	Flush(ctx context.Context) error
	Close() error
}

// Consumer receives messages. Poll returns (nil, nil) when no message arrived within
// timeout.
type Consumer interface {
	Poll(ctx context.Context, timeout time.Duration) (*Message, error)
	Close() error
}

// Admin manages broker side topics.
type Admin interface {
	CreateTopics(ctx context.Context, topics ...string) error
	DeleteTopics(ctx context.Context, topics ...string) error
	Close() error
}

// NopAdmin is the Admin of transports whose topics need no provisioning.
type NopAdmin struct{}

var _ Admin = NopAdmin{}

// CreateTopics does nothing.
func (NopAdmin) CreateTopics(context.Context, ...string) error { return nil }

// DeleteTopics does nothing.
func (NopAdmin) DeleteTopics(context.Context, ...string) error { return nil }

// Close does nothing.
func (NopAdmin) Close() error { return nil }

// ValidateAddress checks a host:port broker address.
func ValidateAddress(addr string) error {
	host, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return fmt.Errorf("%w: %q: %w", ErrInvalidAddress, addr, err)
	}
	if host == "" {
		return fmt.Errorf("%w: %q: missing host", ErrInvalidAddress, addr)
	}
	p, err := strconv.Atoi(port)
	if err != nil || p <= 0 || p > 65535 {
		return fmt.Errorf("%w: %q: invalid port", ErrInvalidAddress, addr)
	}
	return nil
}

// ParseAddrList splits a comma separated address list and validates every entry.
func ParseAddrList(raw string) ([]string, error) {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if err := ValidateAddress(p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: empty address list", ErrInvalidAddress)
	}
	return out, nil
}
