// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package ledger keeps the ordered identities of sent or received messages for
// reconciliation.
package ledger

import (
	"sync"

	"github.com/absmach/fluxbench/identity"
)

// Ledger is the append-only record of identities observed on one side of a run.
// Producers batch hashes locally and take the lock only for bulk appends.
type Ledger struct {
	mu     sync.RWMutex
	hashes []identity.Hash
}

// New creates an empty ledger with room for capacity hashes.
func New(capacity int) *Ledger {
	if capacity < 0 {
		capacity = 0
	}
	return &Ledger{hashes: make([]identity.Hash, 0, capacity)}
}

// Append adds hashes in order.
func (l *Ledger) Append(hashes ...identity.Hash) {
	if len(hashes) == 0 {
		return
	}
	l.mu.Lock()
	l.hashes = append(l.hashes, hashes...)
	l.mu.Unlock()
}

// Len returns the number of recorded hashes.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.hashes)
}

// Snapshot returns a copy of the recorded hashes in insertion order.
func (l *Ledger) Snapshot() []identity.Hash {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]identity.Hash, len(l.hashes))
	copy(out, l.hashes)
	return out
}

// Drain returns the recorded hashes and resets the ledger.
func (l *Ledger) Drain() []identity.Hash {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.hashes
	l.hashes = nil
	return out
}

// Batch buffers hashes for a single goroutine and moves them into a ledger in bulk.
type Batch struct {
	ledger *Ledger
	buf    []identity.Hash
}

// NewBatch creates a batch feeding l.
func NewBatch(l *Ledger, size int) *Batch {
	if size <= 0 {
		size = 1
	}
	return &Batch{ledger: l, buf: make([]identity.Hash, 0, size)}
}

// Add buffers one hash.
func (b *Batch) Add(h identity.Hash) {
	b.buf = append(b.buf, h)
}

// Pending returns the number of buffered hashes.
func (b *Batch) Pending() int {
	return len(b.buf)
}

// Flush appends the buffered hashes to the ledger.
func (b *Batch) Flush() {
	b.ledger.Append(b.buf...)
	b.buf = b.buf[:0]
}
