// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package bufpool pools scratch buffers used to encode message payloads.
package bufpool

import (
	"bytes"
	"sync"
)

// Payloads are small JSON documents; anything that grew past this is not worth keeping.
const maxPooledCap = 16 * 1024

var pool = sync.Pool{New: func() any { return new(bytes.Buffer) }}

// Get returns an empty buffer.
func Get() *bytes.Buffer {
	b := pool.Get().(*bytes.Buffer)
	b.Reset()
	return b
}

// Put returns b to the pool. Oversized buffers are dropped.
func Put(b *bytes.Buffer) {
	if b == nil || b.Cap() > maxPooledCap {
		return
	}
	pool.Put(b)
}

// Detach copies the contents of b, without a trailing newline, into a new slice and
// returns b to the pool.
func Detach(b *bytes.Buffer) []byte {
	out := bytes.Clone(bytes.TrimSuffix(b.Bytes(), []byte{'\n'}))
	Put(b)
	return out
}
