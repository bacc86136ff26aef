// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"fmt"
	"sync"
	"testing"

	"github.com/absmach/fluxbench/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hashOf(i int) identity.Hash {
	return identity.Sum("topic", fmt.Sprint(i), nil)
}

func TestLedgerAppendOrder(t *testing.T) {
	l := New(0)
	l.Append(hashOf(1), hashOf(2))
	l.Append()
	l.Append(hashOf(3))

	assert.Equal(t, 3, l.Len())
	assert.Equal(t, []identity.Hash{hashOf(1), hashOf(2), hashOf(3)}, l.Snapshot())
}

func TestLedgerSnapshotIsCopy(t *testing.T) {
	l := New(4)
	l.Append(hashOf(1))

	snap := l.Snapshot()
	snap[0] = hashOf(9)
	assert.Equal(t, hashOf(1), l.Snapshot()[0])
}

func TestLedgerDrain(t *testing.T) {
	l := New(4)
	l.Append(hashOf(1), hashOf(2))

	drained := l.Drain()
	assert.Len(t, drained, 2)
	assert.Equal(t, 0, l.Len())
	assert.Empty(t, l.Snapshot())
}

func TestLedgerConcurrentAppend(t *testing.T) {
	const (
		writers = 8
		each    = 1000
	)
	l := New(0)

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			b := NewBatch(l, 64)
			for i := 0; i < each; i++ {
				b.Add(hashOf(w*each + i))
				if b.Pending() == 64 {
					b.Flush()
				}
			}
			b.Flush()
		}(w)
	}
	wg.Wait()

	require.Equal(t, writers*each, l.Len())
	seen := make(map[identity.Hash]struct{}, writers*each)
	for _, h := range l.Snapshot() {
		seen[h] = struct{}{}
	}
	assert.Len(t, seen, writers*each)
}

func TestBatchFlush(t *testing.T) {
	l := New(0)
	b := NewBatch(l, 0)
	b.Add(hashOf(1))
	b.Add(hashOf(2))
	assert.Equal(t, 2, b.Pending())
	assert.Equal(t, 0, l.Len())

	b.Flush()
	assert.Equal(t, 0, b.Pending())
	assert.Equal(t, 2, l.Len())

	b.Flush()
	assert.Equal(t, 2, l.Len())
}
