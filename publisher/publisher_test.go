// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package publisher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/absmach/fluxbench/generator"
	"github.com/absmach/fluxbench/identity"
	"github.com/absmach/fluxbench/transport"
	"github.com/absmach/fluxbench/transport/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func makeMessages(n int) []generator.Message {
	msgs := make([]generator.Message, n)
	for i := range msgs {
		msgs[i] = generator.Message{
			Topic:   "umh.v1.plant",
			Key:     fmt.Sprintf("site1.area.tag.%d", 1_700_000_000_000+i),
			Payload: []byte(fmt.Sprintf(`{"volt":%d}`, i)),
		}
	}
	return msgs
}

func hashes(msgs []generator.Message) []identity.Hash {
	out := make([]identity.Hash, len(msgs))
	for i, m := range msgs {
		out[i] = identity.Sum(m.Topic, m.Key, m.Payload)
	}
	return out
}

func run(t *testing.T, p *Publisher) {
	t.Helper()
	require.NoError(t, p.Begin())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, p.Wait(ctx))
}

func TestPublishAll(t *testing.T) {
	broker := memory.NewBroker()
	cons, err := broker.Subscribe("", "#")
	require.NoError(t, err)

	msgs := makeMessages(100)
	p := New(broker.NewProducer(memory.ProducerConfig{}), generator.NewBuffer(msgs), Config{BatchSize: 16}, nil, discard)
	run(t, p)

	assert.Equal(t, uint64(100), p.SentCount())
	assert.Equal(t, hashes(msgs), p.SentHashes())
	assert.Equal(t, uint64(100), broker.Published())

	// Received identities match the sender side.
	m, err := cons.Poll(context.Background(), time.Second)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, hashes(msgs)[0], identity.Sum(m.Topic, m.Key, m.Payload))

	s := p.Stats()
	assert.Zero(t, s.Failed)
	assert.Zero(t, s.Retries)
	assert.Positive(t, s.Elapsed)
	assert.Positive(t, s.Rate)
}

func TestProgressLogsCumulativeRate(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	broker := memory.NewBroker()
	p := New(broker.NewProducer(memory.ProducerConfig{}), generator.NewBuffer(makeMessages(64)), Config{BatchSize: 16}, nil, logger)
	run(t, p)

	var progress []string
	for _, line := range strings.Split(buf.String(), "\n") {
		if strings.Contains(line, "publish progress") {
			progress = append(progress, line)
		}
	}
	require.Len(t, progress, 4)
	for i, line := range progress {
		assert.Contains(t, line, fmt.Sprintf("sent=%d", 16*(i+1)))
		assert.Contains(t, line, " rate=")
		assert.Contains(t, line, " batch_rate=")
	}
}

func TestPublishBackpressure(t *testing.T) {
	broker := memory.NewBroker()
	msgs := makeMessages(200)
	prod := broker.NewProducer(memory.ProducerConfig{Capacity: 8, FailEvery: 5})
	p := New(prod, generator.NewBuffer(msgs), Config{BatchSize: 1000, FlushTimeout: 10 * time.Millisecond}, nil, discard)
	run(t, p)

	s := p.Stats()
	assert.Equal(t, uint64(200), s.Sent)
	assert.Zero(t, s.Failed)
	assert.Positive(t, s.Retries)
	assert.Equal(t, uint64(200), broker.Published())
	assert.Equal(t, hashes(msgs), p.SentHashes())
}

func TestPublishNonTransientError(t *testing.T) {
	errDenied := errors.New("not authorized")
	broker := memory.NewBroker()
	prod := broker.NewProducer(memory.ProducerConfig{
		Reject: func(_, key string) error {
			if strings.HasSuffix(key, "0") {
				return errDenied
			}
			return nil
		},
	})
	msgs := makeMessages(50)
	p := New(prod, generator.NewBuffer(msgs), Config{BatchSize: 7}, nil, discard)
	run(t, p)

	var want []identity.Hash
	for _, m := range msgs {
		if !strings.HasSuffix(m.Key, "0") {
			want = append(want, identity.Sum(m.Topic, m.Key, m.Payload))
		}
	}
	s := p.Stats()
	assert.Equal(t, uint64(45), s.Sent)
	assert.Equal(t, uint64(5), s.Failed)
	assert.Zero(t, s.Retries)
	assert.Equal(t, want, p.SentHashes())
}

type fullProducer struct {
	sends   atomic.Int64
	flushes atomic.Int64
}

func (f *fullProducer) Send(context.Context, string, string, []byte) error {
	f.sends.Add(1)
	return transport.ErrCapacity
}

func (f *fullProducer) Flush(context.Context) error {
	f.flushes.Add(1)
	return transport.ErrFlushTimeout
}

func (f *fullProducer) Close() error { return nil }

func TestPublishBackoffCap(t *testing.T) {
	prod := &fullProducer{}
	cfg := Config{MaxBackoffDepth: 3, FlushTimeout: time.Millisecond, FinalFlushTimeout: time.Millisecond}
	p := New(prod, generator.NewBuffer(makeMessages(5)), cfg, nil, discard)
	run(t, p)

	s := p.Stats()
	assert.Zero(t, s.Sent)
	assert.Equal(t, uint64(5), s.Failed)
	assert.Equal(t, uint64(15), s.Retries)
	// Four attempts and three backoff flushes per message, then the final flush.
	assert.Equal(t, int64(20), prod.sends.Load())
	assert.Equal(t, int64(16), prod.flushes.Load())
	assert.Empty(t, p.SentHashes())
}

func TestSendGivesUp(t *testing.T) {
	p := New(&fullProducer{}, generator.NewBuffer(nil), Config{MaxBackoffDepth: 2, FlushTimeout: time.Millisecond}, nil, discard)
	err := p.send(makeMessages(1)[0])
	assert.ErrorIs(t, err, ErrBackoffExhausted)
	assert.ErrorIs(t, err, transport.ErrCapacity)
	assert.Equal(t, "backoff_exhausted", failureReason(err))
	assert.Equal(t, "closed", failureReason(transport.ErrClosed))
}

// blockingSource never yields a message.
type blockingSource struct{}

func (blockingSource) Next(ctx context.Context) (generator.Message, error) {
	<-ctx.Done()
	return generator.Message{}, ctx.Err()
}

func TestLifecycle(t *testing.T) {
	broker := memory.NewBroker()
	p := New(broker.NewProducer(memory.ProducerConfig{}), blockingSource{}, Config{}, nil, discard)

	require.NoError(t, p.Begin())
	require.NoError(t, p.Begin())

	select {
	case <-p.Done():
		t.Fatal("publisher exited early")
	case <-time.After(20 * time.Millisecond):
	}

	p.End()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Wait(ctx))
	assert.ErrorIs(t, p.Begin(), ErrStopped)
	p.End()
}

func TestEndBeforeBegin(t *testing.T) {
	p := New(memory.NewBroker().NewProducer(memory.ProducerConfig{}), blockingSource{}, Config{}, nil, discard)
	p.End()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Wait(ctx))
	assert.ErrorIs(t, p.Begin(), ErrStopped)
	assert.Zero(t, p.Stats().Elapsed)
}

func TestPublishFromPipeline(t *testing.T) {
	records := []generator.TopicRecord{{Path: "umh.v1.plant.site1.area.line.cell.group.temp"}}
	synth, err := generator.NewSynthesizer(3, generator.NewClock(nil))
	require.NoError(t, err)
	pipe, err := generator.NewPipeline(records, synth, generator.PipelineConfig{Workers: 2, QueueSize: 16}, discard)
	require.NoError(t, err)
	require.NoError(t, pipe.Start(context.Background()))
	defer pipe.Stop()

	broker := memory.NewBroker()
	p := New(broker.NewProducer(memory.ProducerConfig{}), pipe, Config{BatchSize: 10}, nil, discard)
	require.NoError(t, p.Begin())

	require.Eventually(t, func() bool { return p.SentCount() >= 100 }, 5*time.Second, time.Millisecond)
	p.End()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Wait(ctx))

	assert.Len(t, p.SentHashes(), int(p.SentCount()))
	assert.Equal(t, p.SentCount(), broker.Published())
}
