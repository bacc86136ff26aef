// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package generator

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
)

// Pipeline defaults.
const (
	DefaultWorkers   = 4
	DefaultQueueSize = 10_000
)

var (
	errStarted = errors.New("pipeline already started")
	errStopped = errors.New("pipeline stopped")
)

// PipelineConfig configures a generation pipeline.
type PipelineConfig struct {
	Workers   int
	QueueSize int
	// Seed makes generation reproducible when non-zero.
	Seed uint64
}

// Pipeline runs a pool of workers that synthesize messages for randomly chosen topic
// records and push them through a bounded queue. Workers block while the queue is full.
type Pipeline struct {
	records []TopicRecord
	synth   *Synthesizer
	cfg     PipelineConfig
	logger  *slog.Logger

	generated atomic.Uint64
	skipped   atomic.Uint64
	seq       atomic.Uint64

	mu      sync.Mutex
	started bool
	stopped bool
	out     chan Message
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

var _ Source = (*Pipeline)(nil)

// NewPipeline validates the topic population and creates an idle pipeline.
func NewPipeline(records []TopicRecord, synth *Synthesizer, cfg PipelineConfig, logger *slog.Logger) (*Pipeline, error) {
	if len(records) == 0 {
		return nil, ErrNoTopics
	}
	valid := false
	for _, r := range records {
		if splitIndex(r.Path, synth.Split()) < 0 {
			return nil, ErrInvalidSplit
		}
		if r.Synthesizable() {
			valid = true
		}
	}
	if !valid {
		return nil, ErrNoValidTopics
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Pipeline{
		records: records,
		synth:   synth,
		cfg:     cfg,
		logger:  logger,
		out:     make(chan Message, cfg.QueueSize),
	}, nil
}

// Start launches the streaming workers. They run until Stop is called or ctx is done.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return errStopped
	}
	if p.started {
		return errStarted
	}
	p.started = true

	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.stream(ctx, p.newRand())
	}
	p.logger.Debug("generation pipeline started", slog.Int("workers", p.cfg.Workers), slog.Int("queue", p.cfg.QueueSize))
	return nil
}

func (p *Pipeline) stream(ctx context.Context, rng *rand.Rand) {
	defer p.wg.Done()
	for {
		msg, err := p.draw(rng)
		if err != nil {
			p.logger.Error("message synthesis failed", slog.String("error", err.Error()))
			if ctx.Err() != nil {
				return
			}
			continue
		}
		select {
		case p.out <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// Next takes one message from the queue. It returns ErrExhausted once the pipeline was
// stopped and the queue drained.
func (p *Pipeline) Next(ctx context.Context) (Message, error) {
	select {
	case msg, ok := <-p.out:
		if !ok {
			return Message{}, ErrExhausted
		}
		return msg, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// Stop stops the workers and closes the queue. Buffered messages stay readable.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.stopped = true
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	close(p.out)
}

// Generate produces exactly total messages in batch mode. Each worker produces an equal
// share and one extra worker produces the remainder.
func (p *Pipeline) Generate(ctx context.Context, total int) ([]Message, error) {
	if total <= 0 {
		return nil, nil
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := make(chan Message, min(p.cfg.QueueSize, total))
	per, rem := total/p.cfg.Workers, total%p.cfg.Workers

	var wg sync.WaitGroup
	spawn := func(n int) {
		wg.Add(1)
		go func(rng *rand.Rand) {
			defer wg.Done()
			for produced := 0; produced < n; {
				msg, err := p.draw(rng)
				if err != nil {
					p.logger.Error("message synthesis failed", slog.String("error", err.Error()))
					if ctx.Err() != nil {
						return
					}
					continue
				}
				select {
				case queue <- msg:
					produced++
				case <-ctx.Done():
					return
				}
			}
		}(p.newRand())
	}
	if per > 0 {
		for i := 0; i < p.cfg.Workers; i++ {
			spawn(per)
		}
	}
	if rem > 0 {
		spawn(rem)
	}
	go func() {
		wg.Wait()
		close(queue)
	}()

	msgs := make([]Message, 0, total)
	for msg := range queue {
		msgs = append(msgs, msg)
	}
	if len(msgs) < total {
		if err := ctx.Err(); err != nil {
			return msgs, err
		}
	}
	return msgs, nil
}

// Generated returns the number of messages synthesized so far.
func (p *Pipeline) Generated() uint64 {
	return p.generated.Load()
}

// Skipped returns the number of draws rejected because the record cannot be synthesized.
func (p *Pipeline) Skipped() uint64 {
	return p.skipped.Load()
}

func (p *Pipeline) draw(rng *rand.Rand) (Message, error) {
	for {
		rec := p.records[rng.IntN(len(p.records))]
		msg, err := p.synth.Synthesize(rng, rec)
		if errors.Is(err, ErrSkip) {
			p.skipped.Add(1)
			continue
		}
		if err != nil {
			return Message{}, err
		}
		p.generated.Add(1)
		return msg, nil
	}
}

func (p *Pipeline) newRand() *rand.Rand {
	if p.cfg.Seed != 0 {
		return rand.New(rand.NewPCG(p.cfg.Seed, p.seq.Add(1)))
	}
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}
