// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package bench orchestrates a benchmark run: it generates the topic population,
// provisions topics, runs a subscriber and a publisher against the configured
// transports and reconciles what was sent against what was received.
package bench

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/absmach/fluxbench/admin"
	"github.com/absmach/fluxbench/config"
	"github.com/absmach/fluxbench/generator"
	"github.com/absmach/fluxbench/hierarchy"
	"github.com/absmach/fluxbench/identity"
	"github.com/absmach/fluxbench/metrics"
	"github.com/absmach/fluxbench/publisher"
	"github.com/absmach/fluxbench/reconcile"
	"github.com/absmach/fluxbench/server/status"
	"github.com/absmach/fluxbench/subscriber"
	"github.com/absmach/fluxbench/transport"
	"github.com/absmach/fluxbench/transport/memory"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Sender is the sending side of a run.
type Sender interface {
	Begin() error
	End()
	Wait(ctx context.Context) error
	SentHashes() []identity.Hash
	SentCount() uint64
}

// Receiver is the receiving side of a run.
type Receiver interface {
	Begin() error
	End()
	Wait(ctx context.Context) error
	ReceivedHashes() []identity.Hash
	ReceivedCount() uint64
}

var (
	_ Sender   = (*publisher.Publisher)(nil)
	_ Receiver = (*subscriber.Subscriber)(nil)
)

// Run phases.
const (
	PhaseIdle        = "idle"
	PhasePreparing   = "preparing"
	PhaseSubscribing = "subscribing"
	PhaseWarmup      = "warmup"
	PhaseGenerating  = "generating"
	PhasePublishing  = "publishing"
	PhaseDraining    = "draining"
	PhaseReconciling = "reconciling"
	PhaseDone        = "done"
	PhaseFailed      = "failed"
)

const drainPoll = 100 * time.Millisecond

// ErrNoMessages marks a run that ended without sending anything. It is reported in the
// result notes; the run itself does not fail.
var ErrNoMessages = errors.New("no messages were sent")

// Runner executes one benchmark run.
type Runner struct {
	cfg     *config.Config
	dialer  *Dialer
	metrics *metrics.Metrics
	logger  *slog.Logger
	runID   string

	phase     atomic.Value
	startedAt atomic.Int64
	pipeline  atomic.Pointer[generator.Pipeline]
	pub       atomic.Pointer[publisher.Publisher]
	sub       atomic.Pointer[subscriber.Subscriber]
}

var _ status.Source = (*Runner)(nil)

// New creates a runner. broker backs memory sessions and may be nil; m may be nil.
func New(cfg *config.Config, broker *memory.Broker, m *metrics.Metrics, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	runID := uuid.NewString()
	logger = logger.With(slog.String("run_id", runID))
	r := &Runner{
		cfg:     cfg,
		dialer:  NewDialer(cfg, runID, broker, logger),
		metrics: m,
		logger:  logger,
		runID:   runID,
	}
	r.phase.Store(PhaseIdle)
	return r
}

// SetMetrics replaces the metrics recorder. It must be called before Run.
func (r *Runner) SetMetrics(m *metrics.Metrics) {
	r.metrics = m
}

// RunID returns the unique id of this run.
func (r *Runner) RunID() string {
	return r.runID
}

// Dialer returns the session dialer of this run.
func (r *Runner) Dialer() *Dialer {
	return r.dialer
}

// Phase returns the current run phase.
func (r *Runner) Phase() string {
	return r.phase.Load().(string)
}

// Running reports whether the run is between setup and completion.
func (r *Runner) Running() bool {
	switch r.Phase() {
	case PhaseIdle, PhaseDone, PhaseFailed:
		return false
	default:
		return true
	}
}

// Snapshot returns live run counters.
func (r *Runner) Snapshot() status.Snapshot {
	s := status.Snapshot{
		RunID:    r.runID,
		Phase:    r.Phase(),
		Sender:   r.cfg.Run.Sender,
		Receiver: r.cfg.Run.Receiver,
	}
	if start := r.startedAt.Load(); start > 0 {
		s.ElapsedMS = time.Since(time.Unix(0, start)).Milliseconds()
	}
	if p := r.pipeline.Load(); p != nil {
		s.Generated = p.Generated()
	}
	if p := r.pub.Load(); p != nil {
		st := p.Stats()
		s.Sent, s.Failed, s.Retries, s.PublishRate = st.Sent, st.Failed, st.Retries, st.Rate
	}
	if sub := r.sub.Load(); sub != nil {
		st := sub.Stats()
		s.Received, s.ReceiveErrors, s.ReceiveRate = st.Received, st.Errors, st.Rate
	}
	return s
}

// Topology is the generated topic population of a run.
type Topology struct {
	Records  []generator.TopicRecord
	Prefixes []string
	Seed     uint64
}

// Topology loads the hierarchy and generates the configured number of topics. Runs
// with the same non-zero seed produce the same population.
func (r *Runner) Topology() (Topology, error) {
	h, err := hierarchy.Load(r.cfg.Hierarchy.File)
	if err != nil {
		return Topology{}, fmt.Errorf("failed to load hierarchy: %w", err)
	}
	seed := r.cfg.Run.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	rng := rand.New(rand.NewPCG(seed, 0))
	records, err := generator.GenerateTopics(h, r.cfg.Run.Topics, rng)
	if err != nil {
		return Topology{}, fmt.Errorf("failed to generate topics: %w", err)
	}
	prefixes, err := generator.Prefixes(records, r.cfg.Run.Split)
	if err != nil {
		return Topology{}, err
	}
	return Topology{Records: records, Prefixes: prefixes, Seed: seed}, nil
}

// Prepare provisions prefixes on the given transports. Each distinct transport is
// prepared once.
func (r *Runner) Prepare(ctx context.Context, prefixes []string, kinds ...transport.Kind) error {
	return r.administer(kinds, "prepare", func(m *admin.Manager) error {
		return m.Prepare(ctx, prefixes)
	})
}

// Teardown deletes prefixes on the given transports.
func (r *Runner) Teardown(ctx context.Context, prefixes []string, kinds ...transport.Kind) error {
	return r.administer(kinds, "delete", func(m *admin.Manager) error {
		return m.Delete(ctx, prefixes)
	})
}

func (r *Runner) administer(kinds []transport.Kind, op string, fn func(*admin.Manager) error) error {
	seen := make(map[transport.Kind]bool, len(kinds))
	for _, k := range kinds {
		if seen[k] {
			continue
		}
		seen[k] = true

		adm, err := r.dialer.Admin(k)
		if err != nil {
			return fmt.Errorf("failed to open %s admin: %w", k, err)
		}
		mgr := admin.New(adm, r.adminConfig(), r.logger.With(slog.String("transport", string(k))))
		err = fn(mgr)
		if cerr := mgr.Close(); cerr != nil {
			r.logger.Warn("failed to close admin session", slog.String("transport", string(k)), slog.String("error", cerr.Error()))
		}
		if err != nil {
			return fmt.Errorf("failed to %s %s topics: %w", op, k, err)
		}
	}
	return nil
}

// Run executes the run. Setup failures return an error; a run interrupted by ctx
// after publishing started still reconciles and returns a result.
func (r *Runner) Run(ctx context.Context) (res Result, err error) {
	ctx, span := metrics.Tracer().Start(ctx, "fluxbench.run", oteltrace.WithAttributes(
		attribute.String("run_id", r.runID),
		attribute.String("sender", r.cfg.Run.Sender),
		attribute.String("receiver", r.cfg.Run.Receiver),
	))
	defer func() {
		if err != nil {
			r.phase.Store(PhaseFailed)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	start := time.Now()
	r.startedAt.Store(start.UnixNano())

	senderKind, err := r.cfg.SenderKind()
	if err != nil {
		return Result{}, err
	}
	receiverKind, err := r.cfg.ReceiverKind()
	if err != nil {
		return Result{}, err
	}

	end := r.enter(ctx, PhasePreparing)
	topo, err := r.Topology()
	if err != nil {
		end()
		return Result{}, err
	}
	r.logger.Info("topics generated",
		slog.Int("topics", len(topo.Records)),
		slog.Int("prefixes", len(topo.Prefixes)),
		slog.Uint64("seed", topo.Seed))
	if r.cfg.Admin.Enabled {
		if err := r.Prepare(ctx, topo.Prefixes, senderKind, receiverKind); err != nil {
			end()
			return Result{}, err
		}
	}
	end()

	end = r.enter(ctx, PhaseSubscribing)
	subs := r.cfg.Run.Subscriptions
	if len(subs) == 0 {
		if subs, err = Subscriptions(receiverKind, topo.Prefixes); err != nil {
			end()
			return Result{}, err
		}
	}
	consumer, err := r.dialer.Consumer(receiverKind, subs)
	if err != nil {
		end()
		return Result{}, fmt.Errorf("failed to open %s consumer: %w", receiverKind, err)
	}
	defer closeSession(r.logger, "consumer", consumer)

	sub := subscriber.New(consumer, r.subscriberConfig(), r.metrics, r.logger)
	r.sub.Store(sub)
	if err := sub.Begin(); err != nil {
		end()
		return Result{}, err
	}
	// The subscriber must be stopped on every return path.
	defer sub.End()
	end()

	if r.cfg.Run.Warmup > 0 {
		end = r.enter(ctx, PhaseWarmup)
		err := sleep(ctx, r.cfg.Run.Warmup)
		end()
		if err != nil {
			return Result{}, err
		}
	}

	end = r.enter(ctx, PhaseGenerating)
	synth, err := generator.NewSynthesizer(r.cfg.Run.Split, generator.NewClock(nil))
	if err != nil {
		end()
		return Result{}, err
	}
	pipe, err := generator.NewPipeline(topo.Records, synth, generator.PipelineConfig{
		Workers:   r.cfg.Run.Workers,
		QueueSize: r.cfg.Run.QueueSize,
		Seed:      r.cfg.Run.Seed,
	}, r.logger)
	if err != nil {
		end()
		return Result{}, err
	}
	r.pipeline.Store(pipe)

	var source generator.Source
	if n := r.cfg.Run.Messages; n > 0 {
		msgs, err := pipe.Generate(ctx, n)
		if err != nil {
			end()
			return Result{}, fmt.Errorf("failed to generate messages: %w", err)
		}
		r.logger.Info("messages generated", slog.String("count", humanize.Comma(int64(len(msgs)))))
		source = generator.NewBuffer(msgs)
	} else {
		if err := pipe.Start(ctx); err != nil {
			end()
			return Result{}, err
		}
		defer pipe.Stop()
		source = pipe
	}
	end()

	producer, err := r.dialer.Producer(senderKind)
	if err != nil {
		return Result{}, fmt.Errorf("failed to open %s producer: %w", senderKind, err)
	}
	defer closeSession(r.logger, "producer", producer)

	end = r.enter(ctx, PhasePublishing)
	pub := publisher.New(producer, source, r.publisherConfig(), r.metrics, r.logger)
	r.pub.Store(pub)
	if err := pub.Begin(); err != nil {
		end()
		return Result{}, err
	}

	var notes string
	var deadline <-chan time.Time
	if d := r.cfg.Run.Duration; d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		deadline = timer.C
	}
	select {
	case <-deadline:
	case <-pub.Done():
	case <-ctx.Done():
		notes = "interrupted"
		r.logger.Warn("run interrupted", slog.String("cause", context.Cause(ctx).Error()))
	}
	pub.End()
	if err := pub.Wait(context.Background()); err != nil {
		r.logger.Warn("publisher wait failed", slog.String("error", err.Error()))
	}
	pipe.Stop()
	end()

	end = r.enter(ctx, PhaseDraining)
	r.drain(ctx, pub, sub)
	sub.End()
	if err := sub.Wait(context.Background()); err != nil {
		r.logger.Warn("subscriber wait failed", slog.String("error", err.Error()))
	}
	end()

	end = r.enter(ctx, PhaseReconciling)
	report := reconcile.Reconcile(pub.SentHashes(), sub.ReceivedHashes())
	r.metrics.RecordGenerated(int64(pipe.Generated()))
	r.metrics.RecordRatio(report.Ratio)
	r.logger.Info(report.String())
	end()

	res = r.result(topo, pub.Stats(), sub.Stats(), pipe.Generated(), report, time.Since(start))
	if notes != "" {
		res.Notes = notes
	}
	if report.Sent == 0 && res.Notes == "" {
		res.Notes = ErrNoMessages.Error()
	}
	span.SetAttributes(
		attribute.Int("delivered", report.Delivered),
		attribute.Int("lost", report.Lost),
		attribute.Float64("delivery_ratio", report.Ratio),
	)
	r.phase.Store(PhaseDone)
	return res, nil
}

// drain waits until the receiver has seen as many messages as were sent, the drain
// window closes or ctx is done.
func (r *Runner) drain(ctx context.Context, snd Sender, rcv Receiver) {
	sent := snd.SentCount()
	if sent == 0 || r.cfg.Run.Drain <= 0 || ctx.Err() != nil {
		return
	}
	window := time.NewTimer(r.cfg.Run.Drain)
	defer window.Stop()
	ticker := time.NewTicker(drainPoll)
	defer ticker.Stop()

	for {
		if rcv.ReceivedCount() >= sent {
			return
		}
		select {
		case <-ticker.C:
		case <-window.C:
			r.logger.Warn("drain window closed",
				slog.String("sent", humanize.Comma(int64(sent))),
				slog.String("received", humanize.Comma(int64(rcv.ReceivedCount()))))
			return
		case <-ctx.Done():
			return
		}
	}
}

func (r *Runner) enter(ctx context.Context, phase string) func() {
	r.phase.Store(phase)
	r.logger.Debug("run phase", slog.String("phase", phase))
	_, span := metrics.Tracer().Start(ctx, "fluxbench."+phase)
	return func() { span.End() }
}

func (r *Runner) result(topo Topology, ps publisher.Stats, ss subscriber.Stats, generated uint64, rep reconcile.Report, took time.Duration) Result {
	return Result{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		RunID:         r.runID,
		Sender:        r.cfg.Run.Sender,
		Receiver:      r.cfg.Run.Receiver,
		Topics:        len(topo.Records),
		Prefixes:      len(topo.Prefixes),
		Split:         r.cfg.Run.Split,
		Generated:     generated,
		Published:     ps.Sent,
		Failed:        ps.Failed,
		Retries:       ps.Retries,
		Received:      ss.Received,
		ReceiveErrors: ss.Errors,
		Delivered:     rep.Delivered,
		Lost:          rep.Lost,
		Stray:         rep.Stray,
		Duplicates:    rep.Duplicates,
		DeliveryRatio: rep.Ratio,
		PublishRate:   ps.Rate,
		ReceiveRate:   ss.Rate,
		DurationMS:    took.Milliseconds(),
		MinRatio:      r.cfg.Run.MinRatio,
		Pass:          rep.Pass(r.cfg.Run.MinRatio),
	}
}

func (r *Runner) adminConfig() admin.Config {
	c := r.cfg.Admin
	return admin.Config{
		Recreate:         c.Recreate,
		Timeout:          c.Timeout,
		FailureThreshold: c.FailureThreshold,
		ResetTimeout:     c.ResetTimeout,
	}
}

func (r *Runner) publisherConfig() publisher.Config {
	c := r.cfg.Publisher
	return publisher.Config{
		BatchSize:         c.BatchSize,
		FlushTimeout:      c.FlushTimeout,
		FinalFlushTimeout: c.FinalFlushTimeout,
		MaxBackoffDepth:   c.MaxBackoffDepth,
		RateLimit:         c.RateLimit,
	}
}

func (r *Runner) subscriberConfig() subscriber.Config {
	c := r.cfg.Subscriber
	return subscriber.Config{
		PollTimeout:  c.PollTimeout,
		BatchSize:    c.BatchSize,
		ErrorBackoff: c.ErrorBackoff,
	}
}

type closer interface {
	Close() error
}

func closeSession(logger *slog.Logger, role string, c closer) {
	if err := c.Close(); err != nil && !errors.Is(err, transport.ErrClosed) {
		logger.Warn("failed to close session", slog.String("role", role), slog.String("error", err.Error()))
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
