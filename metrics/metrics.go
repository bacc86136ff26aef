// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "fluxbench"

// Metrics holds OpenTelemetry instruments for a benchmark run. A nil *Metrics records
// nothing, so components take one unconditionally.
type Metrics struct {
	meter metric.Meter

	// Counters
	messagesGenerated metric.Int64Counter
	messagesSent      metric.Int64Counter
	messagesFailed    metric.Int64Counter
	sendRetries       metric.Int64Counter
	messagesReceived  metric.Int64Counter
	receiveErrors     metric.Int64Counter

	// Histograms
	flushDuration metric.Float64Histogram

	// Gauges
	deliveryRatio metric.Float64Gauge

	sendAttrs    metric.MeasurementOption
	receiveAttrs metric.MeasurementOption
}

// New creates the run instruments on provider, or on the global provider when it is
// nil. sender and receiver label the transport on each side.
func New(provider metric.MeterProvider, sender, receiver string) (*Metrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	m := &Metrics{
		meter:        provider.Meter(instrumentationName),
		sendAttrs:    metric.WithAttributeSet(attribute.NewSet(attribute.String("transport", sender))),
		receiveAttrs: metric.WithAttributeSet(attribute.NewSet(attribute.String("transport", receiver))),
	}

	var err error

	m.messagesGenerated, err = m.meter.Int64Counter(
		"fluxbench.messages.generated",
		metric.WithDescription("Messages synthesized by the generation pipeline"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create messagesGenerated counter: %w", err)
	}

	m.messagesSent, err = m.meter.Int64Counter(
		"fluxbench.messages.sent",
		metric.WithDescription("Messages accepted by the sending transport"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create messagesSent counter: %w", err)
	}

	m.messagesFailed, err = m.meter.Int64Counter(
		"fluxbench.messages.failed",
		metric.WithDescription("Messages dropped after a non-transient error or exhausted backoff"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create messagesFailed counter: %w", err)
	}

	m.sendRetries, err = m.meter.Int64Counter(
		"fluxbench.send.retries",
		metric.WithDescription("Send attempts repeated after local queue backpressure"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sendRetries counter: %w", err)
	}

	m.messagesReceived, err = m.meter.Int64Counter(
		"fluxbench.messages.received",
		metric.WithDescription("Messages taken from the receiving transport"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create messagesReceived counter: %w", err)
	}

	m.receiveErrors, err = m.meter.Int64Counter(
		"fluxbench.receive.errors",
		metric.WithDescription("Errors reported while polling"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create receiveErrors counter: %w", err)
	}

	m.flushDuration, err = m.meter.Float64Histogram(
		"fluxbench.flush.duration.ms",
		metric.WithDescription("Producer flush duration in milliseconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create flushDuration histogram: %w", err)
	}

	m.deliveryRatio, err = m.meter.Float64Gauge(
		"fluxbench.delivery.ratio",
		metric.WithDescription("Delivered over delivered plus lost, set once a run is reconciled"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create deliveryRatio gauge: %w", err)
	}

	return m, nil
}

// RecordGenerated records synthesized messages.
func (m *Metrics) RecordGenerated(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.messagesGenerated.Add(context.Background(), n, m.sendAttrs)
}

// RecordSent records messages accepted by the producer.
func (m *Metrics) RecordSent(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.messagesSent.Add(context.Background(), n, m.sendAttrs)
}

// RecordFailed records dropped messages by reason.
func (m *Metrics) RecordFailed(reason string) {
	if m == nil {
		return
	}
	m.messagesFailed.Add(context.Background(), 1, m.sendAttrs, metric.WithAttributes(
		attribute.String("reason", reason),
	))
}

// RecordRetry records one backpressure retry.
func (m *Metrics) RecordRetry() {
	if m == nil {
		return
	}
	m.sendRetries.Add(context.Background(), 1, m.sendAttrs)
}

// RecordReceived records messages taken from the consumer.
func (m *Metrics) RecordReceived(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.messagesReceived.Add(context.Background(), n, m.receiveAttrs)
}

// RecordReceiveError records a poll error.
func (m *Metrics) RecordReceiveError() {
	if m == nil {
		return
	}
	m.receiveErrors.Add(context.Background(), 1, m.receiveAttrs)
}

// RecordFlush records the duration of a producer flush.
func (m *Metrics) RecordFlush(d time.Duration) {
	if m == nil {
		return
	}
	m.flushDuration.Record(context.Background(), float64(d)/float64(time.Millisecond), m.sendAttrs)
}

// RecordRatio records the reconciled delivery ratio.
func (m *Metrics) RecordRatio(ratio float64) {
	if m == nil {
		return
	}
	m.deliveryRatio.Record(context.Background(), ratio)
}
