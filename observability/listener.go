// Package observability records outbox lifecycle metrics via
// OpenTelemetry. Register the listener with the engine to track
// submission rates, processing counts and latency, retries, and
// blocked entries.
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/soandrew/transaction-outbox/entry"
	"github.com/soandrew/transaction-outbox/ext"
)

const meterName = "github.com/soandrew/transaction-outbox"

// Compile-time interface checks.
var (
	_ ext.Listener       = (*MetricsListener)(nil)
	_ ext.EntrySubmitted = (*MetricsListener)(nil)
	_ ext.EntryProcessed = (*MetricsListener)(nil)
	_ ext.EntryRetrying  = (*MetricsListener)(nil)
	_ ext.EntryBlocked   = (*MetricsListener)(nil)
	_ ext.EntryUnblocked = (*MetricsListener)(nil)
)

// MetricsListener records entry lifecycle metrics. Counters are tagged
// with the invocation target.
type MetricsListener struct {
	submitted metric.Int64Counter
	processed metric.Int64Counter
	retried   metric.Int64Counter
	blocked   metric.Int64Counter
	unblocked metric.Int64Counter
	procTime  metric.Float64Histogram
}

// NewMetricsListener creates a MetricsListener using the global meter
// provider.
func NewMetricsListener() (*MetricsListener, error) {
	return NewMetricsListenerWithProvider(otel.GetMeterProvider())
}

// NewMetricsListenerWithProvider creates a MetricsListener with the
// provided meter provider.
func NewMetricsListenerWithProvider(mp metric.MeterProvider) (*MetricsListener, error) {
	meter := mp.Meter(meterName)

	l := &MetricsListener{}
	var err error

	if l.submitted, err = meter.Int64Counter("outbox.entries.submitted",
		metric.WithDescription("Entries submitted to the outbox")); err != nil {
		return nil, fmt.Errorf("outbox/observability: %w", err)
	}
	if l.processed, err = meter.Int64Counter("outbox.entries.processed",
		metric.WithDescription("Entries processed successfully")); err != nil {
		return nil, fmt.Errorf("outbox/observability: %w", err)
	}
	if l.retried, err = meter.Int64Counter("outbox.entries.retried",
		metric.WithDescription("Failed attempts scheduled for retry")); err != nil {
		return nil, fmt.Errorf("outbox/observability: %w", err)
	}
	if l.blocked, err = meter.Int64Counter("outbox.entries.blocked",
		metric.WithDescription("Entries blocked after exceeding the attempt threshold")); err != nil {
		return nil, fmt.Errorf("outbox/observability: %w", err)
	}
	if l.unblocked, err = meter.Int64Counter("outbox.entries.unblocked",
		metric.WithDescription("Blocked entries cleared by an operator")); err != nil {
		return nil, fmt.Errorf("outbox/observability: %w", err)
	}
	if l.procTime, err = meter.Float64Histogram("outbox.processing.duration",
		metric.WithDescription("Entry processing duration"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("outbox/observability: %w", err)
	}

	return l, nil
}

// Name implements ext.Listener.
func (l *MetricsListener) Name() string { return "observability-metrics" }

func targetAttr(e *entry.Entry) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("outbox.target", e.Invocation.Target))
}

// OnEntrySubmitted implements ext.EntrySubmitted.
func (l *MetricsListener) OnEntrySubmitted(ctx context.Context, e *entry.Entry) error {
	l.submitted.Add(ctx, 1, targetAttr(e))
	return nil
}

// OnEntryProcessed implements ext.EntryProcessed.
func (l *MetricsListener) OnEntryProcessed(ctx context.Context, e *entry.Entry, elapsed time.Duration) error {
	l.processed.Add(ctx, 1, targetAttr(e))
	l.procTime.Record(ctx, elapsed.Seconds(), targetAttr(e))
	return nil
}

// OnEntryRetrying implements ext.EntryRetrying.
func (l *MetricsListener) OnEntryRetrying(ctx context.Context, e *entry.Entry, _ error, _ time.Time) error {
	l.retried.Add(ctx, 1, targetAttr(e))
	return nil
}

// OnEntryBlocked implements ext.EntryBlocked.
func (l *MetricsListener) OnEntryBlocked(ctx context.Context, e *entry.Entry, _ error) error {
	l.blocked.Add(ctx, 1, targetAttr(e))
	return nil
}

// OnEntryUnblocked implements ext.EntryUnblocked.
func (l *MetricsListener) OnEntryUnblocked(ctx context.Context, _ string) error {
	l.unblocked.Add(ctx, 1)
	return nil
}
