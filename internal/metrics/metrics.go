// Package metrics defines the engine's OpenTelemetry instruments. Recording
// methods are nil-safe so components can run uninstrumented in tests.
package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Result attribute values for counters.
const (
	ResultOK               = "ok"
	ResultRetried          = "retried"
	ResultFailed           = "failed"
	ResultSkipped          = "skipped"
	ResultDeleted          = "deleted"
	ResultPermanentFailure = "permanent_failure"
)

// Metrics holds the engine's instruments.
type Metrics struct {
	meter metric.Meter

	ingestBatches metric.Int64Counter
	ingestJobs    metric.Int64Counter
	providerCalls metric.Int64Counter
	sweepRepairs  metric.Int64Counter
}

// New creates the counter instruments on the given meter.
func New(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{meter: meter}
	var err error

	if m.ingestBatches, err = meter.Int64Counter("ingest.batches",
		metric.WithDescription("Drained ingestion batches by result")); err != nil {
		return nil, fmt.Errorf("create ingest.batches: %w", err)
	}
	if m.ingestJobs, err = meter.Int64Counter("ingest.jobs",
		metric.WithDescription("Processed refresh jobs by result")); err != nil {
		return nil, fmt.Errorf("create ingest.jobs: %w", err)
	}
	if m.providerCalls, err = meter.Int64Counter("embedding.provider.calls",
		metric.WithDescription("Embedding provider calls by result")); err != nil {
		return nil, fmt.Errorf("create embedding.provider.calls: %w", err)
	}
	if m.sweepRepairs, err = meter.Int64Counter("sweep.repairs",
		metric.WithDescription("Reconciliation repairs by operation")); err != nil {
		return nil, fmt.Errorf("create sweep.repairs: %w", err)
	}
	return m, nil
}

// Nop returns metrics backed by a no-op meter, for tests.
func Nop() *Metrics {
	m, _ := New(noop.NewMeterProvider().Meter("test"))
	return m
}

// RegisterQueueDepth publishes the queue depth as an observable gauge.
func (m *Metrics) RegisterQueueDepth(depth func() (pending, inFlight int)) error {
	if m == nil {
		return nil
	}
	gauge, err := m.meter.Int64ObservableGauge("queue.depth",
		metric.WithDescription("Pending refresh jobs"))
	if err != nil {
		return fmt.Errorf("create queue.depth: %w", err)
	}
	_, err = m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		pending, inFlight := depth()
		o.ObserveInt64(gauge, int64(pending), metric.WithAttributes(attribute.String("state", "pending")))
		o.ObserveInt64(gauge, int64(inFlight), metric.WithAttributes(attribute.String("state", "in_flight")))
		return nil
	}, gauge)
	return err
}

// RegisterCoverage publishes the per-tenant embedded fraction as an
// observable gauge. The callback returns tenant id to coverage in [0, 1].
func (m *Metrics) RegisterCoverage(coverage func(ctx context.Context) map[string]float64) error {
	if m == nil {
		return nil
	}
	gauge, err := m.meter.Float64ObservableGauge("tenant.coverage",
		metric.WithDescription("Fraction of live source items with a current embedding"))
	if err != nil {
		return fmt.Errorf("create tenant.coverage: %w", err)
	}
	_, err = m.meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		for tenant, value := range coverage(ctx) {
			o.ObserveFloat64(gauge, value, metric.WithAttributes(attribute.String("tenant", tenant)))
		}
		return nil
	}, gauge)
	return err
}

// RecordBatch counts one drained batch outcome.
func (m *Metrics) RecordBatch(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.ingestBatches.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordJobs counts n processed jobs with the same outcome.
func (m *Metrics) RecordJobs(ctx context.Context, result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ingestJobs.Add(ctx, int64(n), metric.WithAttributes(attribute.String("result", result)))
}

// RecordProviderCall counts one embedding provider call outcome.
func (m *Metrics) RecordProviderCall(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.providerCalls.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordSweepRepair counts one reconciliation repair by operation.
func (m *Metrics) RecordSweepRepair(ctx context.Context, op string) {
	if m == nil {
		return
	}
	m.sweepRepairs.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}
