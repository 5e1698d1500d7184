package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/steveyegge/bdsync/internal/storage"
	"github.com/steveyegge/bdsync/internal/types"
)

const storageScopeName = "github.com/steveyegge/bdsync/storage"

// InstrumentedStore wraps storage.Store with OTel tracing and metrics.
// Every method gets a span and is counted in bdsync.storage.* metrics.
// Use WrapStore to create one; it returns the original store unchanged when
// telemetry is disabled.
type InstrumentedStore struct {
	inner  storage.Store
	tracer trace.Tracer
	ops    metric.Int64Counter
	dur    metric.Float64Histogram
	errs   metric.Int64Counter
}

var (
	_ storage.Store       = (*InstrumentedStore)(nil)
	_ storage.IssueLocker = (*InstrumentedStore)(nil)
)

// WrapStore returns s decorated with OTel instrumentation.
// When telemetry is disabled, s is returned as-is.
func WrapStore(s storage.Store) storage.Store {
	if !Enabled() {
		return s
	}
	return newInstrumentedStore(s)
}

func newInstrumentedStore(s storage.Store) *InstrumentedStore {
	m := Meter(storageScopeName)
	ops, _ := m.Int64Counter("bdsync.storage.operations",
		metric.WithDescription("Total record store operations executed"),
	)
	dur, _ := m.Float64Histogram("bdsync.storage.operation.duration",
		metric.WithDescription("Record store operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("bdsync.storage.errors",
		metric.WithDescription("Total record store operation errors"),
	)
	return &InstrumentedStore{
		inner:  s,
		tracer: Tracer(storageScopeName),
		ops:    ops,
		dur:    dur,
		errs:   errs,
	}
}

// Unwrap returns the underlying store.
func (s *InstrumentedStore) Unwrap() storage.Store { return s.inner }

// op starts a span and records a metric for the named storage operation.
func (s *InstrumentedStore) op(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	all := append([]attribute.KeyValue{attribute.String("db.operation", name)}, attrs...)
	ctx, span := s.tracer.Start(ctx, "storage."+name,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	s.ops.Add(ctx, 1, metric.WithAttributes(all...))
	return ctx, span, time.Now()
}

// done ends the span, records duration and optional error.
func (s *InstrumentedStore) done(ctx context.Context, span trace.Span, start time.Time, err error, attrs ...attribute.KeyValue) {
	ms := float64(time.Since(start).Milliseconds())
	s.dur.Record(ctx, ms, metric.WithAttributes(attrs...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.errs.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	span.End()
}

func (s *InstrumentedStore) Load(ctx context.Context, id string) (types.Snapshot, types.Snapshot, error) {
	attrs := []attribute.KeyValue{attribute.String("bdsync.issue.id", id)}
	ctx, span, t := s.op(ctx, "Load", attrs...)
	local, base, err := s.inner.Load(ctx, id)
	s.done(ctx, span, t, err, attrs...)
	return local, base, err
}

func (s *InstrumentedStore) SaveLocal(ctx context.Context, id string, local types.Snapshot) error {
	attrs := []attribute.KeyValue{
		attribute.String("bdsync.issue.id", id),
		attribute.Int("bdsync.field.count", local.Len()),
	}
	ctx, span, t := s.op(ctx, "SaveLocal", attrs...)
	err := s.inner.SaveLocal(ctx, id, local)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) SaveBase(ctx context.Context, id string, base types.Snapshot) error {
	attrs := []attribute.KeyValue{
		attribute.String("bdsync.issue.id", id),
		attribute.Int("bdsync.field.count", base.Len()),
	}
	ctx, span, t := s.op(ctx, "SaveBase", attrs...)
	err := s.inner.SaveBase(ctx, id, base)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) Record(ctx context.Context, id string) (*types.IssueRecord, error) {
	attrs := []attribute.KeyValue{attribute.String("bdsync.issue.id", id)}
	ctx, span, t := s.op(ctx, "Record", attrs...)
	v, err := s.inner.Record(ctx, id)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) FlagRelink(ctx context.Context, id, remote string) error {
	attrs := []attribute.KeyValue{
		attribute.String("bdsync.issue.id", id),
		attribute.String("bdsync.remote", remote),
	}
	ctx, span, t := s.op(ctx, "FlagRelink", attrs...)
	err := s.inner.FlagRelink(ctx, id, remote)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) List(ctx context.Context) ([]string, error) {
	ctx, span, t := s.op(ctx, "List")
	v, err := s.inner.List(ctx)
	s.done(ctx, span, t, err, attribute.Int("bdsync.issue.count", len(v)))
	return v, err
}

// LockIssue delegates to the inner store when it can lock; otherwise the
// lock is a no-op.
func (s *InstrumentedStore) LockIssue(ctx context.Context, id string) (func() error, error) {
	l, ok := s.inner.(storage.IssueLocker)
	if !ok {
		return func() error { return nil }, nil
	}
	attrs := []attribute.KeyValue{attribute.String("bdsync.issue.id", id)}
	ctx, span, t := s.op(ctx, "LockIssue", attrs...)
	unlock, err := l.LockIssue(ctx, id)
	s.done(ctx, span, t, err, attrs...)
	return unlock, err
}
