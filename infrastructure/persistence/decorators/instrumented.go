// Package decorators wraps a RemoteCollectionClient with cross-cutting behavior. Each
// decorator implements ports.RemoteCollectionClient so they compose in any order.
package decorators

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/justineapere-tech/KabSulit-main-sub000/application/ports"
	"github.com/justineapere-tech/KabSulit-main-sub000/domain/core/entities"
	"github.com/justineapere-tech/KabSulit-main-sub000/pkg/observability"
)

// LoggingClient logs every remote call with its duration.
type LoggingClient struct {
	inner  ports.RemoteCollectionClient
	logger *zap.Logger
}

// NewLoggingClient wraps inner with request logging
func NewLoggingClient(inner ports.RemoteCollectionClient, logger *zap.Logger) *LoggingClient {
	return &LoggingClient{inner: inner, logger: logger}
}

func (c *LoggingClient) log(op, table string, start time.Time, err error, fields ...zap.Field) {
	fields = append(fields,
		zap.String("operation", op),
		zap.String("table", table),
		zap.Duration("duration", time.Since(start)),
	)
	if err != nil {
		c.logger.Warn("remote call failed", append(fields, zap.Error(err))...)
		return
	}
	c.logger.Debug("remote call", fields...)
}

func (c *LoggingClient) Fetch(ctx context.Context, q ports.Query) ([]entities.Record, error) {
	start := time.Now()
	recs, err := c.inner.Fetch(ctx, q)
	c.log("fetch", q.Table, start, err, zap.Int("rows", len(recs)), zap.Int("limit", q.Limit))
	return recs, err
}

func (c *LoggingClient) Insert(ctx context.Context, table string, rec entities.Record) (entities.Record, error) {
	start := time.Now()
	saved, err := c.inner.Insert(ctx, table, rec)
	c.log("insert", table, start, err, zap.String("id", saved.ID))
	return saved, err
}

func (c *LoggingClient) Update(ctx context.Context, table string, filters []ports.Filter, patch map[string]any) error {
	start := time.Now()
	err := c.inner.Update(ctx, table, filters, patch)
	c.log("update", table, start, err, zap.Int("fields", len(patch)))
	return err
}

func (c *LoggingClient) Delete(ctx context.Context, table string, filters []ports.Filter) error {
	start := time.Now()
	err := c.inner.Delete(ctx, table, filters)
	c.log("delete", table, start, err)
	return err
}

// MetricsClient records prometheus counters and latencies per table and operation.
type MetricsClient struct {
	inner   ports.RemoteCollectionClient
	metrics *observability.Collector
}

// NewMetricsClient wraps inner with metrics collection
func NewMetricsClient(inner ports.RemoteCollectionClient, metrics *observability.Collector) *MetricsClient {
	return &MetricsClient{inner: inner, metrics: metrics}
}

func (c *MetricsClient) Fetch(ctx context.Context, q ports.Query) ([]entities.Record, error) {
	start := time.Now()
	recs, err := c.inner.Fetch(ctx, q)
	c.metrics.RecordRemote(q.Table, "fetch", start, err)
	return recs, err
}

func (c *MetricsClient) Insert(ctx context.Context, table string, rec entities.Record) (entities.Record, error) {
	start := time.Now()
	saved, err := c.inner.Insert(ctx, table, rec)
	c.metrics.RecordRemote(table, "insert", start, err)
	return saved, err
}

func (c *MetricsClient) Update(ctx context.Context, table string, filters []ports.Filter, patch map[string]any) error {
	start := time.Now()
	err := c.inner.Update(ctx, table, filters, patch)
	c.metrics.RecordRemote(table, "update", start, err)
	return err
}

func (c *MetricsClient) Delete(ctx context.Context, table string, filters []ports.Filter) error {
	start := time.Now()
	err := c.inner.Delete(ctx, table, filters)
	c.metrics.RecordRemote(table, "delete", start, err)
	return err
}

// TracingClient opens a span per remote call.
type TracingClient struct {
	inner  ports.RemoteCollectionClient
	tracer trace.Tracer
}

// NewTracingClient wraps inner with tracing
func NewTracingClient(inner ports.RemoteCollectionClient, tracer trace.Tracer) *TracingClient {
	return &TracingClient{inner: inner, tracer: tracer}
}

func (c *TracingClient) start(ctx context.Context, op, table string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("db.table", table), attribute.String("db.operation", op))
	return c.tracer.Start(ctx, "remote."+op, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(attrs...))
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (c *TracingClient) Fetch(ctx context.Context, q ports.Query) ([]entities.Record, error) {
	ctx, span := c.start(ctx, "fetch", q.Table,
		attribute.Int("query.limit", q.Limit),
		attribute.Int("query.filters", len(q.Filters)),
	)
	recs, err := c.inner.Fetch(ctx, q)
	span.SetAttributes(attribute.Int("query.rows", len(recs)))
	finish(span, err)
	return recs, err
}

func (c *TracingClient) Insert(ctx context.Context, table string, rec entities.Record) (entities.Record, error) {
	ctx, span := c.start(ctx, "insert", table)
	saved, err := c.inner.Insert(ctx, table, rec)
	if err == nil {
		span.SetAttributes(attribute.String("record.id", saved.ID))
	}
	finish(span, err)
	return saved, err
}

func (c *TracingClient) Update(ctx context.Context, table string, filters []ports.Filter, patch map[string]any) error {
	ctx, span := c.start(ctx, "update", table, attribute.Int("patch.fields", len(patch)))
	err := c.inner.Update(ctx, table, filters, patch)
	finish(span, err)
	return err
}

func (c *TracingClient) Delete(ctx context.Context, table string, filters []ports.Filter) error {
	ctx, span := c.start(ctx, "delete", table)
	err := c.inner.Delete(ctx, table, filters)
	finish(span, err)
	return err
}

// Options selects which decorators Chain applies.
type Options struct {
	Logger         *zap.Logger
	Metrics        *observability.Collector
	Tracer         trace.Tracer
	CircuitBreaker *CircuitBreakerConfig
}

// Chain wraps inner from the inside out: breaker, metrics, tracing, logging. Nil options
// are skipped.
func Chain(inner ports.RemoteCollectionClient, opts Options) ports.RemoteCollectionClient {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	client := inner
	if opts.CircuitBreaker != nil {
		client = NewCircuitBreakerClient(client, *opts.CircuitBreaker, logger)
	}
	if opts.Metrics != nil {
		client = NewMetricsClient(client, opts.Metrics)
	}
	if opts.Tracer != nil {
		client = NewTracingClient(client, opts.Tracer)
	}
	if opts.Logger != nil {
		client = NewLoggingClient(client, opts.Logger)
	}
	return client
}
