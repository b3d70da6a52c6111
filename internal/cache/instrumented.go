package cache

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	metricsOnce     sync.Once
	cacheOperations metric.Int64Counter
	cacheDuration   metric.Float64Histogram
)

func initMetrics() {
	metricsOnce.Do(func() {
		meter := otel.Meter("github.com/chinmina/ghapp/internal/cache")

		var err error
		cacheOperations, err = meter.Int64Counter(
			"cache.operations",
			metric.WithDescription("Total cache operations"),
		)
		if err != nil {
			otel.Handle(err)
		}

		cacheDuration, err = meter.Float64Histogram(
			"cache.operation.duration",
			metric.WithDescription("Cache operation duration"),
			metric.WithUnit("s"),
		)
		if err != nil {
			otel.Handle(err)
		}
	})
}

// Instrumented records the outcome and duration of every operation of the
// wrapped cache as metrics and span attributes.
type Instrumented[T any] struct {
	wrapped   Cache[T]
	cacheType string
}

func NewInstrumented[T any](c Cache[T], cacheType string) *Instrumented[T] {
	initMetrics()
	return &Instrumented[T]{
		wrapped:   c,
		cacheType: cacheType,
	}
}

func (i *Instrumented[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var (
		value T
		found bool
	)

	err := i.observe(ctx, "get", func() (string, error) {
		var err error
		value, found, err = i.wrapped.Get(ctx, key)
		if found {
			return "hit", err
		}
		return "miss", err
	})

	return value, found, err
}

func (i *Instrumented[T]) Set(ctx context.Context, key string, value T) error {
	return i.observe(ctx, "set", func() (string, error) {
		return "success", i.wrapped.Set(ctx, key, value)
	})
}

func (i *Instrumented[T]) Invalidate(ctx context.Context, key string) error {
	return i.observe(ctx, "invalidate", func() (string, error) {
		return "success", i.wrapped.Invalidate(ctx, key)
	})
}

func (i *Instrumented[T]) Take(ctx context.Context, key string) (T, bool, error) {
	var (
		value T
		found bool
	)

	err := i.observe(ctx, "take", func() (string, error) {
		var err error
		value, found, err = i.wrapped.Take(ctx, key)
		if found {
			return "hit", err
		}
		return "miss", err
	})

	return value, found, err
}

func (i *Instrumented[T]) Close() error {
	return i.wrapped.Close()
}

// observe runs op, recording its status ("error" whenever op fails) and
// duration.
func (i *Instrumented[T]) observe(ctx context.Context, operation string, op func() (string, error)) error {
	start := time.Now()

	status, err := op()
	if err != nil {
		status = "error"
	}

	duration := time.Since(start)
	attrs := []attribute.KeyValue{
		attribute.String("cache.type", i.cacheType),
		attribute.String("cache.operation", operation),
	}

	if cacheDuration != nil {
		cacheDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	}
	if cacheOperations != nil {
		cacheOperations.Add(ctx, 1, metric.WithAttributes(append(attrs, attribute.String("cache.status", status))...))
	}

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("cache.type", i.cacheType),
		attribute.String("cache."+operation+".status", status),
		attribute.Float64("cache."+operation+".duration", duration.Seconds()),
	)

	return err
}
