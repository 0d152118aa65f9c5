// Package telemetry wraps schema mutations in OpenTelemetry spans and
// counts them. Without an installed provider the global no-op ones apply.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/kubeflow/schema-registry/pkg/schemaerr"
)

const scopeName = "github.com/kubeflow/schema-registry"

// Instruments holds the tracer and counters shared by mutating components.
type Instruments struct {
	tracer    trace.Tracer
	mutations metric.Int64Counter
}

// New builds Instruments from the global providers.
func New() *Instruments {
	counter, _ := otel.Meter(scopeName).Int64Counter("schema_registry.mutations",
		metric.WithDescription("Schema mutations by operation and outcome"),
	)
	return &Instruments{tracer: otel.Tracer(scopeName), mutations: counter}
}

// Start opens a span for operation on schemaID. The returned func ends the
// span and records the outcome; pass it the operation's final error.
func (i *Instruments) Start(ctx context.Context, operation, schemaID string) (context.Context, func(error)) {
	if i == nil {
		return ctx, func(error) {}
	}
	attrs := []attribute.KeyValue{attribute.String("operation", operation)}
	ctx, span := i.tracer.Start(ctx, "schema."+operation, trace.WithAttributes(
		append(attrs, attribute.String("schema.id", schemaID))...,
	))
	return ctx, func(err error) {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			if kind := schemaerr.KindOf(err); kind != "" {
				outcome = string(kind)
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		if i.mutations != nil {
			i.mutations.Add(ctx, 1, metric.WithAttributes(append(attrs, attribute.String("outcome", outcome))...))
		}
		span.End()
	}
}
