// Package telemetry holds the OpenTelemetry attribute names and span
// helpers shared by the datastore, query and aggregation packages.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const PackageName = "github.com/MorphiaOrg/morphia"

const (
	CollectionAttribute = "morphia.collection"
	DatabaseAttribute   = "morphia.database"
	EntityAttribute     = "morphia.entity"
	OperationAttribute  = "morphia.operation"
	CountAttribute      = "morphia.count"
)

// Tracer returns the tracer for a morphia package, named by its path below
// the module root.
func Tracer(pkg string) trace.Tracer {
	name := PackageName
	if pkg != "" {
		name += "/" + pkg
	}
	return otel.GetTracerProvider().Tracer(name)
}

// Start opens a span for an operation on collection.
func Start(ctx context.Context, tracer trace.Tracer, operation, collection string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs,
		attribute.String(OperationAttribute, operation),
		attribute.String(CollectionAttribute, collection),
	)
	return tracer.Start(ctx, operation, trace.WithAttributes(attrs...))
}

// End records err on span, if any, and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	}
	span.End()
}
