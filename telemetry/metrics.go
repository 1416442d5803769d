package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/mongodb/grip"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	operationCountInstrument    = "morphia.operation.count"
	operationDurationInstrument = "morphia.operation.duration"
	operationErrorInstrument    = "morphia.operation.errors"
)

type instruments struct {
	count    metric.Int64Counter
	errors   metric.Int64Counter
	duration metric.Float64Histogram
}

var (
	instrumentsOnce sync.Once
	operationMeters *instruments
)

// meters creates the operation instruments on first use, against whatever
// meter provider is installed at that point.
func meters() *instruments {
	instrumentsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter(PackageName)
		catcher := grip.NewBasicCatcher()
		out := &instruments{}
		var err error

		out.count, err = meter.Int64Counter(operationCountInstrument, metric.WithUnit("{operation}"),
			metric.WithDescription("Datastore operations run."))
		catcher.Add(err)
		out.errors, err = meter.Int64Counter(operationErrorInstrument, metric.WithUnit("{operation}"),
			metric.WithDescription("Datastore operations that failed."))
		catcher.Add(err)
		out.duration, err = meter.Float64Histogram(operationDurationInstrument, metric.WithUnit("ms"),
			metric.WithDescription("Datastore operation latency."))
		catcher.Add(err)

		grip.Error(errors.Wrap(catcher.Resolve(), "creating operation instruments"))
		operationMeters = out
	})
	return operationMeters
}

// RecordOperation records one datastore operation that started at start.
func RecordOperation(ctx context.Context, operation, collection string, start time.Time, err error) {
	m := meters()
	attrs := metric.WithAttributes(
		attribute.String(OperationAttribute, operation),
		attribute.String(CollectionAttribute, collection),
	)
	if m.count != nil {
		m.count.Add(ctx, 1, attrs)
	}
	if err != nil && m.errors != nil {
		m.errors.Add(ctx, 1, attrs)
	}
	if m.duration != nil {
		m.duration.Record(ctx, float64(time.Since(start))/float64(time.Millisecond), attrs)
	}
}
