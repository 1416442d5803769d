package telemetry

import (
	"context"
	"time"

	"github.com/evergreen-ci/utility"
	"github.com/mongodb/grip"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.20.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	exportInterval = 15 * time.Second
	exportTimeout  = exportInterval * 2

	defaultServiceName = "morphia"
)

// Config configures export of traces and metrics to an OpenTelemetry
// collector. If not enabled nothing is exported.
type Config struct {
	Enabled           bool   `yaml:"enabled" mapstructure:"enabled"`
	CollectorEndpoint string `yaml:"collector_endpoint" mapstructure:"collector_endpoint"`
	Insecure          bool   `yaml:"insecure" mapstructure:"insecure"`
	ServiceName       string `yaml:"service_name" mapstructure:"service_name"`
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Enabled && c.CollectorEndpoint == "" {
		return errors.New("tracer can't be enabled without a collector endpoint")
	}
	return nil
}

// Closer shuts exporters down, flushing pending data.
type Closer func(context.Context) error

// Setup installs global tracer and meter providers exporting to the
// configured collector. The returned closer must be called on shutdown.
func Setup(ctx context.Context, conf Config) (Closer, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	if !conf.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	creds := credentials.NewTLS(nil)
	if conf.Insecure {
		creds = insecure.NewCredentials()
	}
	conn, err := grpc.DialContext(ctx, conf.CollectorEndpoint, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, errors.Wrapf(err, "opening gRPC connection to '%s'", conf.CollectorEndpoint)
	}

	serviceName := conf.ServiceName
	if serviceName == "" {
		serviceName = defaultServiceName
	}
	res := resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(serviceName))

	traceExporter, err := otlptrace.New(ctx, otlptracegrpc.NewClient(otlptracegrpc.WithGRPCConn(conn)))
	if err != nil {
		grip.Warning(errors.Wrap(conn.Close(), "closing gRPC connection"))
		return nil, errors.Wrap(err, "initializing otel exporter")
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	tp.RegisterSpanProcessor(utility.NewAttributeSpanProcessor())
	otel.SetTracerProvider(tp)

	metricsExporter, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithGRPCConn(conn))
	if err != nil {
		grip.Warning(errors.Wrap(tp.Shutdown(ctx), "trace provider shutdown"))
		grip.Warning(errors.Wrap(conn.Close(), "closing gRPC connection"))
		return nil, errors.Wrap(err, "making otel metrics exporter")
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricsExporter,
			sdkmetric.WithInterval(exportInterval),
			sdkmetric.WithTimeout(exportTimeout))),
	)
	otel.SetMeterProvider(mp)

	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		grip.Error(errors.Wrap(err, "otel error"))
	}))

	return func(ctx context.Context) error {
		catcher := grip.NewBasicCatcher()
		catcher.Wrap(mp.Shutdown(ctx), "meter provider shutdown")
		catcher.Wrap(tp.Shutdown(ctx), "trace provider shutdown")
		catcher.Wrap(traceExporter.Shutdown(ctx), "trace exporter shutdown")
		catcher.Wrap(conn.Close(), "closing gRPC connection")
		return catcher.Resolve()
	}, nil
}
