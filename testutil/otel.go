package testutil

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/MorphiaOrg/morphia/telemetry"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/trace"
)

const (
	otelCollectorEndpointEnvVar = "OTEL_COLLECTOR_ENDPOINT"
	otelTraceIDEnvVar           = "OTEL_TRACE_ID"
	otelParentIDEnvVar          = "OTEL_PARENT_ID"

	testServiceName = "morphia-tests"
)

var testContexts sync.Map

// TestContext returns a context for t carrying a span named after the test.
// Subtests nest under the span of their closest enclosing test that has one.
// Spans of a top level test are exported only when a collector endpoint,
// trace ID and parent span ID are set in the environment.
func TestContext(t *testing.T) context.Context {
	parent := ContextForTest(t)
	if parent == nil {
		parent = rootContext(t)
	}

	ctx, span := telemetry.Tracer("testutil").Start(parent, t.Name())
	testContexts.Store(t.Name(), ctx)
	t.Cleanup(func() {
		testContexts.Delete(t.Name())
		span.End()
	})
	return ctx
}

// ContextForTest returns the context of the closest enclosing test that
// called TestContext, or nil.
func ContextForTest(t *testing.T) context.Context {
	names := strings.Split(t.Name(), "/")
	for x := len(names) - 1; x > 0; x-- {
		if ctx, ok := testContexts.Load(strings.Join(names[:x], "/")); ok {
			return ctx.(context.Context)
		}
	}
	return nil
}

func rootContext(t *testing.T) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	endpoint := os.Getenv(otelCollectorEndpointEnvVar)
	traceIDString := os.Getenv(otelTraceIDEnvVar)
	spanIDString := os.Getenv(otelParentIDEnvVar)
	if endpoint == "" || traceIDString == "" || spanIDString == "" {
		return ctx
	}

	traceID, err := trace.TraceIDFromHex(traceIDString)
	if err != nil {
		t.Logf("parsing trace ID '%s': %s", traceIDString, err)
		return ctx
	}
	spanID, err := trace.SpanIDFromHex(spanIDString)
	if err != nil {
		t.Logf("parsing parent span ID '%s': %s", spanIDString, err)
		return ctx
	}

	closer, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:           true,
		CollectorEndpoint: endpoint,
		Insecure:          true,
		ServiceName:       testServiceName,
	})
	if err != nil {
		t.Logf("initializing telemetry: %s", err)
		return ctx
	}
	// registered before the test span ends, so it runs after it
	t.Cleanup(func() {
		if err := closer(context.Background()); err != nil {
			t.Log(errors.Wrap(err, "closing telemetry"))
		}
	})

	return trace.ContextWithSpanContext(ctx, trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))
}
