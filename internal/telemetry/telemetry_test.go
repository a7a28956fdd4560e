package telemetry

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type fakeExporter struct {
	exported []sdktrace.ReadOnlySpan
	shutdown bool
}

func (f *fakeExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	f.exported = append(f.exported, spans...)
	return nil
}

func (f *fakeExporter) Shutdown(_ context.Context) error {
	f.shutdown = true
	return nil
}

func TestInitUsesConfiguredEndpointAndResourceAttributes(t *testing.T) {
	fake := &fakeExporter{}
	capturedEndpoint := ""
	restoreFactory := setExporterFactoryForTest(func(_ context.Context, endpoint, _ string) (sdktrace.SpanExporter, error) {
		capturedEndpoint = endpoint
		return fake, nil
	})
	defer restoreFactory()

	shutdown, err := Init(context.Background(), Options{
		Endpoint:    " http://collector:4318 ",
		Version:     "v1.2.3-test",
		Environment: "Prod",
	})
	if err != nil {
		t.Fatalf("init telemetry: %v", err)
	}

	if capturedEndpoint != "http://collector:4318" {
		t.Fatalf("endpoint = %q, want collector endpoint", capturedEndpoint)
	}

	_, span := otel.Tracer("telemetry-test").Start(context.Background(), "startup")
	span.End()

	shutdown()
	shutdown()
	if !fake.shutdown {
		t.Fatal("expected exporter shutdown on telemetry shutdown")
	}
	if len(fake.exported) == 0 {
		t.Fatal("expected at least one exported span")
	}

	attrs := fake.exported[0].Resource().Attributes()
	assertResourceAttribute(t, attrs, "service.name", ServiceName)
	assertResourceAttribute(t, attrs, "service.version", "v1.2.3-test")
	assertResourceAttribute(t, attrs, "environment", "prod")
}

func TestInitWithoutEndpointSkipsExporter(t *testing.T) {
	called := false
	restoreFactory := setExporterFactoryForTest(func(context.Context, string, string) (sdktrace.SpanExporter, error) {
		called = true
		return &fakeExporter{}, nil
	})
	defer restoreFactory()

	shutdown, err := Init(context.Background(), Options{})
	if err != nil {
		t.Fatalf("init telemetry: %v", err)
	}
	defer shutdown()

	if called {
		t.Fatal("exporter must not be created without an endpoint")
	}
}

func TestInitStderrPrintsSpans(t *testing.T) {
	var console bytes.Buffer
	shutdown, err := Init(context.Background(), Options{Endpoint: StderrEndpoint, Console: &console})
	if err != nil {
		t.Fatalf("init telemetry: %v", err)
	}

	_, span := otel.Tracer("telemetry-test").Start(context.Background(), "leader.tick")
	span.SetAttributes(attribute.String("role", "leader"))
	span.End()
	shutdown()

	line := console.String()
	if !strings.HasPrefix(line, "[span] leader.tick") || !strings.Contains(line, "role=leader") {
		t.Fatalf("console output = %q", line)
	}
}

func TestInitReturnsExporterErrors(t *testing.T) {
	restoreFactory := setExporterFactoryForTest(func(context.Context, string, string) (sdktrace.SpanExporter, error) {
		return nil, errors.New("dial failed")
	})
	defer restoreFactory()

	shutdown, err := Init(context.Background(), Options{Endpoint: "http://collector:4318"})
	if err == nil {
		t.Fatal("expected exporter error")
	}
	if shutdown != nil {
		t.Fatal("shutdown must be nil when init fails")
	}
}

func TestInitRejectsUnreadableCertificate(t *testing.T) {
	_, err := Init(context.Background(), Options{
		Endpoint:    "https://collector:4318",
		Certificate: t.TempDir() + "/missing.pem",
	})
	if err == nil || !strings.Contains(err.Error(), "read OTEL certificate") {
		t.Fatalf("err = %v, want certificate read error", err)
	}
}

func TestOptionDefaults(t *testing.T) {
	t.Setenv(CertificateEnv, "")
	opts := Options{}.withDefaults()
	if opts.Version != "dev" || opts.Environment != "dev" {
		t.Fatalf("defaults = %+v", opts)
	}
	if opts.Console == nil {
		t.Fatal("console writer must default to stderr")
	}
	if BatchSize != 512 || BatchTimeout != 5*time.Second {
		t.Fatalf("batch config = %d/%s", BatchSize, BatchTimeout)
	}
}

func assertResourceAttribute(t *testing.T, attrs []attribute.KeyValue, key, want string) {
	t.Helper()
	for _, attr := range attrs {
		if string(attr.Key) == key {
			if attr.Value.AsString() != want {
				t.Fatalf("resource attr %s = %q, want %q", key, attr.Value.AsString(), want)
			}
			return
		}
	}
	t.Fatalf("resource attribute %q not found", key)
}
