package telemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const (
	// ServiceName is the canonical telemetry service name.
	ServiceName = "autoaccept"
	// StderrEndpoint selects the console exporter instead of OTLP.
	StderrEndpoint = "stderr"
	// CertificateEnv names a PEM bundle trusted by the OTLP exporter.
	CertificateEnv = "OTEL_EXPORTER_OTLP_CERTIFICATE"
	// BatchTimeout configures batch span processor flush interval.
	BatchTimeout = 5 * time.Second
	// BatchSize configures batch span processor max export batch size.
	BatchSize = 512
)

// Options selects where daemon spans go.
type Options struct {
	// Endpoint is an OTLP/HTTP URL, StderrEndpoint, or empty to keep spans local.
	Endpoint    string
	Version     string
	Environment string
	// Certificate is a PEM file path for a private collector CA.
	Certificate string
	// Console receives spans when Endpoint is StderrEndpoint. Defaults to os.Stderr.
	Console io.Writer
}

var exporterFactory = func(ctx context.Context, endpoint, certificate string) (sdktrace.SpanExporter, error) {
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpointURL(endpoint)}
	if certificate != "" {
		tlsConfig, err := tlsConfigFromCertificate(certificate)
		if err != nil {
			return nil, err
		}
		opts = append(opts, otlptracehttp.WithTLSClientConfig(tlsConfig))
	}
	return otlptracehttp.New(ctx, opts...)
}

// Init installs the global tracer provider and returns its shutdown func.
// Without an endpoint spans are still recorded, so span-based tests and
// trace IDs in logs keep working, but nothing is exported.
func Init(ctx context.Context, opts Options) (func(), error) {
	opts = opts.withDefaults()
	res, err := resource.New(
		ctx,
		resource.WithAttributes(
			attribute.String("service.name", ServiceName),
			attribute.String("service.version", opts.Version),
			attribute.String("environment", opts.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create telemetry resource: %w", err)
	}

	providerOptions := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	switch opts.Endpoint {
	case "":
	case StderrEndpoint:
		providerOptions = append(providerOptions, sdktrace.WithSyncer(&consoleExporter{out: opts.Console}))
	default:
		exporter, err := exporterFactory(ctx, opts.Endpoint, opts.Certificate)
		if err != nil {
			return nil, fmt.Errorf("create OTLP exporter for %s: %w", opts.Endpoint, err)
		}
		providerOptions = append(providerOptions, sdktrace.WithBatcher(
			exporter,
			sdktrace.WithBatchTimeout(BatchTimeout),
			sdktrace.WithMaxExportBatchSize(BatchSize),
		))
	}

	provider := sdktrace.NewTracerProvider(providerOptions...)
	otel.SetTracerProvider(provider)

	var once sync.Once
	return func() {
		once.Do(func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), BatchTimeout)
			defer cancel()
			if err := provider.Shutdown(shutdownCtx); err != nil {
				otel.Handle(err)
			}
		})
	}, nil
}

func (o Options) withDefaults() Options {
	o.Endpoint = strings.TrimSpace(o.Endpoint)
	o.Version = strings.TrimSpace(o.Version)
	if o.Version == "" {
		o.Version = "dev"
	}
	o.Environment = strings.ToLower(strings.TrimSpace(o.Environment))
	if o.Environment == "" {
		o.Environment = "dev"
	}
	o.Certificate = strings.TrimSpace(o.Certificate)
	if o.Certificate == "" {
		o.Certificate = strings.TrimSpace(os.Getenv(CertificateEnv))
	}
	if o.Console == nil {
		o.Console = os.Stderr
	}
	return o
}

func tlsConfigFromCertificate(path string) (*tls.Config, error) {
	// #nosec G304 -- the certificate path comes from the operator's OTEL configuration.
	certPEM, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read OTEL certificate %q: %w", path, err)
	}
	pool := x509.NewCertPool()
	if ok := pool.AppendCertsFromPEM(certPEM); !ok {
		return nil, fmt.Errorf("parse OTEL certificate %q: no certificates found", path)
	}
	return &tls.Config{MinVersion: tls.VersionTLS12, RootCAs: pool}, nil
}

// consoleExporter prints one line per span with its attributes.
type consoleExporter struct {
	out io.Writer
}

func (e *consoleExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, span := range spans {
		duration := span.EndTime().Sub(span.StartTime()).Round(time.Millisecond)
		line := fmt.Sprintf("[span] %s %s %s", span.Name(), duration, span.Status().Code)
		for _, attr := range span.Attributes() {
			line += fmt.Sprintf(" %s=%s", attr.Key, attr.Value.Emit())
		}
		if _, err := fmt.Fprintln(e.out, line); err != nil {
			return err
		}
	}
	return nil
}

func (e *consoleExporter) Shutdown(context.Context) error {
	return nil
}

func setExporterFactoryForTest(factory func(context.Context, string, string) (sdktrace.SpanExporter, error)) func() {
	previous := exporterFactory
	exporterFactory = factory
	return func() {
		exporterFactory = previous
	}
}
