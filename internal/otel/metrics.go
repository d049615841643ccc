package otel

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/pbinitiative/zenpath/internal/config"
	otelPkg "github.com/pbinitiative/zenpath/pkg/otel"
)

const engineMeter = "bpmn-engine"

type Otel struct {
	meterProvider  *metric.MeterProvider
	tracerprovider *trace.TracerProvider
	Registry       *prometheus.Registry
	EngineMetrics  *otelPkg.EngineMetrics
}

// SetupOtel installs the global meter provider backed by a prometheus registry
// and, when tracing is enabled, the global OTLP tracer provider.
func SetupOtel(conf config.Tracing) (*Otel, error) {
	o := Otel{Registry: prometheus.NewRegistry()}
	var err error

	o.meterProvider, err = setupMeterProvider(conf.Name, o.Registry)
	if err != nil {
		return nil, err
	}
	otel.SetMeterProvider(o.meterProvider)
	o.EngineMetrics, err = otelPkg.NewMetrics(o.meterProvider.Meter(engineMeter))
	if err != nil {
		return nil, fmt.Errorf("failed to create engine instruments: %w", err)
	}
	otel.SetTextMapPropagator(propagator())
	if conf.Enabled {
		o.tracerprovider, err = setupTraceProvider(context.Background(), conf)
		if err != nil {
			return nil, fmt.Errorf("failed to set up tracer: %w", err)
		}
		otel.SetTracerProvider(o.tracerprovider)
	}

	return &o, nil
}

func (o *Otel) Stop(ctx context.Context) {
	if o.meterProvider != nil {
		_ = o.meterProvider.Shutdown(ctx)
		o.meterProvider = nil
	}
	if o.tracerprovider != nil {
		_ = o.tracerprovider.Shutdown(ctx)
		o.tracerprovider = nil
	}
}

func setupMeterProvider(appName string, registry *prometheus.Registry) (*metric.MeterProvider, error) {
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to set up prometheus exporter: %w", err)
	}

	// schemaless so the merge never conflicts with the sdk default schema
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(appName),
		attribute.String("library.language", "go"),
	))
	if err != nil {
		return nil, err
	}

	meterProvider := metric.NewMeterProvider(
		metric.WithReader(exporter),
		metric.WithResource(res),
	)
	return meterProvider, nil
}
