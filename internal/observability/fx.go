package observability

import (
	"github.com/smallbiznis/dripflow/internal/observability/logger"
	"github.com/smallbiznis/dripflow/internal/observability/metrics"
	"github.com/smallbiznis/dripflow/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

// Module assembles logging, tracing, and metrics from a single observability
// config so every component sees the same service identity.
var Module = fx.Module("observability",
	fx.Provide(
		LoadConfig,
		newLoggerConfig,
		logger.New,
		newTracingConfig,
		tracing.NewProvider,
		newMetricsConfig,
		metrics.New,
		metrics.NewHTTPMetrics,
	),
	// Force construction even though nothing injects the tracer provider
	// directly; spans are reached through the otel globals.
	fx.Invoke(func(_ *sdktrace.TracerProvider) {}),
	fx.Invoke(func(cfg metrics.Config) { metrics.SchedulerWithConfig(cfg) }),
)

func newLoggerConfig(cfg Config) logger.Config {
	debug := cfg.Debug()
	return logger.Config{
		ServiceName:         cfg.ServiceName,
		Environment:         cfg.Environment,
		Version:             cfg.Version,
		Level:               cfg.LogLevel,
		Format:              cfg.LogFormat,
		Debug:               debug,
		IncludeCaller:       true,
		IncludeStackOnError: debug,
	}
}

func newTracingConfig(cfg Config) tracing.Config {
	return tracing.Config{
		Enabled:          cfg.OtelEnabled,
		ServiceName:      cfg.ServiceName,
		ServiceVersion:   cfg.Version,
		Environment:      cfg.Environment,
		ExporterEndpoint: cfg.OtelExporterEndpoint,
		ExporterProtocol: cfg.OtelExporterProtocol,
		SamplingRatio:    cfg.OtelSamplingRatio,
	}
}

func newMetricsConfig(cfg Config) metrics.Config {
	return metrics.Config{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
	}
}
