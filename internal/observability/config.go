package observability

import (
	"os"
	"strconv"
	"strings"

	"github.com/smallbiznis/dripflow/internal/config"
)

// Config is the observability slice of the runtime configuration: identity
// for the trace resource, log shape, and the OTLP exporter wiring.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

// LoadConfig layers OTEL_* environment variables over the application config.
// The standard OTEL variable names win so collector sidecars can steer the
// exporter without touching app settings.
func LoadConfig(cfg config.Config) Config {
	out := Config{
		ServiceName:          strings.TrimSpace(cfg.AppName),
		Environment:          strings.TrimSpace(envOr("DEPLOYMENT_ENV", cfg.Environment)),
		Version:              strings.TrimSpace(envOr("SERVICE_VERSION", cfg.AppVersion)),
		LogLevel:             strings.ToLower(strings.TrimSpace(envOr("LOG_LEVEL", "info"))),
		LogFormat:            strings.ToLower(strings.TrimSpace(envOr("LOG_FORMAT", "json"))),
		OtelEnabled:          envBool("OTEL_ENABLED", true),
		OtelExporterEndpoint: strings.TrimSpace(envOr("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint)),
		OtelExporterProtocol: strings.ToLower(strings.TrimSpace(envOr("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))),
		OtelSamplingRatio:    envFloat("OTEL_SAMPLING_RATIO", 0.1),
	}
	if out.ServiceName == "" {
		out.ServiceName = "dripflow"
	}
	// The traces-specific protocol override outranks the generic one.
	if p := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL")); p != "" {
		out.OtelExporterProtocol = strings.ToLower(p)
	}
	return out
}

// Debug reports whether request logging should include debug detail.
func (c Config) Debug() bool {
	if strings.ToLower(strings.TrimSpace(c.LogLevel)) == "debug" {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	}
	return def
}

func envFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return parsed
}
