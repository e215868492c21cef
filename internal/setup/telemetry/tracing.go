package telemetry

import (
	"context"

	"github.com/robalyx/rewind/internal/setup/config"
	"github.com/uptrace/uptrace-go/uptrace"
)

// ConfigureTracing installs the global OpenTelemetry providers when a DSN is configured.
// The returned function flushes and shuts the providers down. It is a no-op when tracing is off.
func ConfigureTracing(cfg *config.Telemetry, component, version string) (enabled bool, shutdown func(context.Context) error) {
	if cfg.UptraceDSN == "" {
		return false, func(context.Context) error { return nil }
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "rewind"
	}

	opts := []uptrace.Option{
		uptrace.WithDSN(cfg.UptraceDSN),
		uptrace.WithServiceName(serviceName + "-" + component),
		uptrace.WithServiceVersion(version),
	}
	if cfg.Environment != "" {
		opts = append(opts, uptrace.WithDeploymentEnvironment(cfg.Environment))
	}

	uptrace.ConfigureOpentelemetry(opts...)

	return true, uptrace.Shutdown
}
