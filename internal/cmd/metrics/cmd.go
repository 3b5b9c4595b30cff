// Package metrics parses metrics service flags and launches the service.
package metrics

import (
	"context"
	"flag"

	entrypoint "github.com/louisbranch/metrics.space/internal/platform/cmd"
	server "github.com/louisbranch/metrics.space/internal/services/metrics/app"
)

// Config holds metrics command configuration.
type Config struct {
	Addr string `env:"METRICS_SPACE_ADDR" envDefault:":8090"`
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "The metrics HTTP server address")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the metrics HTTP API service.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceMetrics, func(context.Context) error {
		return server.Run(ctx, cfg.Addr)
	})
}
