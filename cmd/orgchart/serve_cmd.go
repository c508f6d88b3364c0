package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/iota-uz/orgchart/internal/server"
	"github.com/iota-uz/orgchart/modules/orgchart"
	"github.com/iota-uz/orgchart/pkg/application"
	"github.com/iota-uz/orgchart/pkg/configuration"
	"github.com/iota-uz/orgchart/pkg/eventbus"
	"github.com/iota-uz/orgchart/pkg/logging"
	"github.com/iota-uz/orgchart/pkg/metrics"
)

func newServeCmd() *cobra.Command {
	var warm bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the org chart API using the environment configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfiguration()
			if err != nil {
				return withCode(exitUsage, err)
			}
			defer conf.Unload()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, conf, warm)
		},
	}
	cmd.Flags().BoolVar(&warm, "warm", true, "Load the graph before accepting requests")
	return cmd
}

func loadConfiguration() (conf *configuration.Configuration, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("load configuration: %v", r)
		}
	}()
	return configuration.Use(), nil
}

func runServe(ctx context.Context, conf *configuration.Configuration, warm bool) error {
	logger := conf.Logger()
	if logger == nil {
		logger = logging.ConsoleLogger(conf.LogrusLogLevel())
	}

	if conf.OpenTelemetry.Enabled {
		cleanup := logging.SetupTracing(ctx, conf.OpenTelemetry.ServiceName, conf.OpenTelemetry.TempoURL, logger)
		defer cleanup()
		logger.Info("OpenTelemetry tracing enabled, exporting to " + conf.OpenTelemetry.TempoURL)
	}

	app := application.New(&application.ApplicationOptions{
		EventBus: eventbus.NewEventPublisher(logger),
		Logger:   logger,
	})
	module := orgchart.NewModule(&orgchart.ModuleOptions{Config: conf})
	if err := app.RegisterModules(module); err != nil {
		return withCode(exitUsage, err)
	}
	defer func() {
		if err := module.Close(); err != nil {
			logger.WithError(err).Warn("orgchart: close module")
		}
	}()

	if conf.Prometheus.Enabled {
		app.RegisterControllers(metrics.NewPrometheusController(conf.Prometheus.Path))
	}

	if warm {
		warmCtx, cancel := context.WithTimeout(ctx, conf.TreeAPI.Timeout)
		err := module.Warm(warmCtx)
		cancel()
		if err != nil {
			// The graph is loaded lazily on the first request.
			logger.WithError(err).Warn("orgchart: initial load failed")
		}
	}

	srv, err := server.Default(&server.DefaultOptions{
		Logger:        logger,
		Configuration: conf,
		Application:   app,
	})
	if err != nil {
		return withCode(exitServe, err)
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(conf.SocketAddress)
	}()
	logger.Infof("Listening on: %s", conf.SocketAddress)

	select {
	case err := <-errCh:
		if err != nil {
			return withCode(exitServe, err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return withCode(exitServe, err)
	}
	return <-errCh
}
