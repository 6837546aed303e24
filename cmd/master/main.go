// Master node entry point: accepts jobs, dispatches tasks on worker
// heartbeats, and exposes Prometheus metrics over an echo HTTP server.
package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"mini-spark/internal/config"
	"mini-spark/internal/logging"
	"mini-spark/internal/master"
)

func main() {
	var configFile string

	root := &cobra.Command{
		Use:   "master",
		Short: "mini-spark master: job admission, DAG compilation, scheduling",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configFile)
		},
	}
	root.Flags().StringVar(&configFile, "config", "", "path to a YAML config file")

	if err := root.Execute(); err != nil {
		panic(err)
	}
}

func run(configFile string) error {
	log := logging.New("master")
	cfg := config.LoadMaster(configFile)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := master.NewRegistry(cfg.MaxAttempts, cfg.DeadTimeoutMS, cfg.HeartbeatMS)
	go reg.RunMaintenanceLoop(ctx, cfg.TaskTimeoutMS, log)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := master.NewServer(reg, log, cfg.HeartbeatMS, cfg.DeadTimeoutMS)
	srv.Register(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	log.Info().Str("bind_addr", cfg.BindAddr).Msg("master listening")
	go func() {
		if err := e.Start(cfg.BindAddr); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("master HTTP server stopped")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	return e.Shutdown(context.Background())
}
