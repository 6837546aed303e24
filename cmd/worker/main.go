// Worker node entry point: registers with the master, executes assigned
// tasks, and serves shuffle buckets to peers over an echo HTTP server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"mini-spark/internal/config"
	"mini-spark/internal/logging"
	"mini-spark/internal/worker"
)

func main() {
	var configFile string
	var port int

	root := &cobra.Command{
		Use:   "worker",
		Short: "mini-spark worker: task execution, shuffle exchange, spill",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configFile, port)
		},
	}
	root.Flags().StringVar(&configFile, "config", "", "path to a YAML config file")
	root.Flags().IntVar(&port, "port", 9001, "HTTP port this worker listens on")

	if err := root.Execute(); err != nil {
		panic(err)
	}
}

func run(configFile string, port int) error {
	log := logging.New("worker")
	cfg := config.LoadWorker(configFile)

	advertiseAddr := cfg.Addr
	if advertiseAddr == "" {
		advertiseAddr = fmt.Sprintf("http://localhost:%d", port)
	}

	if err := os.MkdirAll(cfg.TmpDir, 0o755); err != nil {
		return err
	}
	worker.CleanupOrphans(cfg.TmpDir, time.Hour, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	agent := worker.NewAgent(advertiseAddr, cfg.MasterURL, cfg.Slots, cfg.TmpDir, cfg.MaxInMemKeys, cfg.HeartbeatMS, log)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	agent.ShuffleServer(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	listenAddr := fmt.Sprintf(":%d", port)
	log.Info().Str("addr", advertiseAddr).Str("listen", listenAddr).Msg("worker starting")
	go func() {
		if err := e.Start(listenAddr); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("shuffle HTTP server stopped")
		}
	}()

	go func() {
		if err := agent.Run(ctx); err != nil {
			log.Fatal().Err(err).Msg("agent stopped")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	return e.Shutdown(context.Background())
}
