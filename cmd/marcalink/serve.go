// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/marcalink/internal/dispatch"
	"github.com/pdiddy/marcalink/internal/fsstore"
	"github.com/pdiddy/marcalink/internal/metrics"
	"github.com/pdiddy/marcalink/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a data directory to remote clients over WebSocket",
	Long: `Serve opens the filesystem store at storage.base_dir and answers
storage actions sent by remote clients on the WebSocket endpoint. It also
exposes /health and Prometheus metrics on /metrics.

The active project is held in memory and is shared by every client of
this process.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, closer, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	store, err := fsstore.New(cfg.Storage.BaseDir, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	d := dispatch.New(dispatch.WithLogger(logger), dispatch.WithMetrics(m))
	dispatch.Register(d, store)

	srv, err := server.New(server.Config{
		Addr:       cfg.Server.Addr,
		Path:       cfg.Server.Path,
		Dispatcher: d,
		Logger:     logger,
		Metrics:    m,
		Gatherer:   reg,
	})
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}
	logger.Info("serving", "data_dir", store.BaseDir(), "url", srv.URL())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	serveCmd.Flags().String("path", "", "WebSocket endpoint path (overrides server.path)")
	_ = viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("server.path", serveCmd.Flags().Lookup("path"))

	rootCmd.AddCommand(serveCmd)
}
