package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vote-escrow/internal/alias"
	"vote-escrow/internal/collector"
	dbpkg "vote-escrow/internal/db"
	"vote-escrow/internal/logger"
	"vote-escrow/internal/tui"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func watchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Live dashboard of all rounds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return watchRun(cmd.Context(), appFrom(cmd))
		},
	}
}

func watchRun(parent context.Context, a *app) error {
	// If debug logs are enabled, write them to file to avoid interfering with TUI
	var logWriter io.Writer = io.Discard
	if a.cfg.Debug {
		logFile, err := os.OpenFile("escrow.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer logFile.Close()
		logWriter = logFile
		fmt.Fprintf(os.Stderr, "Debug logs written to escrow.log\n")
	}
	log := logger.NewWithWriter(a.cfg.Debug, logWriter)

	gormDB, err := dbpkg.Open(a.cfg)
	if err != nil {
		return fmt.Errorf("failed to connect database: %w", err)
	}
	defer dbpkg.Close(gormDB)
	if err := dbpkg.AutoMigrate(gormDB); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	updates := make(chan interface{}, collector.TUIChannelBufferSize)
	coll, err := collector.NewCollector(a.cfg, dbpkg.NewStore(gormDB, log), updates, log, promReg)
	if err != nil {
		return err
	}

	if a.cfg.MetricsAddr != "" {
		srv := serveMetrics(a.cfg.MetricsAddr, promReg, log)
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	tuiDone := make(chan error, 1)
	go func() {
		tuiDone <- tui.Run(updates, alias.NewResolver(a.cfg.AliasesFile, log))
		// TUI exited, cancel context to trigger shutdown
		cancel()
	}()

	runErr := coll.Run(ctx)
	close(updates)

	var tuiErr error
	select {
	case tuiErr = <-tuiDone:
	case <-time.After(collector.TUICloseDelay):
	}
	return errors.Join(runErr, tuiErr)
}

func serveMetrics(addr string, reg *prometheus.Registry, log *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server stopped",
				"event", "metrics_server_failed",
				"component", "watch",
				"error", err.Error(),
			)
		}
	}()
	return srv
}
