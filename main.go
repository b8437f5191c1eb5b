package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"misskey-exporter/collector"
	"misskey-exporter/config"
	"misskey-exporter/exporter"
	"misskey-exporter/logger"
	"misskey-exporter/metrics"
	"misskey-exporter/server"
	"misskey-exporter/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cmd := &cobra.Command{
		Use:           "misskey-exporter",
		Short:         "Prometheus exporter for a Misskey instance",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd)
		},
	}
	config.RegisterFlags(cmd.Flags())

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "misskey-exporter:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("set up logger: %w", err)
	}
	defer logger.Flush(log.Logger)

	log.Logger.Info("starting misskey exporter", zap.Any("config", cfg.Redacted()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db := storage.NewPostgres(storage.PostgresConfig{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Name,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
	}, log.Logger)
	if err := db.Connect(ctx); err != nil {
		log.Logger.Error("failed to start exporter", zap.Error(err))
		return err
	}

	reg := metrics.NewRegistry()
	api := collector.NewAPIClient(cfg.MisskeyURL, log.Logger)
	exp := exporter.New(db, api, reg, cfg.Interval(), log.Logger)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           server.New(exp, log).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	exp.Start(ctx)

	serveErr := make(chan error, 1)
	go func() {
		log.Logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Logger.Info("shutting down")
	case err := <-serveErr:
		log.Logger.Error("http server failed", zap.Error(err))
		runErr = err
	}

	exp.Stop()
	if err := db.Disconnect(); err != nil {
		log.Logger.Warn("close database", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Logger.Warn("http server shutdown", zap.Error(err))
	}

	log.Logger.Info("exporter stopped")
	return runErr
}
