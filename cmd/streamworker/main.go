package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/email-confirmation-service/internal/application/expiry"
	"github.com/email-confirmation-service/internal/bootstrap"
	"github.com/email-confirmation-service/internal/config"
	"github.com/email-confirmation-service/internal/logging"
	"github.com/email-confirmation-service/internal/metrics"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading from environment")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(os.Stdout, cfg.IsLocal(), cfg.SlogLevel()).With("service", "streamworker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Register()
	rt, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap failed", "err", err)
		os.Exit(1)
	}
	d, err := rt.Dispatcher()
	if err != nil {
		logger.Error("dispatcher", "err", err)
		os.Exit(1)
	}
	reader, err := rt.StreamReader(ctx, d)
	if err != nil {
		logger.Error("stream reader", "err", err)
		os.Exit(1)
	}

	metricsSrv := metrics.NewServer(net.JoinHostPort("", cfg.MetricsPort))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("metrics server starting", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("stream worker starting",
			"batch_size", cfg.Stream.BatchSize, "max_attempts", cfg.Stream.MaxAttempts)
		return reader.Run(gctx)
	})
	expiry.NewSweeper(rt.Store, rt.Clock, logger).Start(gctx, cfg.ExpirySweepInterval)

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("stream worker stopped with error", "err", err)
		os.Exit(1)
	}
	logger.Info("stream worker stopped")
}
