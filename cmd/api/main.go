package main

import (
	"context"
	"errors"
	"fmt"
	"log"
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
	transporthttp "github.com/email-confirmation-service/internal/transport/http"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
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
	logger := logging.New(os.Stdout, cfg.IsLocal(), cfg.SlogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Register()
	rt, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap failed", "err", err)
		os.Exit(1)
	}

	router := transporthttp.NewRouter(cfg, &transporthttp.Deps{
		Store:   rt.Store,
		Engine:  rt.Engine,
		Checker: rt.Checker(prometheus.DefaultRegisterer),
		Logger:  logger,
	})
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", "port", cfg.AppPort, "env", cfg.AppEnv, "store", cfg.StoreBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})

	// The memory backend has no external stream, so the dispatcher and the
	// expiry sweeper run in this process.
	if rt.Memory != nil {
		d, err := rt.Dispatcher()
		if err != nil {
			logger.Error("dispatcher", "err", err)
			os.Exit(1)
		}
		follower, err := rt.Follower(d)
		if err != nil {
			logger.Error("follower", "err", err)
			os.Exit(1)
		}
		g.Go(func() error { return follower.Run(gctx) })
		expiry.NewSweeper(rt.Store, rt.Clock, logger).Start(gctx, cfg.ExpirySweepInterval)
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", "err", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
