package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"finetune-portal/internal/api"
	"finetune-portal/internal/artifacts"
	"finetune-portal/internal/config"
	"finetune-portal/internal/logging"
	"finetune-portal/internal/notify"
	"finetune-portal/internal/provider"
	"finetune-portal/internal/ratelimit"
	"finetune-portal/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Env, cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer st.Close()
	if err := st.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	defer redisClient.Close()
	limiter := ratelimit.NewWindow(redisClient, cfg.TrainRatePerMin, time.Minute)

	backend := provider.New(cfg.TrainURL, cfg.CancelURL, cfg.ProviderKey, cfg.ProviderSecret)

	fetcher, err := artifacts.New(ctx, artifacts.Options{
		AccountID:       cfg.R2AccountID,
		AccessKeyID:     cfg.R2AccessKeyID,
		SecretAccessKey: cfg.R2SecretKey,
		Bucket:          cfg.R2Bucket,
	})
	if err != nil {
		return fmt.Errorf("object storage: %w", err)
	}

	mailer := notify.New(cfg.ResendAPIKey, cfg.NotifyFromEmail, cfg.AdminEmail, logger)

	server := api.New(cfg, logger, st, st, backend, fetcher, limiter, mailer)
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		// No WriteTimeout: training streams stay open for the length of a
		// run.
	}

	logger.Info("api listening", "port", cfg.HTTPPort, "env", cfg.Env)
	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	return httpServer.Shutdown(shutdownCtx)
}
