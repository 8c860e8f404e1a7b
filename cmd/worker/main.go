// Package main provides the entrypoint for the coverage sweep worker.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/hanoiair/hanoiair/internal/app"
	"github.com/hanoiair/hanoiair/internal/config"
	"github.com/hanoiair/hanoiair/internal/telemetry"
	"github.com/hanoiair/hanoiair/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "hanoiair-worker"

	cfg, err := config.Load()
	if err != nil {
		fatalLog := zerolog.New(os.Stderr)
		fatalLog.Fatal().Err(err).Msg("invalid configuration")
	}

	log := app.NewLogger(cfg.App, serviceName, Version)
	log.Info().
		Str("build_time", BuildTime).
		Msg("starting coverage sweep worker")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.App.Env,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
		SampleRatio:    cfg.Telemetry.SampleRatio,
		ExportInterval: cfg.Telemetry.ExportInterval,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	core, err := app.NewCore(ctx, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize air quality core")
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}
	defer func() {
		if closeErr := core.Close(); closeErr != nil {
			log.Error().Err(closeErr).Msg("failed to close gateway")
		}
	}()

	job := worker.NewSweepJob(worker.SweepJobConfig{
		Config: worker.SweepConfig{
			Concurrency: cfg.Worker.Concurrency,
			Timeout:     cfg.Worker.Timeout,
			Interval:    cfg.Worker.SweepInterval,
		},
		Service: core.Service,
		Logger:  log,
	})

	// Health endpoint for Cloud Run.
	server := &http.Server{
		Addr:         ":" + cfg.Worker.Port,
		Handler:      worker.HealthHandler(Version, job),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	go func() {
		log.Info().Str("addr", server.Addr).Msg("health server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("health server error")
			cancel()
		}
	}()

	scheduler := worker.NewScheduler(job, cfg.Worker.SweepInterval, log)
	if err := scheduler.Start(ctx); err != nil {
		log.Error().Err(err).Msg("failed to start scheduler")
		cancel()
	}

	if cfg.PubSub.ProjectID != "" {
		handler, err := worker.NewPubSubHandler(ctx, worker.PubSubConfig{
			ProjectID:        cfg.PubSub.ProjectID,
			SubscriptionName: cfg.PubSub.Subscription,
			Job:              job,
			Logger:           log,
		})
		if err != nil {
			log.Error().Err(err).Msg("failed to create pubsub handler")
			cancel()
		} else {
			defer func() {
				if closeErr := handler.Close(); closeErr != nil {
					log.Error().Err(closeErr).Msg("failed to close pubsub client")
				}
			}()
			go func() {
				if err := handler.Start(ctx); err != nil {
					log.Error().Err(err).Msg("pubsub handler stopped")
				}
			}()
		}
	}

	<-ctx.Done()
	log.Info().Msg("shutting down worker")

	scheduler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server forced to shutdown")
	}

	log.Info().Msg("worker stopped")
}
