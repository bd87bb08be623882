// cmd/gateway/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"bmad-gateway/internal/common/camunda"
	"bmad-gateway/internal/common/config"
	"bmad-gateway/internal/common/logger"
	"bmad-gateway/internal/common/observability"
	"bmad-gateway/internal/common/process"
	"bmad-gateway/internal/server"
	templaterunner "bmad-gateway/internal/workers/bmad/template-runner"
	streamrelay "bmad-gateway/internal/workers/chat/stream-relay"
	"bmad-gateway/pkg/registry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("starting gateway",
		zap.String("name", cfg.App.Name),
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
		zap.String("assistant", cfg.Assistant.Binary),
	)

	ctx := context.Background()

	obs := observability.New(cfg.App.Name)
	tp, err := observability.NewTracerProvider(ctx, observability.TracingOptions{
		ServiceName:    cfg.App.Name,
		ServiceVersion: cfg.App.Version,
		Enabled:        cfg.Tracing.Enabled,
		JaegerEndpoint: cfg.Tracing.JaegerEndpoint,
		SampleRatio:    cfg.Tracing.SampleRatio,
	})
	if err != nil {
		zapLog.Fatal("failed to initialise tracing", zap.Error(err))
	}

	stages, err := registry.LoadRegistry(cfg.Pipeline.RegistryPath)
	if err != nil {
		zapLog.Fatal("failed to load stage registry", zap.String("path", cfg.Pipeline.RegistryPath), zap.Error(err))
	}
	zapLog.Info("stage registry loaded", zap.String("version", stages.Version), zap.Int("stages", len(stages.Stages)))

	invoker := process.NewInvoker(cfg.Assistant.Binary,
		process.WithDir(cfg.Assistant.WorkingDir),
		process.WithTracerProvider(tp),
		process.WithLogger(log),
	)

	chat := streamrelay.NewHandler(streamrelay.LoadConfig(cfg), invoker, log)

	runner, err := templaterunner.NewHandler(templaterunner.LoadConfig(cfg), stages, invoker, log)
	if err != nil {
		zapLog.Fatal("failed to create template runner", zap.Error(err))
	}
	runner.WithObservability(obs).
		WithJobTimeout(func(taskType string) time.Duration {
			return config.GetDuration(config.GetWorkerConfig(cfg, taskType).Timeout)
		}).
		WithRetryBudget(func(taskType string) int {
			return config.GetWorkerConfig(cfg, taskType).MaxRetries
		})

	var ready []server.ReadinessCheck
	var workers []*camunda.CamundaWorker
	var zeebe *camunda.Client

	if cfg.Camunda.Enabled {
		zeebe, err = camunda.NewClientWithConfig(ctx, &camunda.ClientConfig{
			GatewayAddress:         cfg.Camunda.BrokerAddress,
			UsePlaintextConnection: true,
			ConnectionTimeout:      config.GetDuration(cfg.Camunda.RequestTimeout),
		})
		if err != nil {
			zapLog.Fatal("failed to connect to Zeebe", zap.String("address", cfg.Camunda.BrokerAddress), zap.Error(err))
		}
		zapLog.Info("connected to Zeebe", zap.String("address", cfg.Camunda.BrokerAddress))

		workers = camunda.StartStageWorkers(zeebe.GetClient(), cfg, stages, runner, log)
		ready = append(ready, zeebe.HealthCheck)
		zapLog.Info("stage workers registered", zap.Int("count", len(workers)))
	}

	router := server.NewRouter(server.Dependencies{
		Logger:        log,
		Observability: obs,
		ChatStream:    chat,
		ChatRoute:     streamrelay.Route,
		Stages:        runner,
		Ready:         ready,
	})
	srv := server.NewHTTPServer(cfg.Server, router)

	go func() {
		zapLog.Info("HTTP server listening", zap.String("address", cfg.Server.Address))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("shutdown signal received, draining requests...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.Server.ShutdownTimeout))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("HTTP server shutdown incomplete", zap.Error(err))
	}

	for _, w := range workers {
		w.Stop()
	}
	if zeebe != nil {
		if err := zeebe.Close(); err != nil {
			zapLog.Error("error closing Zeebe client", zap.Error(err))
		}
	}

	if err := tp.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("error flushing traces", zap.Error(err))
	}
	obs.Shutdown()

	zapLog.Info("gateway stopped gracefully")
}
