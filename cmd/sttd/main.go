package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/loqalabs/loqa-stt/internal/bus"
	"github.com/loqalabs/loqa-stt/internal/config"
	"github.com/loqalabs/loqa-stt/internal/dictionary"
	"github.com/loqalabs/loqa-stt/internal/engine"
	"github.com/loqalabs/loqa-stt/internal/logging"
	"github.com/loqalabs/loqa-stt/internal/natsserver"
	"github.com/loqalabs/loqa-stt/internal/runtime"
	"github.com/loqalabs/loqa-stt/internal/sttapi"
	"github.com/loqalabs/loqa-stt/internal/transcription"
	"github.com/loqalabs/loqa-stt/internal/transport"
	"github.com/loqalabs/loqa-stt/internal/workerpool"
)

var version = "0.1.0-dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting loqa-sttd", slog.String("version", version))

	eng, err := engine.Load(cfg.ModelPath)
	if err != nil {
		logger.Error("failed to load acoustic engine", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer eng.Unload()

	dict, err := dictionary.NewFromConfig(cfg.Dictionary, cfg.DictionaryRulesPath)
	if err != nil {
		logger.Error("failed to load phonetic dictionary", slog.String("error", err.Error()))
		os.Exit(1)
	}

	svc := transcription.New(eng, dict)
	pool := workerpool.New(cfg.InferenceWorkers)
	defer pool.Close()
	api := sttapi.New(svc, pool)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	embedded, err := natsserver.Start(cfg.Bus, logger)
	if err != nil {
		logger.Error("failed to start embedded NATS server", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer embedded.Shutdown()

	busClient, err := bus.Connect(ctx, cfg.Bus, logger)
	if err != nil {
		logger.Error("failed to connect to NATS", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer busClient.Close()

	binding := transport.NewNATSBinding(busClient, api, logger)
	if err := binding.Start(ctx); err != nil {
		logger.Error("failed to start transport binding", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer binding.Close()

	rt := runtime.New(cfg, logger)
	rt.SetReady(true)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := rt.Start(ctx); err != nil {
			logger.Error("runtime exited with error", slog.String("error", err.Error()))
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")
	wg.Wait()
	time.Sleep(100 * time.Millisecond)
	logger.Info("shutdown complete")
}
