package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/hdxlabs/sdd-pipeline/internal/archive"
	"github.com/hdxlabs/sdd-pipeline/internal/classify"
	"github.com/hdxlabs/sdd-pipeline/internal/config"
	"github.com/hdxlabs/sdd-pipeline/internal/fetch"
	"github.com/hdxlabs/sdd-pipeline/internal/pipeline"
	"github.com/hdxlabs/sdd-pipeline/internal/preprocess"
	"github.com/hdxlabs/sdd-pipeline/internal/runstore"
	"github.com/hdxlabs/sdd-pipeline/internal/stream"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration.", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	gateway := stream.NewGateway(rdb, stream.GatewayConfig{
		InputStream:   cfg.InputStream,
		OutputStream:  cfg.OutputStream,
		ConsumerGroup: cfg.ConsumerGroup,
		ConsumerName:  cfg.ConsumerName,
	})
	if err := gateway.EnsureGroup(ctx); err != nil {
		slog.Error("Failed to ensure consumer group.", "error", err)
		os.Exit(1)
	}

	vertexClient, err := classify.NewVertexClient(ctx, cfg.ProjectID, cfg.VertexAIRegion, classify.ModelNames{
		PIIDetect:  cfg.PIIDetectModel,
		PIIReflect: cfg.PIIReflectModel,
		NonPII:     cfg.NonPIIModel,
	})
	if err != nil {
		slog.Error("Failed to create Vertex AI client.", "error", err)
		os.Exit(1)
	}
	defer vertexClient.Close()

	runner := classify.NewRunner(vertexClient, classify.RunnerConfig{
		Timeout:           cfg.ClassifyTimeout,
		MaxRetries:        cfg.MaxRetries,
		BackoffBase:       cfg.BackoffBase,
		BackoffMultiplier: cfg.BackoffMultiplier,
	})

	var runStore pipeline.RunStore
	if cfg.FirestoreCollection != "" {
		store, err := runstore.NewStore(ctx, cfg.ProjectID, cfg.FirestoreCollection)
		if err != nil {
			slog.Error("Failed to create run store.", "error", err)
			os.Exit(1)
		}
		defer store.Close()
		runStore = store
	}

	var archiver pipeline.Archiver
	if cfg.ReportsBucket != "" {
		arch, err := archive.NewArchiver(ctx, cfg.ReportsBucket)
		if err != nil {
			slog.Error("Failed to create report archiver.", "error", err)
			os.Exit(1)
		}
		archiver = arch
	}

	orchestrator := pipeline.NewOrchestrator(
		fetch.NewFetcher(cfg.FetchTimeout, cfg.MaxDownloadBytes),
		preprocess.NewPreprocessor(cfg.SampleValues),
		runner,
		gateway,
		runStore,
		archiver,
		pipeline.Config{
			FanoutWidth:     cfg.FanoutWidth,
			PIIDetectModel:  cfg.PIIDetectModel,
			PIIReflectModel: cfg.PIIReflectModel,
			NonPIIModel:     cfg.NonPIIModel,
		},
	)

	slog.Info("SDD worker started.",
		"inputStream", cfg.InputStream,
		"outputStream", cfg.OutputStream,
		"consumerGroup", cfg.ConsumerGroup,
		"consumerName", cfg.ConsumerName,
	)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Shutting down.")
			return
		default:
		}

		ev, err := gateway.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			slog.Error("Failed to consume from stream.", "error", err)
			continue
		}
		if ev == nil {
			continue // block timeout, nothing delivered
		}

		if err := orchestrator.Handle(ctx, ev); err != nil {
			// Publish or ack failed: the event stays pending and the
			// consumer group redelivers it.
			slog.Error("Event left for redelivery.", "resourceId", ev.ResourceID, "error", err)
		}
	}
}
