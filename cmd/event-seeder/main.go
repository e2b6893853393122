// Command event-seeder pushes resource events from a JSON file onto the
// inbound stream. It exists for local testing: point the worker at the same
// Redis instance and watch reports come out the other side.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/hdxlabs/sdd-pipeline/internal/config"
	"github.com/hdxlabs/sdd-pipeline/internal/models"
	"github.com/hdxlabs/sdd-pipeline/internal/stream"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	eventsFile := flag.String("events", "events.json", "path to a JSON array of inbound events")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration.", "error", err)
		os.Exit(1)
	}

	raw, err := os.ReadFile(*eventsFile)
	if err != nil {
		slog.Error("Failed to read events file.", "path", *eventsFile, "error", err)
		os.Exit(1)
	}
	var events []models.InboundEvent
	if err := json.Unmarshal(raw, &events); err != nil {
		slog.Error("Failed to parse events file.", "path", *eventsFile, "error", err)
		os.Exit(1)
	}

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

	ctx := context.Background()
	for i := range events {
		if err := gateway.Seed(ctx, &events[i]); err != nil {
			slog.Error("Failed to seed event.", "resourceId", events[i].ResourceID, "error", err)
			os.Exit(1)
		}
		slog.Info("Seeded event.", "resourceId", events[i].ResourceID, "eventType", events[i].EventType)
	}
	slog.Info("Done.", "count", len(events))
}
