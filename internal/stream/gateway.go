// Package stream is the Redis streams gateway: consumer-group consumption
// of inbound resource events and publication of SDD reports, with
// CloudEvents JSON envelopes on both streams.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hdxlabs/sdd-pipeline/internal/models"
)

// GatewayConfig names the streams and the consumer identity.
type GatewayConfig struct {
	InputStream   string
	OutputStream  string
	ConsumerGroup string
	ConsumerName  string
	// BlockTimeout bounds one XREADGROUP wait; Consume returns (nil, nil)
	// when it elapses with no delivery.
	BlockTimeout time.Duration
}

// Gateway owns the consumer-group offset. It is the only component that
// touches the stream positions; acknowledgment order is the caller's
// responsibility.
type Gateway struct {
	rdb *redis.Client
	cfg GatewayConfig
}

// NewGateway creates a Gateway over an existing Redis client.
func NewGateway(rdb *redis.Client, cfg GatewayConfig) *Gateway {
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = 5 * time.Second
	}
	return &Gateway{rdb: rdb, cfg: cfg}
}

// EnsureGroup creates the consumer group on the inbound stream, creating
// the stream if needed. An already-existing group is not an error.
func (g *Gateway) EnsureGroup(ctx context.Context) error {
	err := g.rdb.XGroupCreateMkStream(ctx, g.cfg.InputStream, g.cfg.ConsumerGroup, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s on %s: %w", g.cfg.ConsumerGroup, g.cfg.InputStream, err)
	}
	return nil
}

// Consume blocks for up to BlockTimeout and returns the next decodable
// resource-changed event, or (nil, nil) when the wait elapsed empty.
// Entries that cannot be decoded, and events of other types, are
// acknowledged and skipped so one poison entry cannot wedge the group.
func (g *Gateway) Consume(ctx context.Context) (*models.InboundEvent, error) {
	res, err := g.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    g.cfg.ConsumerGroup,
		Consumer: g.cfg.ConsumerName,
		Streams:  []string{g.cfg.InputStream, ">"},
		Count:    1,
		Block:    g.cfg.BlockTimeout,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read from %s: %w", g.cfg.InputStream, err)
	}

	for _, xs := range res {
		for _, msg := range xs.Messages {
			ev, decodeErr := g.decodeMessage(msg)
			if decodeErr != nil {
				slog.Warn("Dropping undecodable stream entry.", "streamId", msg.ID, "error", decodeErr)
				if ackErr := g.Ack(ctx, msg.ID); ackErr != nil {
					return nil, ackErr
				}
				continue
			}
			if ev.EventType != models.EventTypeResourceChanged {
				slog.Info("Ignoring event of unhandled type.", "streamId", msg.ID, "eventType", ev.EventType)
				if ackErr := g.Ack(ctx, msg.ID); ackErr != nil {
					return nil, ackErr
				}
				continue
			}
			ev.StreamID = msg.ID
			return ev, nil
		}
	}
	return nil, nil
}

func (g *Gateway) decodeMessage(msg redis.XMessage) (*models.InboundEvent, error) {
	raw, ok := msg.Values[envelopeField].(string)
	if !ok {
		return nil, fmt.Errorf("entry %s has no %q field", msg.ID, envelopeField)
	}
	return DecodeInbound(raw)
}

// Publish appends the result envelope to the outbound stream.
func (g *Gateway) Publish(ctx context.Context, res *models.PipelineResult) error {
	payload, err := EncodeResult(res)
	if err != nil {
		return err
	}
	if err := g.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: g.cfg.OutputStream,
		Values: map[string]interface{}{envelopeField: payload},
	}).Err(); err != nil {
		return fmt.Errorf("publish result for %s: %w", res.ResourceID, err)
	}
	return nil
}

// Ack commits the inbound entry. Safe to repeat.
func (g *Gateway) Ack(ctx context.Context, streamID string) error {
	if err := g.rdb.XAck(ctx, g.cfg.InputStream, g.cfg.ConsumerGroup, streamID).Err(); err != nil {
		return fmt.Errorf("ack %s: %w", streamID, err)
	}
	return nil
}

// Seed appends an inbound event envelope to the input stream. Used by the
// event seeder, not by the worker.
func (g *Gateway) Seed(ctx context.Context, ev *models.InboundEvent) error {
	payload, err := EncodeInbound(ev)
	if err != nil {
		return err
	}
	if err := g.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: g.cfg.InputStream,
		Values: map[string]interface{}{envelopeField: payload},
	}).Err(); err != nil {
		return fmt.Errorf("seed event for %s: %w", ev.ResourceID, err)
	}
	return nil
}
