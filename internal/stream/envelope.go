package stream

import (
	"encoding/json"
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"

	"github.com/hdxlabs/sdd-pipeline/internal/models"
)

// CloudEvents metadata used on the streams. Entries are single-field Redis
// stream records holding one JSON CloudEvents envelope.
const (
	envelopeField = "envelope"

	sourceWorker    = "hdxlabs/sdd-pipeline"
	typeReportReady = "sdd-report-created"
)

// EncodeInbound wraps an inbound event in a CloudEvents envelope. Used by
// the event seeder; the worker only decodes this direction.
func EncodeInbound(ev *models.InboundEvent) (string, error) {
	ce := cloudevents.NewEvent()
	ce.SetID(uuid.NewString())
	ce.SetSource(sourceWorker)
	ce.SetType(ev.EventType)
	ce.SetTime(time.Now().UTC())
	if err := ce.SetData(cloudevents.ApplicationJSON, ev); err != nil {
		return "", fmt.Errorf("set event data: %w", err)
	}
	return marshalEnvelope(&ce)
}

// DecodeInbound parses a CloudEvents envelope into an inbound event. The
// caller owns the StreamID; it is not part of the envelope.
func DecodeInbound(payload string) (*models.InboundEvent, error) {
	var ce cloudevents.Event
	if err := json.Unmarshal([]byte(payload), &ce); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	var ev models.InboundEvent
	if err := ce.DataAs(&ev); err != nil {
		return nil, fmt.Errorf("decode event data: %w", err)
	}
	if ev.EventType == "" {
		ev.EventType = ce.Type()
	}
	if ev.ResourceID == "" {
		return nil, fmt.Errorf("event %s has no resource_id", ce.ID())
	}
	return &ev, nil
}

// EncodeResult wraps a pipeline result in a CloudEvents envelope for the
// outbound stream.
func EncodeResult(res *models.PipelineResult) (string, error) {
	ce := cloudevents.NewEvent()
	ce.SetID(uuid.NewString())
	ce.SetSource(sourceWorker)
	ce.SetType(typeReportReady)
	ce.SetSubject(res.ResourceID)
	ce.SetTime(time.Now().UTC())
	if err := ce.SetData(cloudevents.ApplicationJSON, res); err != nil {
		return "", fmt.Errorf("set result data: %w", err)
	}
	return marshalEnvelope(&ce)
}

// DecodeResult parses an outbound envelope back into a pipeline result.
func DecodeResult(payload string) (*models.PipelineResult, error) {
	var ce cloudevents.Event
	if err := json.Unmarshal([]byte(payload), &ce); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	var res models.PipelineResult
	if err := ce.DataAs(&res); err != nil {
		return nil, fmt.Errorf("decode result data: %w", err)
	}
	return &res, nil
}

func marshalEnvelope(ce *cloudevents.Event) (string, error) {
	raw, err := json.Marshal(ce)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	return string(raw), nil
}
