package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"BattleLedger/internal/event"
	"BattleLedger/internal/observability"
)

// LifecyclePublisher publishes battle lifecycle events to NATS for the
// wallet and notification collaborators.
// Subjects follow the pattern: battle.events.{event_type}.{battle_id}
type LifecyclePublisher struct {
	js        jetstream.JetStream
	inputChan <-chan event.Outbound
	metrics   *observability.Metrics
	log       zerolog.Logger
}

func NewLifecyclePublisher(
	js jetstream.JetStream,
	inputChan <-chan event.Outbound,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *LifecyclePublisher {
	return &LifecyclePublisher{
		js:        js,
		inputChan: inputChan,
		metrics:   metrics,
		log:       log,
	}
}

// wireEnvelope is the published JSON shape.
type wireEnvelope struct {
	Sequence       int64       `json:"sequence"`
	EventType      string      `json:"event_type"`
	IdempotencyKey string      `json:"idempotency_key"`
	BattleID       string      `json:"battle_id"`
	Timestamp      time.Time   `json:"timestamp"`
	Payload        interface{} `json:"payload"`
}

// Run starts the publisher loop.
func (p *LifecyclePublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case o, ok := <-p.inputChan:
			if !ok {
				return nil
			}

			if err := p.publish(ctx, o); err != nil {
				// Non-fatal: consumers can read the audit log directly
				p.log.Warn().
					Int64("sequence", o.Sequence).
					Err(err).
					Msg("lifecycle publish failed")
				continue
			}

			if p.metrics != nil {
				p.metrics.EventsPublished.WithLabelValues(o.EventType.String()).Inc()
			}
		}
	}
}

func (p *LifecyclePublisher) publish(ctx context.Context, o event.Outbound) error {
	data, err := json.Marshal(wireEnvelope{
		Sequence:       o.Sequence,
		EventType:      o.EventType.String(),
		IdempotencyKey: o.IdempotencyKey,
		BattleID:       o.BattleID.String(),
		Timestamp:      o.Timestamp,
		Payload:        o.Payload,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := fmt.Sprintf("battle.events.%s.%s", o.EventType.String(), o.BattleID.String())
	_, err = p.js.Publish(ctx, subject, data)
	return err
}

// EnsureOutboundStream creates the lifecycle events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream, log zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "BATTLE_EVENTS",
		Subjects:  []string{"battle.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	log.Info().Str("stream", "BATTLE_EVENTS").Msg("ensured outbound stream")
	return nil
}
