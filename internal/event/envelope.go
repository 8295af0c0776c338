package event

import (
	"time"

	"github.com/google/uuid"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeBattleStarted
	EventTypeVotePlaced
	EventTypeGiftSent
	EventTypeBattleEnding
	EventTypeBattleSettled
	EventTypeBattleAborted
)

// Outbound wraps every event emitted by the director for downstream
// consumers (wallet crediting, notifications) and for the audit log.
type Outbound struct {
	// Global monotonic sequence assigned by the director
	Sequence int64

	// Stable idempotency key so downstream consumers can dedup
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Battle context
	BattleID uuid.UUID

	Timestamp time.Time

	// Event-specific data (one of the payload types in battle.go)
	Payload interface{}
}

// Event is the interface all inbound event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// BattleID returns the battle this event targets
	BattleID() uuid.UUID
}

func (et EventType) String() string {
	switch et {
	case EventTypeBattleStarted:
		return "BattleStarted"
	case EventTypeVotePlaced:
		return "VotePlaced"
	case EventTypeGiftSent:
		return "GiftSent"
	case EventTypeBattleEnding:
		return "BattleEnding"
	case EventTypeBattleSettled:
		return "BattleSettled"
	case EventTypeBattleAborted:
		return "BattleAborted"
	default:
		return "Unknown"
	}
}

// ParseEventType maps a wire name back to the discriminator.
func ParseEventType(s string) EventType {
	switch s {
	case "BattleStarted":
		return EventTypeBattleStarted
	case "VotePlaced":
		return EventTypeVotePlaced
	case "GiftSent":
		return EventTypeGiftSent
	case "BattleEnding":
		return EventTypeBattleEnding
	case "BattleSettled":
		return EventTypeBattleSettled
	case "BattleAborted":
		return EventTypeBattleAborted
	default:
		return EventTypeUnknown
	}
}
