package event

import (
	"time"

	"github.com/google/uuid"
)

// GiftSent is a scored gift from a viewer to one of the battle's creators.
// Likes arrive on a separate subject but are parsed into the same payload
// with their fixed point weight. Idempotency key: gift_id from the client.
type GiftSent struct {
	GiftID    uuid.UUID `json:"gift_id"`
	Battle    uuid.UUID `json:"battle_id"`
	CreatorID uuid.UUID `json:"creator_id"`
	Points    int64     `json:"points"`
	Timestamp time.Time `json:"timestamp"`
}

func (g *GiftSent) IdempotencyKey() string {
	return g.GiftID.String()
}

func (g *GiftSent) EventType() EventType {
	return EventTypeGiftSent
}

func (g *GiftSent) BattleID() uuid.UUID {
	return g.Battle
}

// --- Outbound payloads ---

// BattleStarted announces a new battle to downstream consumers.
type BattleStarted struct {
	Battle    uuid.UUID     `json:"battle_id"`
	CreatorA  uuid.UUID     `json:"creator_a"`
	CreatorB  uuid.UUID     `json:"creator_b"`
	StartTime time.Time     `json:"start_time"`
	Duration  time.Duration `json:"duration_ns"`
}

// VotePlaced records an accepted wager for the audit log.
type VotePlaced struct {
	VoteID    uuid.UUID `json:"vote_id"`
	Battle    uuid.UUID `json:"battle_id"`
	VoterID   uuid.UUID `json:"voter_id"`
	CreatorID uuid.UUID `json:"creator_id"`
	Amount    int64     `json:"amount"`
	PlacedAt  time.Time `json:"placed_at"`
}

// BattleEnding marks the start of the grace window; no further votes
// or gifts are accepted after this event.
type BattleEnding struct {
	Battle uuid.UUID `json:"battle_id"`
	ScoreA int64     `json:"score_a"`
	ScoreB int64     `json:"score_b"`
}

// BattleAborted carries the refund list for the external wallet service.
// The engine reports what must be refunded; it moves no funds itself.
type BattleAborted struct {
	Battle  uuid.UUID `json:"battle_id"`
	Reason  string    `json:"reason"`
	Refunds []Refund  `json:"refunds"`
}

// Refund is one voter's stake to be returned by the wallet service.
type Refund struct {
	VoterID uuid.UUID `json:"voter_id"`
	Amount  int64     `json:"amount"`
}
