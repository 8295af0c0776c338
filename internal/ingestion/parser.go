package ingestion

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"BattleLedger/internal/event"
)

// ParseRawEvent converts a RawEvent (JSON bytes + event type string)
// into a typed event.Event. The ingestion shell validates and converts
// before anything reaches a battle session.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	switch eventType {
	case "GiftSent":
		return parseGiftSent(raw.Data)
	case "LikeSent":
		return parseLikeSent(raw.Data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers.

type giftSentJSON struct {
	GiftID      string `json:"gift_id"`
	BattleID    string `json:"battle_id"`
	CreatorID   string `json:"creator_id"`
	Points      int64  `json:"points"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseGiftSent(data []byte) (*event.GiftSent, error) {
	var j giftSentJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse GiftSent: %w", err)
	}

	giftID, err := uuid.Parse(j.GiftID)
	if err != nil {
		return nil, fmt.Errorf("parse gift_id: %w", err)
	}
	battleID, err := uuid.Parse(j.BattleID)
	if err != nil {
		return nil, fmt.Errorf("parse battle_id: %w", err)
	}
	creatorID, err := uuid.Parse(j.CreatorID)
	if err != nil {
		return nil, fmt.Errorf("parse creator_id: %w", err)
	}

	if j.Points <= 0 {
		return nil, fmt.Errorf("gift points must be positive, got %d", j.Points)
	}

	return &event.GiftSent{
		GiftID:    giftID,
		Battle:    battleID,
		CreatorID: creatorID,
		Points:    j.Points,
		Timestamp: time.UnixMicro(j.TimestampUs).UTC(),
	}, nil
}

type likeSentJSON struct {
	LikeID      string `json:"like_id"`
	BattleID    string `json:"battle_id"`
	CreatorID   string `json:"creator_id"`
	Count       int64  `json:"count"`
	TimestampUs int64  `json:"timestamp_us"`
}

// parseLikeSent converts a like burst into a gift payload. Each like is
// worth one score point; a missing count means a single like.
func parseLikeSent(data []byte) (*event.GiftSent, error) {
	var j likeSentJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse LikeSent: %w", err)
	}

	likeID, err := uuid.Parse(j.LikeID)
	if err != nil {
		return nil, fmt.Errorf("parse like_id: %w", err)
	}
	battleID, err := uuid.Parse(j.BattleID)
	if err != nil {
		return nil, fmt.Errorf("parse battle_id: %w", err)
	}
	creatorID, err := uuid.Parse(j.CreatorID)
	if err != nil {
		return nil, fmt.Errorf("parse creator_id: %w", err)
	}

	count := j.Count
	if count == 0 {
		count = 1
	}
	if count < 0 {
		return nil, fmt.Errorf("like count must be positive, got %d", count)
	}

	return &event.GiftSent{
		GiftID:    likeID,
		Battle:    battleID,
		CreatorID: creatorID,
		Points:    count,
		Timestamp: time.UnixMicro(j.TimestampUs).UTC(),
	}, nil
}
