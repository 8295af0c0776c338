package settlement

import (
	"time"

	"github.com/google/uuid"

	"BattleLedger/internal/event"
)

// Outcome classifies how a battle was decided.
type Outcome int32

const (
	OutcomeUnknown Outcome = iota
	OutcomeCreatorWin
	OutcomeTie
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreatorWin:
		return "creator_win"
	case OutcomeTie:
		return "tie"
	default:
		return "unknown"
	}
}

// Result is the single, final settlement of a battle. It is computed
// exactly once and never mutated afterwards; downstream wallet crediting
// replays from it as a durable fact.
type Result struct {
	BattleID        uuid.UUID              `json:"battle_id"`
	Outcome         Outcome                `json:"outcome"`
	WinnerCreatorID uuid.UUID              `json:"winner_creator_id"` // zero UUID on tie
	TotalPool       int64                  `json:"total_pool"`
	PlatformFee     int64                  `json:"platform_fee"`
	WinnerBonus     int64                  `json:"winner_bonus"`
	WinnersShare    int64                  `json:"winners_share"`
	Payouts         map[uuid.UUID]int64    `json:"payouts"`
	Refunds         []event.Refund         `json:"refunds,omitempty"` // full refunds on tie
	SettledAt       time.Time              `json:"settled_at"`
}

// InvariantError is a fatal settlement failure: publishing the result
// would violate a money-conservation identity. It is never retried
// automatically: re-running settlement risks double payout.
type InvariantError struct {
	BattleID uuid.UUID
	Detail   string
}

func (e *InvariantError) Error() string {
	return "settlement invariant violated for battle " + e.BattleID.String() + ": " + e.Detail
}
