package battle

import (
	"time"

	"github.com/google/uuid"

	"BattleLedger/internal/money"
)

// Vote is one viewer's wager, immutable once accepted.
type Vote struct {
	VoteID    uuid.UUID
	BattleID  uuid.UUID
	VoterID   uuid.UUID
	CreatorID uuid.UUID
	Slot      int // 0 = creator A, 1 = creator B
	Amount    int64
	PlacedAt  time.Time
}

// DupChecker is an optional second dedup tier behind the in-memory map,
// consulted on restart gaps (e.g. the Postgres votes table).
type DupChecker interface {
	HasVote(battleID, voterID uuid.UUID) (bool, error)
}

// VoteLedger is the append-only record of a single battle's wagers.
// It enforces one vote per viewer and positive amounts. Not safe for
// concurrent use on its own; the owning session serializes access.
type VoteLedger struct {
	battleID uuid.UUID
	votes    []Vote
	byVoter  map[uuid.UUID]struct{}
	checker  DupChecker
}

func NewVoteLedger(battleID uuid.UUID, checker DupChecker) *VoteLedger {
	return &VoteLedger{
		battleID: battleID,
		byVoter:  make(map[uuid.UUID]struct{}),
		checker:  checker,
	}
}

// Append validates and records a vote. The caller updates the wager pool
// under the same lock, so append and pool update are never observed
// out of order.
func (l *VoteLedger) Append(v Vote) error {
	if v.Amount <= 0 {
		return ErrInvalidAmount
	}
	if _, dup := l.byVoter[v.VoterID]; dup {
		return ErrDuplicateVote
	}
	if l.checker != nil {
		dup, err := l.checker.HasVote(l.battleID, v.VoterID)
		if err == nil && dup {
			l.byVoter[v.VoterID] = struct{}{}
			return ErrDuplicateVote
		}
		// On checker error, fall through: the in-memory map is
		// authoritative for the live session.
	}

	l.votes = append(l.votes, v)
	l.byVoter[v.VoterID] = struct{}{}
	return nil
}

// Len returns the number of accepted votes.
func (l *VoteLedger) Len() int {
	return len(l.votes)
}

// Votes returns a copy of the accepted votes in acceptance order.
func (l *VoteLedger) Votes() []Vote {
	out := make([]Vote, len(l.votes))
	copy(out, l.votes)
	return out
}

// Stakes returns the per-slot stakes for settlement.
func (l *VoteLedger) Stakes() [2][]money.Stake {
	var stakes [2][]money.Stake
	for _, v := range l.votes {
		stakes[v.Slot] = append(stakes[v.Slot], money.Stake{VoterID: v.VoterID, Amount: v.Amount})
	}
	return stakes
}
