package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"BattleLedger/internal/settlement"
)

// Store is the durable audit record of every battle: the full vote list,
// the gift stream and the frozen settlement, enough to replay or audit
// any settlement after the fact. Writes are idempotent (ON CONFLICT DO
// NOTHING on natural keys) so the async worker can safely retry.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// BattleRow mirrors battle_log.battles.
type BattleRow struct {
	BattleID  uuid.UUID
	CreatorA  uuid.UUID
	CreatorB  uuid.UUID
	StartedAt time.Time
	Duration  time.Duration
	Phase     string
}

// VoteRow mirrors battle_log.votes.
type VoteRow struct {
	VoteID    uuid.UUID
	BattleID  uuid.UUID
	VoterID   uuid.UUID
	CreatorID uuid.UUID
	Amount    int64
	PlacedAt  time.Time
}

// GiftRow mirrors battle_log.gifts.
type GiftRow struct {
	GiftID    uuid.UUID
	BattleID  uuid.UUID
	CreatorID uuid.UUID
	Points    int64
	SentAt    time.Time
}

// InsertBattle records a scheduled battle.
func (s *Store) InsertBattle(ctx context.Context, b BattleRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO battle_log.battles (battle_id, creator_a, creator_b, started_at, duration_ms, phase)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (battle_id) DO NOTHING
	`, b.BattleID, b.CreatorA, b.CreatorB, b.StartedAt, b.Duration.Milliseconds(), b.Phase)
	return err
}

// UpdateBattlePhase moves the durable battle record through the lifecycle.
func (s *Store) UpdateBattlePhase(ctx context.Context, battleID uuid.UUID, phase string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE battle_log.battles SET phase = $2 WHERE battle_id = $1
	`, battleID, phase)
	return err
}

// InsertVotes batch-writes accepted votes using a multi-row INSERT.
func (s *Store) InsertVotes(ctx context.Context, votes []VoteRow) error {
	if len(votes) == 0 {
		return nil
	}

	query := `INSERT INTO battle_log.votes
		(vote_id, battle_id, voter_id, creator_id, amount, placed_at)
		VALUES `

	values := make([]string, 0, len(votes))
	args := make([]interface{}, 0, len(votes)*6)

	for i, v := range votes {
		base := i * 6
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6,
		))
		args = append(args, v.VoteID, v.BattleID, v.VoterID, v.CreatorID, v.Amount, v.PlacedAt)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (vote_id) DO NOTHING"

	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

// InsertGifts batch-writes the gift stream.
func (s *Store) InsertGifts(ctx context.Context, gifts []GiftRow) error {
	if len(gifts) == 0 {
		return nil
	}

	query := `INSERT INTO battle_log.gifts
		(gift_id, battle_id, creator_id, points, sent_at)
		VALUES `

	values := make([]string, 0, len(gifts))
	args := make([]interface{}, 0, len(gifts)*5)

	for i, g := range gifts {
		base := i * 5
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5,
		))
		args = append(args, g.GiftID, g.BattleID, g.CreatorID, g.Points, g.SentAt)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (gift_id) DO NOTHING"

	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

// InsertSettlement freezes the settlement row. The primary key on
// battle_id makes the write exactly-once.
func (s *Store) InsertSettlement(ctx context.Context, res *settlement.Result) error {
	payouts, err := json.Marshal(res.Payouts)
	if err != nil {
		return fmt.Errorf("marshal payouts: %w", err)
	}

	var refunds []byte
	if len(res.Refunds) > 0 {
		refunds, err = json.Marshal(res.Refunds)
		if err != nil {
			return fmt.Errorf("marshal refunds: %w", err)
		}
	}

	var winner interface{}
	if res.Outcome == settlement.OutcomeCreatorWin {
		winner = res.WinnerCreatorID
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO battle_log.settlements
			(battle_id, outcome, winner_creator_id, total_pool, platform_fee,
			 winner_bonus, winners_share, payouts, refunds, settled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (battle_id) DO NOTHING
	`, res.BattleID, res.Outcome.String(), winner, res.TotalPool, res.PlatformFee,
		res.WinnerBonus, res.WinnersShare, payouts, refunds, res.SettledAt)
	return err
}

// HasVote reports whether a voter already has an accepted vote in a
// battle. Used as the second dedup tier behind the in-memory ledger.
func (s *Store) HasVote(battleID, voterID uuid.UUID) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	var exists int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM battle_log.votes
		WHERE battle_id = $1 AND voter_id = $2
		LIMIT 1
	`, battleID, voterID).Scan(&exists)

	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListVotes returns the accepted votes of a battle in acceptance order,
// for audit and replay.
func (s *Store) ListVotes(ctx context.Context, battleID uuid.UUID) ([]VoteRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT vote_id, battle_id, voter_id, creator_id, amount, placed_at
		FROM battle_log.votes
		WHERE battle_id = $1
		ORDER BY placed_at, vote_id
	`, battleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var votes []VoteRow
	for rows.Next() {
		var v VoteRow
		if err := rows.Scan(&v.VoteID, &v.BattleID, &v.VoterID, &v.CreatorID, &v.Amount, &v.PlacedAt); err != nil {
			return nil, err
		}
		votes = append(votes, v)
	}
	return votes, rows.Err()
}

// GetSettlement loads a frozen settlement row.
func (s *Store) GetSettlement(ctx context.Context, battleID uuid.UUID) (*settlement.Result, error) {
	var (
		res         settlement.Result
		outcome     string
		winner      sql.NullString
		payoutsJSON []byte
		refundsJSON []byte
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT battle_id, outcome, winner_creator_id, total_pool, platform_fee,
		       winner_bonus, winners_share, payouts, refunds, settled_at
		FROM battle_log.settlements
		WHERE battle_id = $1
	`, battleID).Scan(&res.BattleID, &outcome, &winner, &res.TotalPool, &res.PlatformFee,
		&res.WinnerBonus, &res.WinnersShare, &payoutsJSON, &refundsJSON, &res.SettledAt)
	if err != nil {
		return nil, err
	}

	switch outcome {
	case settlement.OutcomeTie.String():
		res.Outcome = settlement.OutcomeTie
	case settlement.OutcomeCreatorWin.String():
		res.Outcome = settlement.OutcomeCreatorWin
	}

	if winner.Valid {
		id, err := uuid.Parse(winner.String)
		if err != nil {
			return nil, fmt.Errorf("parse winner id: %w", err)
		}
		res.WinnerCreatorID = id
	}

	if err := json.Unmarshal(payoutsJSON, &res.Payouts); err != nil {
		return nil, fmt.Errorf("unmarshal payouts: %w", err)
	}
	if len(refundsJSON) > 0 {
		if err := json.Unmarshal(refundsJSON, &res.Refunds); err != nil {
			return nil, fmt.Errorf("unmarshal refunds: %w", err)
		}
	}

	return &res, nil
}
