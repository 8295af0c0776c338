package settlement

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"BattleLedger/internal/event"
	"BattleLedger/internal/money"
)

// ErrAlreadySettled is returned when Settle is invoked a second time for
// the same battle. The original result is returned alongside it.
var ErrAlreadySettled = errors.New("battle already settled")

// Input is the frozen view of a terminal battle. The caller guarantees
// no further votes or gifts can be accepted before building it.
type Input struct {
	BattleID uuid.UUID

	// Slot 0 is creator A, slot 1 is creator B, matching the session.
	Creators [2]uuid.UUID
	Scores   [2]int64

	// Wager pool snapshot
	TotalByCreator [2]int64
	TotalPool      int64
	VoterCount     int

	// Per-slot stakes from the vote ledger
	Stakes [2][]money.Stake
}

// Engine computes settlements. It is the idempotence guard: a battle id
// settles at most once, even under concurrent retries.
type Engine struct {
	mu      sync.Mutex
	settled map[uuid.UUID]*Result
	log     zerolog.Logger
}

func NewEngine(log zerolog.Logger) *Engine {
	return &Engine{
		settled: make(map[uuid.UUID]*Result),
		log:     log,
	}
}

// Settle computes the final settlement for a battle. The second and
// later calls for the same battle return the cached result together
// with ErrAlreadySettled; the computation never re-runs.
func (e *Engine) Settle(in Input) (*Result, error) {
	e.mu.Lock()
	if res, ok := e.settled[in.BattleID]; ok {
		e.mu.Unlock()
		e.log.Warn().
			Str("battle_id", in.BattleID.String()).
			Msg("settle called twice, returning cached result")
		return res, ErrAlreadySettled
	}
	e.mu.Unlock()

	res, err := compute(in)
	if err != nil {
		e.log.Error().
			Str("battle_id", in.BattleID.String()).
			Err(err).
			Msg("settlement aborted")
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if cached, ok := e.settled[in.BattleID]; ok {
		// Lost the race to a concurrent retry
		return cached, ErrAlreadySettled
	}
	e.settled[in.BattleID] = res

	e.log.Info().
		Str("battle_id", in.BattleID.String()).
		Str("outcome", res.Outcome.String()).
		Int64("total_pool", res.TotalPool).
		Int64("platform_fee", res.PlatformFee).
		Int64("winner_bonus", res.WinnerBonus).
		Int64("winners_share", res.WinnersShare).
		Int("payouts", len(res.Payouts)).
		Msg("battle settled")

	return res, nil
}

// Result returns the cached settlement for a battle, if it exists.
func (e *Engine) Result(battleID uuid.UUID) (*Result, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	res, ok := e.settled[battleID]
	return res, ok
}

// compute is the pure, single-pass settlement over a frozen input.
func compute(in Input) (*Result, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	// Tie: no winner, no bonus, the whole pool is refunded.
	if in.Scores[0] == in.Scores[1] {
		return &Result{
			BattleID:  in.BattleID,
			Outcome:   OutcomeTie,
			TotalPool: in.TotalPool,
			Payouts:   map[uuid.UUID]int64{},
			Refunds:   refundAll(in),
			SettledAt: now,
		}, nil
	}

	winnerSlot := 0
	if in.Scores[1] > in.Scores[0] {
		winnerSlot = 1
	}

	platformFee, winnerBonus, winnersShare := money.SplitPool(in.TotalPool)
	winningVotesTotal := in.TotalByCreator[winnerSlot]

	var payouts map[uuid.UUID]int64
	if winningVotesTotal == 0 {
		// Nobody wagered on the score winner: the winners' share is not
		// distributable and folds into the platform fee.
		platformFee += winnersShare
		winnersShare = 0
		payouts = map[uuid.UUID]int64{}
	} else {
		payouts = money.DistributeProRata(in.Stakes[winnerSlot], winnersShare)
	}

	res := &Result{
		BattleID:        in.BattleID,
		Outcome:         OutcomeCreatorWin,
		WinnerCreatorID: in.Creators[winnerSlot],
		TotalPool:       in.TotalPool,
		PlatformFee:     platformFee,
		WinnerBonus:     winnerBonus,
		WinnersShare:    winnersShare,
		Payouts:         payouts,
		SettledAt:       now,
	}

	if err := validateResult(res); err != nil {
		return nil, err
	}
	return res, nil
}

func validateInput(in Input) error {
	if sum := in.TotalByCreator[0] + in.TotalByCreator[1]; sum != in.TotalPool {
		return &InvariantError{
			BattleID: in.BattleID,
			Detail:   fmt.Sprintf("pool total %d != per-creator sum %d", in.TotalPool, sum),
		}
	}

	for slot := 0; slot < 2; slot++ {
		var stakeSum int64
		for _, s := range in.Stakes[slot] {
			stakeSum += s.Amount
		}
		if stakeSum != in.TotalByCreator[slot] {
			return &InvariantError{
				BattleID: in.BattleID,
				Detail: fmt.Sprintf("slot %d stakes sum %d != pool subtotal %d",
					slot, stakeSum, in.TotalByCreator[slot]),
			}
		}
	}
	return nil
}

func validateResult(res *Result) error {
	if res.PlatformFee+res.WinnerBonus+res.WinnersShare != res.TotalPool {
		return &InvariantError{
			BattleID: res.BattleID,
			Detail: fmt.Sprintf("fee %d + bonus %d + share %d != pool %d",
				res.PlatformFee, res.WinnerBonus, res.WinnersShare, res.TotalPool),
		}
	}

	var payoutSum int64
	for _, p := range res.Payouts {
		payoutSum += p
	}
	if payoutSum != res.WinnersShare {
		return &InvariantError{
			BattleID: res.BattleID,
			Detail:   fmt.Sprintf("payouts sum %d != winners share %d", payoutSum, res.WinnersShare),
		}
	}
	return nil
}

// refundAll builds the full-refund list for a tie, ordered by voter id
// for deterministic output.
func refundAll(in Input) []event.Refund {
	refunds := make([]event.Refund, 0, in.VoterCount)
	for slot := 0; slot < 2; slot++ {
		for _, s := range in.Stakes[slot] {
			refunds = append(refunds, event.Refund{VoterID: s.VoterID, Amount: s.Amount})
		}
	}
	sort.Slice(refunds, func(i, j int) bool {
		return bytes.Compare(refunds[i].VoterID[:], refunds[j].VoterID[:]) < 0
	})
	return refunds
}
