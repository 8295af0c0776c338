package battle

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"BattleLedger/internal/event"
	"BattleLedger/internal/settlement"
)

// Phase is the battle lifecycle state.
type Phase int32

const (
	PhaseUnknown Phase = iota
	PhaseActive        // accepting votes and gifts
	PhaseEnding        // grace window, read-only
	PhaseSettled       // terminal, holds the settlement result
	PhaseAborted       // terminal, votes reported as refundable
)

func (p Phase) String() string {
	switch p {
	case PhaseActive:
		return "active"
	case PhaseEnding:
		return "ending"
	case PhaseSettled:
		return "settled"
	case PhaseAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// hooks are the director callbacks fired on phase transitions. They are
// always invoked outside the session lock.
type hooks struct {
	onEnding  func(s *Session, scoreA, scoreB int64)
	onSettled func(s *Session, res *settlement.Result, elapsed time.Duration)
	onAborted func(s *Session, reason string, refunds []event.Refund)
	onFailed  func(s *Session, err error)
}

// Session owns one battle: its ledger, pool, scores, phase and timers.
// All mutation goes through the session mutex (single-writer discipline),
// so a vote append and its pool update are one atomic step to any reader.
type Session struct {
	ID        uuid.UUID
	Creators  [2]uuid.UUID
	StartTime time.Time
	Duration  time.Duration
	Grace     time.Duration

	mu     sync.Mutex
	phase  Phase
	ledger *VoteLedger
	pool   WagerPool
	score  ScoreAggregator

	result    *settlement.Result
	settleErr error
	abortErr  error

	voteTimer  *time.Timer
	graceTimer *time.Timer

	// Closed exactly once when the battle reaches a terminal outcome
	// (settled, settlement failure, or aborted).
	settledCh chan struct{}

	engine *settlement.Engine
	hooks  hooks
	log    zerolog.Logger
}

func newSession(
	id uuid.UUID,
	creatorA, creatorB uuid.UUID,
	duration, grace time.Duration,
	engine *settlement.Engine,
	checker DupChecker,
	h hooks,
	log zerolog.Logger,
) *Session {
	return &Session{
		ID:        id,
		Creators:  [2]uuid.UUID{creatorA, creatorB},
		StartTime: time.Now().UTC(),
		Duration:  duration,
		Grace:     grace,
		phase:     PhaseActive,
		ledger:    NewVoteLedger(id, checker),
		settledCh: make(chan struct{}),
		engine:    engine,
		hooks:     h,
		log:       log.With().Str("battle_id", id.String()).Logger(),
	}
}

// start arms the countdown timer. Called once by the director.
func (s *Session) start() {
	s.voteTimer = time.AfterFunc(s.Duration, s.endVoting)
}

// slotFor maps a creator id to its slot, or -1 if the creator is not
// part of this battle.
func (s *Session) slotFor(creatorID uuid.UUID) int {
	switch creatorID {
	case s.Creators[0]:
		return 0
	case s.Creators[1]:
		return 1
	default:
		return -1
	}
}

// PlaceVote validates and records a wager. The phase check, ledger
// append and pool update happen under one lock acquisition, so an
// in-flight vote always observes an abort or phase change, never a
// stale phase.
func (s *Session) PlaceVote(voterID, creatorID uuid.UUID, amount int64) (Vote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseActive {
		return Vote{}, ErrBattleNotActive
	}

	slot := s.slotFor(creatorID)
	if slot < 0 {
		return Vote{}, ErrInvalidCreator
	}

	v := Vote{
		VoteID:    uuid.New(),
		BattleID:  s.ID,
		VoterID:   voterID,
		CreatorID: creatorID,
		Slot:      slot,
		Amount:    amount,
		PlacedAt:  time.Now().UTC(),
	}

	if err := s.ledger.Append(v); err != nil {
		return Vote{}, err
	}
	s.pool.RecordVote(slot, amount)

	return v, nil
}

// SendGift applies gift points to a creator's score.
func (s *Session) SendGift(creatorID uuid.UUID, points int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseActive {
		return ErrBattleNotActive
	}

	slot := s.slotFor(creatorID)
	if slot < 0 {
		return ErrInvalidCreator
	}

	s.score.ApplyGift(slot, points)
	return nil
}

// State returns the live view of the battle.
func (s *Session) State() (Phase, int64, int64, PoolSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	scoreA, scoreB := s.score.CurrentScores()
	return s.phase, scoreA, scoreB, s.pool.Snapshot()
}

// endVoting fires when the countdown elapses: Active → Ending. The
// phase check makes a late timer racing an abort a no-op.
func (s *Session) endVoting() {
	s.mu.Lock()
	if s.phase != PhaseActive {
		s.mu.Unlock()
		return
	}
	s.phase = PhaseEnding
	scoreA, scoreB := s.score.CurrentScores()
	s.graceTimer = time.AfterFunc(s.Grace, s.settle)
	s.mu.Unlock()

	s.log.Info().
		Int64("score_a", scoreA).
		Int64("score_b", scoreB).
		Msg("voting closed, grace window started")

	if s.hooks.onEnding != nil {
		s.hooks.onEnding(s, scoreA, scoreB)
	}
}

// settle fires at the end of the grace window: Ending → Settled. The
// pool snapshot and ledger are frozen by construction: no vote can be
// accepted once the phase left Active.
func (s *Session) settle() {
	s.mu.Lock()
	if s.phase != PhaseEnding {
		s.mu.Unlock()
		return
	}

	scoreA, scoreB := s.score.CurrentScores()
	snap := s.pool.Snapshot()
	in := settlement.Input{
		BattleID:       s.ID,
		Creators:       s.Creators,
		Scores:         [2]int64{scoreA, scoreB},
		TotalByCreator: snap.TotalByCreator,
		TotalPool:      snap.Total,
		VoterCount:     snap.VoterCount,
		Stakes:         s.ledger.Stakes(),
	}

	began := time.Now()
	res, err := s.engine.Settle(in)
	elapsed := time.Since(began)
	if err != nil && err != settlement.ErrAlreadySettled {
		// Fatal invariant break: do not publish an inconsistent result,
		// do not retry. The battle stays in Ending with the error pinned.
		s.settleErr = err
		close(s.settledCh)
		s.mu.Unlock()

		s.log.Error().Err(err).Msg("settlement failed")
		if s.hooks.onFailed != nil {
			s.hooks.onFailed(s, err)
		}
		return
	}

	s.result = res
	s.phase = PhaseSettled
	close(s.settledCh)
	s.mu.Unlock()

	if s.hooks.onSettled != nil {
		s.hooks.onSettled(s, res, elapsed)
	}
}

// Abort forces the battle into the Aborted terminal state and reports
// every accepted vote as refundable. No settlement is computed.
func (s *Session) Abort(reason string) ([]event.Refund, error) {
	s.mu.Lock()

	if s.phase == PhaseSettled || s.phase == PhaseAborted {
		s.mu.Unlock()
		return nil, ErrBattleNotActive
	}

	if s.voteTimer != nil {
		s.voteTimer.Stop()
	}
	if s.graceTimer != nil {
		s.graceTimer.Stop()
	}

	s.phase = PhaseAborted
	s.abortErr = ErrBattleAborted

	votes := s.ledger.Votes()
	refunds := make([]event.Refund, 0, len(votes))
	for _, v := range votes {
		refunds = append(refunds, event.Refund{VoterID: v.VoterID, Amount: v.Amount})
	}

	close(s.settledCh)
	s.mu.Unlock()

	s.log.Info().
		Str("reason", reason).
		Int("refunds", len(refunds)).
		Msg("battle aborted")

	if s.hooks.onAborted != nil {
		s.hooks.onAborted(s, reason, refunds)
	}
	return refunds, nil
}

// Result returns the settlement without blocking.
func (s *Session) Result() (*settlement.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.result != nil:
		return s.result, nil
	case s.settleErr != nil:
		return nil, s.settleErr
	case s.abortErr != nil:
		return nil, s.abortErr
	default:
		return nil, ErrNotSettled
	}
}

// WaitSettled blocks until the battle reaches a terminal outcome and
// returns the cached settlement. Safe to call any number of times.
func (s *Session) WaitSettled(ctx context.Context) (*settlement.Result, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.settledCh:
		return s.Result()
	}
}
