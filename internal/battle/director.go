package battle

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"BattleLedger/internal/event"
	"BattleLedger/internal/observability"
	"BattleLedger/internal/settlement"
)

// StateView is the read model served to the presentation layer.
type StateView struct {
	BattleID uuid.UUID    `json:"battle_id"`
	CreatorA uuid.UUID    `json:"creator_a"`
	CreatorB uuid.UUID    `json:"creator_b"`
	Phase    string       `json:"phase"`
	ScoreA   int64        `json:"score_a"`
	ScoreB   int64        `json:"score_b"`
	Pool     PoolSnapshot `json:"pool"`
}

// Director orchestrates all live battles: it owns the session map,
// routes votes and gifts to the right session, and emits lifecycle
// events for the wallet/notification collaborators. Battles are fully
// isolated from each other; the director lock only guards the map.
type Director struct {
	grace time.Duration

	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session

	engine  *settlement.Engine
	checker DupChecker
	seq     atomic.Int64

	// persistCh feeds the audit log: blocking sends, so a slow writer
	// applies backpressure rather than losing records.
	persistCh chan<- event.Outbound

	// publishCh feeds the NATS publisher: best effort, drops when full.
	publishCh chan<- event.Outbound

	metrics *observability.Metrics
	log     zerolog.Logger
}

// DirectorOpts carries optional collaborators; zero values disable them.
type DirectorOpts struct {
	GraceWindow time.Duration
	DupChecker  DupChecker
	PersistChan chan<- event.Outbound
	PublishChan chan<- event.Outbound
	Metrics     *observability.Metrics
}

func NewDirector(engine *settlement.Engine, opts DirectorOpts, log zerolog.Logger) *Director {
	grace := opts.GraceWindow
	if grace <= 0 {
		grace = 5 * time.Second
	}
	return &Director{
		grace:     grace,
		sessions:  make(map[uuid.UUID]*Session),
		engine:    engine,
		checker:   opts.DupChecker,
		persistCh: opts.PersistChan,
		publishCh: opts.PublishChan,
		metrics:   opts.Metrics,
		log:       log,
	}
}

// StartBattle schedules a new battle between two distinct creators and
// arms its countdown timer.
func (d *Director) StartBattle(creatorA, creatorB uuid.UUID, duration time.Duration) (uuid.UUID, error) {
	if creatorA == uuid.Nil || creatorB == uuid.Nil || creatorA == creatorB {
		return uuid.Nil, fmt.Errorf("%w: battle needs two distinct creators", ErrInvalidCreator)
	}
	if duration <= 0 {
		return uuid.Nil, fmt.Errorf("invalid battle duration %s", duration)
	}

	id := uuid.New()
	s := newSession(id, creatorA, creatorB, duration, d.grace, d.engine, d.checker, hooks{
		onEnding:  d.handleEnding,
		onSettled: d.handleSettled,
		onAborted: d.handleAborted,
		onFailed:  d.handleFailed,
	}, d.log)

	d.mu.Lock()
	d.sessions[id] = s
	d.mu.Unlock()

	s.start()

	d.emit(event.EventTypeBattleStarted, id, id.String()+":started", event.BattleStarted{
		Battle:    id,
		CreatorA:  creatorA,
		CreatorB:  creatorB,
		StartTime: s.StartTime,
		Duration:  duration,
	})

	if d.metrics != nil {
		d.metrics.BattlesStarted.Inc()
		d.metrics.LiveBattles.Inc()
	}

	d.log.Info().
		Str("battle_id", id.String()).
		Str("creator_a", creatorA.String()).
		Str("creator_b", creatorB.String()).
		Dur("duration", duration).
		Msg("battle started")

	return id, nil
}

func (d *Director) session(battleID uuid.UUID) (*Session, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.sessions[battleID]
	if !ok {
		return nil, ErrBattleNotFound
	}
	return s, nil
}

// PlaceVote routes a wager to its battle session.
func (d *Director) PlaceVote(battleID, voterID, creatorID uuid.UUID, amount int64) (Vote, error) {
	s, err := d.session(battleID)
	if err != nil {
		d.recordRejection("battle_not_found")
		return Vote{}, err
	}

	v, err := s.PlaceVote(voterID, creatorID, amount)
	if err != nil {
		d.recordRejection(rejectionReason(err))
		return Vote{}, err
	}

	d.emit(event.EventTypeVotePlaced, battleID, v.VoteID.String(), event.VotePlaced{
		VoteID:    v.VoteID,
		Battle:    v.BattleID,
		VoterID:   v.VoterID,
		CreatorID: v.CreatorID,
		Amount:    v.Amount,
		PlacedAt:  v.PlacedAt,
	})

	if d.metrics != nil {
		d.metrics.VotesAccepted.Inc()
	}
	return v, nil
}

// SendGift routes a scored gift to its battle session. The gift id is
// generated here for gifts arriving over HTTP; NATS gifts keep theirs.
func (d *Director) SendGift(battleID, creatorID uuid.UUID, points int64) error {
	return d.applyGift(&event.GiftSent{
		GiftID:    uuid.New(),
		Battle:    battleID,
		CreatorID: creatorID,
		Points:    points,
		Timestamp: time.Now().UTC(),
	})
}

// ApplyGiftEvent ingests a gift or like event from the event stream.
func (d *Director) ApplyGiftEvent(g *event.GiftSent) error {
	return d.applyGift(g)
}

func (d *Director) applyGift(g *event.GiftSent) error {
	s, err := d.session(g.Battle)
	if err != nil {
		return err
	}

	if err := s.SendGift(g.CreatorID, g.Points); err != nil {
		return err
	}

	d.emit(event.EventTypeGiftSent, g.Battle, g.IdempotencyKey(), g)

	if d.metrics != nil {
		d.metrics.GiftsApplied.Inc()
	}
	return nil
}

// ListBattles returns the state of every known battle, sorted by start
// time so the presentation layer gets a stable order.
func (d *Director) ListBattles() []StateView {
	d.mu.RLock()
	sessions := make([]*Session, 0, len(d.sessions))
	for _, s := range d.sessions {
		sessions = append(sessions, s)
	}
	d.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].StartTime.Equal(sessions[j].StartTime) {
			return sessions[i].StartTime.Before(sessions[j].StartTime)
		}
		return bytes.Compare(sessions[i].ID[:], sessions[j].ID[:]) < 0
	})

	views := make([]StateView, 0, len(sessions))
	for _, s := range sessions {
		phase, scoreA, scoreB, pool := s.State()
		views = append(views, StateView{
			BattleID: s.ID,
			CreatorA: s.Creators[0],
			CreatorB: s.Creators[1],
			Phase:    phase.String(),
			ScoreA:   scoreA,
			ScoreB:   scoreB,
			Pool:     pool,
		})
	}
	return views
}

// BattleState returns the live phase, scores and pool snapshot.
func (d *Director) BattleState(battleID uuid.UUID) (StateView, error) {
	s, err := d.session(battleID)
	if err != nil {
		return StateView{}, err
	}

	phase, scoreA, scoreB, pool := s.State()
	return StateView{
		BattleID: s.ID,
		CreatorA: s.Creators[0],
		CreatorB: s.Creators[1],
		Phase:    phase.String(),
		ScoreA:   scoreA,
		ScoreB:   scoreB,
		Pool:     pool,
	}, nil
}

// Settlement returns the cached settlement result without blocking.
func (d *Director) Settlement(battleID uuid.UUID) (*settlement.Result, error) {
	s, err := d.session(battleID)
	if err != nil {
		return nil, err
	}
	return s.Result()
}

// OnSettled blocks until the battle settles and returns the cached
// result. Repeated calls return the same result.
func (d *Director) OnSettled(ctx context.Context, battleID uuid.UUID) (*settlement.Result, error) {
	s, err := d.session(battleID)
	if err != nil {
		return nil, err
	}
	return s.WaitSettled(ctx)
}

// AbortBattle forces a battle into the Aborted state, independent of
// its timers, and returns the refund list.
func (d *Director) AbortBattle(battleID uuid.UUID, reason string) ([]event.Refund, error) {
	s, err := d.session(battleID)
	if err != nil {
		return nil, err
	}
	return s.Abort(reason)
}

// --- transition hooks (invoked by sessions outside their lock) ---

func (d *Director) handleEnding(s *Session, scoreA, scoreB int64) {
	d.emit(event.EventTypeBattleEnding, s.ID, s.ID.String()+":ending", event.BattleEnding{
		Battle: s.ID,
		ScoreA: scoreA,
		ScoreB: scoreB,
	})
}

func (d *Director) handleSettled(s *Session, res *settlement.Result, elapsed time.Duration) {
	d.emit(event.EventTypeBattleSettled, s.ID, s.ID.String()+":settled", res)

	if d.metrics != nil {
		d.metrics.BattlesSettled.WithLabelValues(res.Outcome.String()).Inc()
		d.metrics.LiveBattles.Dec()
		d.metrics.SettledPoolTotal.Add(float64(res.TotalPool))
		d.metrics.SettlementDuration.Observe(elapsed.Seconds())
	}
}

func (d *Director) handleAborted(s *Session, reason string, refunds []event.Refund) {
	d.emit(event.EventTypeBattleAborted, s.ID, s.ID.String()+":aborted", event.BattleAborted{
		Battle:  s.ID,
		Reason:  reason,
		Refunds: refunds,
	})

	if d.metrics != nil {
		d.metrics.BattlesAborted.Inc()
		d.metrics.LiveBattles.Dec()
	}
}

func (d *Director) handleFailed(s *Session, err error) {
	if d.metrics != nil {
		d.metrics.SettlementFailures.Inc()
	}
	d.log.Error().
		Str("battle_id", s.ID.String()).
		Err(err).
		Msg("battle settlement failed, result withheld")
}

// emit assigns a global sequence and fans the envelope out to the audit
// writer (blocking) and the publisher (best effort, drop when full).
func (d *Director) emit(et event.EventType, battleID uuid.UUID, idemKey string, payload interface{}) {
	o := event.Outbound{
		Sequence:       d.seq.Add(1),
		IdempotencyKey: idemKey,
		EventType:      et,
		BattleID:       battleID,
		Timestamp:      time.Now().UTC(),
		Payload:        payload,
	}

	if d.persistCh != nil {
		d.persistCh <- o
	}

	if d.publishCh != nil {
		select {
		case d.publishCh <- o:
		default:
			if d.metrics != nil {
				d.metrics.PublishDrops.Inc()
			}
		}
	}
}

func (d *Director) recordRejection(reason string) {
	if d.metrics != nil {
		d.metrics.VotesRejected.WithLabelValues(reason).Inc()
	}
}

func rejectionReason(err error) string {
	switch err {
	case ErrDuplicateVote:
		return "duplicate_vote"
	case ErrInvalidAmount:
		return "invalid_amount"
	case ErrInvalidCreator:
		return "invalid_creator"
	case ErrBattleNotActive:
		return "battle_not_active"
	default:
		return "other"
	}
}
