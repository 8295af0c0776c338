package persistence

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"BattleLedger/internal/event"
	"BattleLedger/internal/observability"
	"BattleLedger/internal/settlement"
)

// Worker drains the director's audit channel and writes to Postgres.
// Vote and gift rows are batched; lifecycle rows (battle, phase,
// settlement) flush the batch and are written immediately so the
// durable record never shows a settlement before its votes.
// The channel uses blocking sends from the director, so if this worker
// falls behind, acceptance stalls rather than losing audit rows.
type Worker struct {
	store        *Store
	inputChan    <-chan event.Outbound
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	log          zerolog.Logger
}

func NewWorker(
	store *Store,
	inputChan <-chan event.Outbound,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Worker {
	return &Worker{
		store:        store,
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		log:          log,
	}
}

// Run starts the worker loop. It flushes when the batch is full, when
// the flush timeout expires, or before any lifecycle write.
// Blocks until ctx is cancelled or the channel closes.
func (w *Worker) Run(ctx context.Context) error {
	votes := make([]VoteRow, 0, w.batchSize)
	gifts := make([]GiftRow, 0, w.batchSize)

	ticker := time.NewTicker(w.flushTimeout)
	defer ticker.Stop()

	flush := func(ctx context.Context) {
		if len(votes) == 0 && len(gifts) == 0 {
			return
		}

		if w.metrics != nil {
			w.metrics.PersistBatchSize.Observe(float64(len(votes) + len(gifts)))
		}

		if err := w.store.InsertVotes(ctx, votes); err != nil {
			w.recordError("insert_votes", err)
		} else {
			w.recordWritten(len(votes))
		}
		if err := w.store.InsertGifts(ctx, gifts); err != nil {
			w.recordError("insert_gifts", err)
		} else {
			w.recordWritten(len(gifts))
		}

		votes = votes[:0]
		gifts = gifts[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush(context.Background())
			return ctx.Err()

		case <-ticker.C:
			flush(ctx)

		case o, ok := <-w.inputChan:
			if !ok {
				flush(context.Background())
				return nil
			}

			w.apply(ctx, o, &votes, &gifts, flush)

			if len(votes)+len(gifts) >= w.batchSize {
				flush(ctx)
			}
		}
	}
}

func (w *Worker) apply(
	ctx context.Context,
	o event.Outbound,
	votes *[]VoteRow,
	gifts *[]GiftRow,
	flush func(context.Context),
) {
	switch p := o.Payload.(type) {
	case event.VotePlaced:
		*votes = append(*votes, VoteRow{
			VoteID:    p.VoteID,
			BattleID:  p.Battle,
			VoterID:   p.VoterID,
			CreatorID: p.CreatorID,
			Amount:    p.Amount,
			PlacedAt:  p.PlacedAt,
		})

	case *event.GiftSent:
		*gifts = append(*gifts, GiftRow{
			GiftID:    p.GiftID,
			BattleID:  p.Battle,
			CreatorID: p.CreatorID,
			Points:    p.Points,
			SentAt:    p.Timestamp,
		})

	case event.BattleStarted:
		if err := w.store.InsertBattle(ctx, BattleRow{
			BattleID:  p.Battle,
			CreatorA:  p.CreatorA,
			CreatorB:  p.CreatorB,
			StartedAt: p.StartTime,
			Duration:  p.Duration,
			Phase:     "active",
		}); err != nil {
			w.recordError("insert_battle", err)
		}

	case event.BattleEnding:
		flush(ctx)
		if err := w.store.UpdateBattlePhase(ctx, p.Battle, "ending"); err != nil {
			w.recordError("update_phase", err)
		}

	case *settlement.Result:
		flush(ctx)
		if err := w.store.InsertSettlement(ctx, p); err != nil {
			w.recordError("insert_settlement", err)
		}
		if err := w.store.UpdateBattlePhase(ctx, p.BattleID, "settled"); err != nil {
			w.recordError("update_phase", err)
		}

	case event.BattleAborted:
		flush(ctx)
		if err := w.store.UpdateBattlePhase(ctx, p.Battle, "aborted"); err != nil {
			w.recordError("update_phase", err)
		}

	default:
		w.log.Warn().
			Str("event_type", o.EventType.String()).
			Msg("unknown audit payload, skipping")
	}
}

func (w *Worker) recordWritten(n int) {
	if n > 0 && w.metrics != nil {
		w.metrics.PersistRowsWritten.Add(float64(n))
	}
}

func (w *Worker) recordError(kind string, err error) {
	w.log.Error().Str("error_type", kind).Err(err).Msg("audit write failed")
	if w.metrics != nil {
		w.metrics.PersistErrors.WithLabelValues(kind).Inc()
	}
}
