package battle_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"BattleLedger/internal/battle"
	"BattleLedger/internal/event"
	"BattleLedger/internal/settlement"
)

func newDirector(t *testing.T, opts battle.DirectorOpts) *battle.Director {
	t.Helper()
	return battle.NewDirector(settlement.NewEngine(zerolog.Nop()), opts, zerolog.Nop())
}

func TestDirector_FullBattleLifecycle(t *testing.T) {
	d := newDirector(t, battle.DirectorOpts{GraceWindow: 30 * time.Millisecond})

	creatorX := uuid.New()
	creatorY := uuid.New()
	battleID, err := d.StartBattle(creatorX, creatorY, 40*time.Millisecond)
	if err != nil {
		t.Fatalf("StartBattle: %v", err)
	}

	voterA := uuid.New()
	voterB := uuid.New()
	if _, err := d.PlaceVote(battleID, voterA, creatorX, 450); err != nil {
		t.Fatalf("PlaceVote A: %v", err)
	}
	if _, err := d.PlaceVote(battleID, voterB, creatorY, 780); err != nil {
		t.Fatalf("PlaceVote B: %v", err)
	}
	if err := d.SendGift(battleID, creatorX, 120); err != nil {
		t.Fatalf("SendGift X: %v", err)
	}
	if err := d.SendGift(battleID, creatorY, 95); err != nil {
		t.Fatalf("SendGift Y: %v", err)
	}

	view, err := d.BattleState(battleID)
	if err != nil {
		t.Fatalf("BattleState: %v", err)
	}
	if view.Phase != "active" {
		t.Errorf("phase = %s, want active", view.Phase)
	}
	if view.Pool.Total != 1230 || view.ScoreA != 120 || view.ScoreB != 95 {
		t.Errorf("view = %+v", view)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := d.OnSettled(ctx, battleID)
	if err != nil {
		t.Fatalf("OnSettled: %v", err)
	}

	if res.WinnerCreatorID != creatorX {
		t.Errorf("winner = %s, want %s", res.WinnerCreatorID, creatorX)
	}
	if res.PlatformFee != 123 || res.WinnerBonus != 246 || res.WinnersShare != 861 {
		t.Errorf("split = (%d, %d, %d), want (123, 246, 861)",
			res.PlatformFee, res.WinnerBonus, res.WinnersShare)
	}
	if res.Payouts[voterA] != 861 {
		t.Errorf("payout = %d, want 861", res.Payouts[voterA])
	}

	view, _ = d.BattleState(battleID)
	if view.Phase != "settled" {
		t.Errorf("phase after settle = %s, want settled", view.Phase)
	}

	// The synchronous read path now serves the same cached result.
	again, err := d.Settlement(battleID)
	if err != nil {
		t.Fatalf("Settlement: %v", err)
	}
	if again != res {
		t.Error("Settlement must return the same cached result")
	}
}

func TestDirector_StartBattleValidation(t *testing.T) {
	d := newDirector(t, battle.DirectorOpts{})
	creator := uuid.New()

	if _, err := d.StartBattle(creator, creator, time.Minute); err == nil {
		t.Error("identical creators must be rejected")
	}
	if _, err := d.StartBattle(uuid.Nil, creator, time.Minute); err == nil {
		t.Error("nil creator must be rejected")
	}
	if _, err := d.StartBattle(creator, uuid.New(), 0); err == nil {
		t.Error("zero duration must be rejected")
	}
}

func TestDirector_UnknownBattle(t *testing.T) {
	d := newDirector(t, battle.DirectorOpts{})
	missing := uuid.New()

	if _, err := d.PlaceVote(missing, uuid.New(), uuid.New(), 10); !errors.Is(err, battle.ErrBattleNotFound) {
		t.Errorf("PlaceVote err = %v, want ErrBattleNotFound", err)
	}
	if _, err := d.BattleState(missing); !errors.Is(err, battle.ErrBattleNotFound) {
		t.Errorf("BattleState err = %v, want ErrBattleNotFound", err)
	}
	if _, err := d.Settlement(missing); !errors.Is(err, battle.ErrBattleNotFound) {
		t.Errorf("Settlement err = %v, want ErrBattleNotFound", err)
	}
}

func TestDirector_VoteRejections(t *testing.T) {
	d := newDirector(t, battle.DirectorOpts{GraceWindow: 20 * time.Millisecond})
	creatorX := uuid.New()
	creatorY := uuid.New()
	battleID, err := d.StartBattle(creatorX, creatorY, time.Minute)
	if err != nil {
		t.Fatalf("StartBattle: %v", err)
	}

	voter := uuid.New()
	if _, err := d.PlaceVote(battleID, voter, creatorX, 100); err != nil {
		t.Fatalf("PlaceVote: %v", err)
	}

	if _, err := d.PlaceVote(battleID, voter, creatorY, 50); !errors.Is(err, battle.ErrDuplicateVote) {
		t.Errorf("duplicate voter err = %v, want ErrDuplicateVote", err)
	}
	if _, err := d.PlaceVote(battleID, uuid.New(), creatorX, 0); !errors.Is(err, battle.ErrInvalidAmount) {
		t.Errorf("zero amount err = %v, want ErrInvalidAmount", err)
	}
	if _, err := d.PlaceVote(battleID, uuid.New(), uuid.New(), 10); !errors.Is(err, battle.ErrInvalidCreator) {
		t.Errorf("foreign creator err = %v, want ErrInvalidCreator", err)
	}

	view, _ := d.BattleState(battleID)
	if view.Pool.Total != 100 || view.Pool.VoterCount != 1 {
		t.Errorf("rejected votes must not touch the pool: %+v", view.Pool)
	}
}

func TestDirector_VotesClosedDuringGrace(t *testing.T) {
	d := newDirector(t, battle.DirectorOpts{GraceWindow: 500 * time.Millisecond})
	creatorX := uuid.New()
	battleID, err := d.StartBattle(creatorX, uuid.New(), 20*time.Millisecond)
	if err != nil {
		t.Fatalf("StartBattle: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		view, err := d.BattleState(battleID)
		if err != nil {
			t.Fatalf("BattleState: %v", err)
		}
		if view.Phase == "ending" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("battle never reached ending, phase = %s", view.Phase)
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := d.PlaceVote(battleID, uuid.New(), creatorX, 10); !errors.Is(err, battle.ErrBattleNotActive) {
		t.Errorf("vote during grace err = %v, want ErrBattleNotActive", err)
	}
	if err := d.SendGift(battleID, creatorX, 5); !errors.Is(err, battle.ErrBattleNotActive) {
		t.Errorf("gift during grace err = %v, want ErrBattleNotActive", err)
	}
}

func TestDirector_ConcurrentDuplicateVotes(t *testing.T) {
	d := newDirector(t, battle.DirectorOpts{GraceWindow: 20 * time.Millisecond})
	creatorX := uuid.New()
	battleID, err := d.StartBattle(creatorX, uuid.New(), time.Minute)
	if err != nil {
		t.Fatalf("StartBattle: %v", err)
	}

	voter := uuid.New()
	const n = 32
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = d.PlaceVote(battleID, voter, creatorX, 25)
		}(i)
	}
	wg.Wait()

	accepted := 0
	for _, err := range errs {
		if err == nil {
			accepted++
		} else if !errors.Is(err, battle.ErrDuplicateVote) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if accepted != 1 {
		t.Errorf("accepted = %d, want exactly 1", accepted)
	}

	view, _ := d.BattleState(battleID)
	if view.Pool.Total != 25 || view.Pool.VoterCount != 1 {
		t.Errorf("pool = %+v, want single 25-unit wager", view.Pool)
	}
}

func TestDirector_TieRefundsEveryone(t *testing.T) {
	d := newDirector(t, battle.DirectorOpts{GraceWindow: 20 * time.Millisecond})
	creatorX := uuid.New()
	creatorY := uuid.New()
	battleID, err := d.StartBattle(creatorX, creatorY, 30*time.Millisecond)
	if err != nil {
		t.Fatalf("StartBattle: %v", err)
	}

	voterA := uuid.New()
	voterB := uuid.New()
	d.PlaceVote(battleID, voterA, creatorX, 300)
	d.PlaceVote(battleID, voterB, creatorY, 500)
	// No gifts: 0-0 is a tie.

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := d.OnSettled(ctx, battleID)
	if err != nil {
		t.Fatalf("OnSettled: %v", err)
	}

	if res.Outcome != settlement.OutcomeTie {
		t.Fatalf("outcome = %s, want tie", res.Outcome)
	}
	var refunded int64
	for _, r := range res.Refunds {
		refunded += r.Amount
	}
	if refunded != 800 {
		t.Errorf("refunds sum = %d, want 800", refunded)
	}
}

func TestDirector_Abort(t *testing.T) {
	d := newDirector(t, battle.DirectorOpts{GraceWindow: time.Second})
	creatorX := uuid.New()
	battleID, err := d.StartBattle(creatorX, uuid.New(), time.Hour)
	if err != nil {
		t.Fatalf("StartBattle: %v", err)
	}

	voter := uuid.New()
	if _, err := d.PlaceVote(battleID, voter, creatorX, 200); err != nil {
		t.Fatalf("PlaceVote: %v", err)
	}

	refunds, err := d.AbortBattle(battleID, "stream disconnected")
	if err != nil {
		t.Fatalf("AbortBattle: %v", err)
	}
	if len(refunds) != 1 || refunds[0] != (event.Refund{VoterID: voter, Amount: 200}) {
		t.Errorf("refunds = %v", refunds)
	}

	view, _ := d.BattleState(battleID)
	if view.Phase != "aborted" {
		t.Errorf("phase = %s, want aborted", view.Phase)
	}

	if _, err := d.PlaceVote(battleID, uuid.New(), creatorX, 10); !errors.Is(err, battle.ErrBattleNotActive) {
		t.Errorf("vote after abort err = %v, want ErrBattleNotActive", err)
	}
	if _, err := d.Settlement(battleID); !errors.Is(err, battle.ErrBattleAborted) {
		t.Errorf("Settlement after abort err = %v, want ErrBattleAborted", err)
	}
	if _, err := d.AbortBattle(battleID, "again"); !errors.Is(err, battle.ErrBattleNotActive) {
		t.Errorf("second abort err = %v, want ErrBattleNotActive", err)
	}

	// The countdown timer was cancelled: the battle must still be aborted
	// well after the original duration would not have elapsed anyway.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := d.OnSettled(ctx, battleID); !errors.Is(err, battle.ErrBattleAborted) {
		t.Errorf("OnSettled after abort err = %v, want ErrBattleAborted", err)
	}
}

func TestDirector_SettlementBeforeTerminal(t *testing.T) {
	d := newDirector(t, battle.DirectorOpts{GraceWindow: time.Second})
	battleID, err := d.StartBattle(uuid.New(), uuid.New(), time.Hour)
	if err != nil {
		t.Fatalf("StartBattle: %v", err)
	}

	if _, err := d.Settlement(battleID); !errors.Is(err, battle.ErrNotSettled) {
		t.Errorf("err = %v, want ErrNotSettled", err)
	}
}

func TestDirector_EmitsLifecycleEvents(t *testing.T) {
	persist := make(chan event.Outbound, 64)
	d := newDirector(t, battle.DirectorOpts{
		GraceWindow: 20 * time.Millisecond,
		PersistChan: persist,
	})

	creatorX := uuid.New()
	battleID, err := d.StartBattle(creatorX, uuid.New(), 30*time.Millisecond)
	if err != nil {
		t.Fatalf("StartBattle: %v", err)
	}
	voter := uuid.New()
	if _, err := d.PlaceVote(battleID, voter, creatorX, 100); err != nil {
		t.Fatalf("PlaceVote: %v", err)
	}
	if err := d.SendGift(battleID, creatorX, 7); err != nil {
		t.Fatalf("SendGift: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := d.OnSettled(ctx, battleID); err != nil {
		t.Fatalf("OnSettled: %v", err)
	}

	want := []event.EventType{
		event.EventTypeBattleStarted,
		event.EventTypeVotePlaced,
		event.EventTypeGiftSent,
		event.EventTypeBattleEnding,
		event.EventTypeBattleSettled,
	}
	var lastSeq int64
	for i, wantType := range want {
		select {
		case o := <-persist:
			if o.EventType != wantType {
				t.Errorf("event %d: type = %s, want %s", i, o.EventType, wantType)
			}
			if o.BattleID != battleID {
				t.Errorf("event %d: battle id = %s", i, o.BattleID)
			}
			if o.Sequence <= lastSeq {
				t.Errorf("event %d: sequence %d not increasing past %d", i, o.Sequence, lastSeq)
			}
			lastSeq = o.Sequence
		case <-time.After(time.Second):
			t.Fatalf("missing event %d (%s)", i, wantType)
		}
	}
}

func TestDirector_PublishChannelDropsWhenFull(t *testing.T) {
	publish := make(chan event.Outbound) // unbuffered, nobody reading
	d := newDirector(t, battle.DirectorOpts{
		GraceWindow: time.Second,
		PublishChan: publish,
	})

	// Must not block even though the publish channel can never accept.
	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := d.StartBattle(uuid.New(), uuid.New(), time.Hour); err != nil {
			t.Errorf("StartBattle: %v", err)
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("StartBattle blocked on a full publish channel")
	}
}

func TestDirector_ListBattles(t *testing.T) {
	d := newDirector(t, battle.DirectorOpts{GraceWindow: time.Second})

	if got := d.ListBattles(); len(got) != 0 {
		t.Fatalf("expected empty list, got %d", len(got))
	}

	first, err := d.StartBattle(uuid.New(), uuid.New(), time.Hour)
	if err != nil {
		t.Fatalf("StartBattle: %v", err)
	}
	second, err := d.StartBattle(uuid.New(), uuid.New(), time.Hour)
	if err != nil {
		t.Fatalf("StartBattle: %v", err)
	}

	views := d.ListBattles()
	if len(views) != 2 {
		t.Fatalf("got %d battles, want 2", len(views))
	}
	seen := map[uuid.UUID]bool{views[0].BattleID: true, views[1].BattleID: true}
	if !seen[first] || !seen[second] {
		t.Errorf("listing missing a battle: %v", views)
	}
	for _, v := range views {
		if v.Phase != "active" {
			t.Errorf("phase = %s, want active", v.Phase)
		}
	}
}

func TestDirector_GiftEventFromStream(t *testing.T) {
	d := newDirector(t, battle.DirectorOpts{GraceWindow: time.Second})
	creatorX := uuid.New()
	battleID, err := d.StartBattle(creatorX, uuid.New(), time.Hour)
	if err != nil {
		t.Fatalf("StartBattle: %v", err)
	}

	g := &event.GiftSent{
		GiftID:    uuid.New(),
		Battle:    battleID,
		CreatorID: creatorX,
		Points:    42,
		Timestamp: time.Now().UTC(),
	}
	if err := d.ApplyGiftEvent(g); err != nil {
		t.Fatalf("ApplyGiftEvent: %v", err)
	}

	view, _ := d.BattleState(battleID)
	if view.ScoreA != 42 {
		t.Errorf("score = %d, want 42", view.ScoreA)
	}

	unknown := &event.GiftSent{GiftID: uuid.New(), Battle: uuid.New(), CreatorID: creatorX, Points: 1}
	if err := d.ApplyGiftEvent(unknown); !errors.Is(err, battle.ErrBattleNotFound) {
		t.Errorf("err = %v, want ErrBattleNotFound", err)
	}
}
