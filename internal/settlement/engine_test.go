package settlement_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"BattleLedger/internal/money"
	"BattleLedger/internal/settlement"
)

func TestSettle_CreatorWin(t *testing.T) {
	creatorX := uuid.New()
	creatorY := uuid.New()
	voterA := uuid.New()
	voterB := uuid.New()

	// 450 wagered on X, 780 on Y; X wins on score 120 vs 95.
	in := settlement.Input{
		BattleID:       uuid.New(),
		Creators:       [2]uuid.UUID{creatorX, creatorY},
		Scores:         [2]int64{120, 95},
		TotalByCreator: [2]int64{450, 780},
		TotalPool:      1230,
		VoterCount:     2,
		Stakes: [2][]money.Stake{
			{{VoterID: voterA, Amount: 450}},
			{{VoterID: voterB, Amount: 780}},
		},
	}

	engine := settlement.NewEngine(zerolog.Nop())
	res, err := engine.Settle(in)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}

	if res.Outcome != settlement.OutcomeCreatorWin {
		t.Errorf("outcome = %s, want creator_win", res.Outcome)
	}
	if res.WinnerCreatorID != creatorX {
		t.Errorf("winner = %s, want %s", res.WinnerCreatorID, creatorX)
	}
	if res.PlatformFee != 123 || res.WinnerBonus != 246 || res.WinnersShare != 861 {
		t.Errorf("split = (%d, %d, %d), want (123, 246, 861)",
			res.PlatformFee, res.WinnerBonus, res.WinnersShare)
	}
	if res.Payouts[voterA] != 861 {
		t.Errorf("sole backer payout = %d, want 861", res.Payouts[voterA])
	}
	if _, ok := res.Payouts[voterB]; ok {
		t.Error("losing backer must not appear in payouts")
	}
	if len(res.Refunds) != 0 {
		t.Errorf("expected no refunds, got %d", len(res.Refunds))
	}
}

func TestSettle_ZeroBackerWinner(t *testing.T) {
	voterA := uuid.New()
	voterB := uuid.New()

	// All 1000 wagered on slot 0, but slot 1 wins on score. The winners'
	// share has nobody to receive it and folds into the platform fee.
	in := settlement.Input{
		BattleID:       uuid.New(),
		Creators:       [2]uuid.UUID{uuid.New(), uuid.New()},
		Scores:         [2]int64{40, 55},
		TotalByCreator: [2]int64{1000, 0},
		TotalPool:      1000,
		VoterCount:     2,
		Stakes: [2][]money.Stake{
			{{VoterID: voterA, Amount: 600}, {VoterID: voterB, Amount: 400}},
			nil,
		},
	}

	engine := settlement.NewEngine(zerolog.Nop())
	res, err := engine.Settle(in)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}

	if res.PlatformFee != 800 {
		t.Errorf("platform fee = %d, want 800 (100 base + 700 undistributable share)", res.PlatformFee)
	}
	if res.WinnerBonus != 200 {
		t.Errorf("winner bonus = %d, want 200", res.WinnerBonus)
	}
	if res.WinnersShare != 0 {
		t.Errorf("winners share = %d, want 0", res.WinnersShare)
	}
	if len(res.Payouts) != 0 {
		t.Errorf("expected no payouts, got %d", len(res.Payouts))
	}
	if res.PlatformFee+res.WinnerBonus+res.WinnersShare != res.TotalPool {
		t.Error("split does not sum to total pool")
	}
}

func TestSettle_Tie(t *testing.T) {
	voterA := uuid.New()
	voterB := uuid.New()

	in := settlement.Input{
		BattleID:       uuid.New(),
		Creators:       [2]uuid.UUID{uuid.New(), uuid.New()},
		Scores:         [2]int64{77, 77},
		TotalByCreator: [2]int64{300, 500},
		TotalPool:      800,
		VoterCount:     2,
		Stakes: [2][]money.Stake{
			{{VoterID: voterA, Amount: 300}},
			{{VoterID: voterB, Amount: 500}},
		},
	}

	engine := settlement.NewEngine(zerolog.Nop())
	res, err := engine.Settle(in)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}

	if res.Outcome != settlement.OutcomeTie {
		t.Errorf("outcome = %s, want tie", res.Outcome)
	}
	if res.WinnerCreatorID != uuid.Nil {
		t.Error("tie must not name a winner")
	}
	if res.PlatformFee != 0 || res.WinnerBonus != 0 || res.WinnersShare != 0 {
		t.Errorf("tie must zero the split, got (%d, %d, %d)",
			res.PlatformFee, res.WinnerBonus, res.WinnersShare)
	}
	if len(res.Payouts) != 0 {
		t.Errorf("expected no payouts, got %d", len(res.Payouts))
	}

	var refunded int64
	byVoter := map[uuid.UUID]int64{}
	for _, r := range res.Refunds {
		refunded += r.Amount
		byVoter[r.VoterID] = r.Amount
	}
	if refunded != 800 {
		t.Errorf("refunds sum = %d, want 800", refunded)
	}
	if byVoter[voterA] != 300 || byVoter[voterB] != 500 {
		t.Errorf("refunds = %v, want full stakes back", byVoter)
	}
}

func TestSettle_Idempotent(t *testing.T) {
	in := soloInput(uuid.New())

	engine := settlement.NewEngine(zerolog.Nop())
	first, err := engine.Settle(in)
	if err != nil {
		t.Fatalf("first Settle: %v", err)
	}

	second, err := engine.Settle(in)
	if !errors.Is(err, settlement.ErrAlreadySettled) {
		t.Fatalf("second Settle err = %v, want ErrAlreadySettled", err)
	}
	if second != first {
		t.Error("second Settle must return the cached result")
	}

	cached, ok := engine.Result(in.BattleID)
	if !ok || cached != first {
		t.Error("Result must return the cached settlement")
	}
}

func TestSettle_ConcurrentRetries(t *testing.T) {
	in := soloInput(uuid.New())
	engine := settlement.NewEngine(zerolog.Nop())

	const n = 16
	var wg sync.WaitGroup
	results := make([]*settlement.Result, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = engine.Settle(in)
		}(i)
	}
	wg.Wait()

	wins := 0
	for i := 0; i < n; i++ {
		if errs[i] == nil {
			wins++
		} else if !errors.Is(errs[i], settlement.ErrAlreadySettled) {
			t.Errorf("goroutine %d: unexpected error %v", i, errs[i])
		}
		if results[i] != results[0] {
			t.Errorf("goroutine %d: got a different result pointer", i)
		}
	}
	if wins != 1 {
		t.Errorf("exactly one Settle must win, got %d", wins)
	}
}

func TestSettle_PoolMismatchRejected(t *testing.T) {
	in := soloInput(uuid.New())
	in.TotalPool = in.TotalPool + 1

	engine := settlement.NewEngine(zerolog.Nop())
	if _, err := engine.Settle(in); err == nil {
		t.Fatal("expected invariant error for mismatched pool total")
	} else {
		var ie *settlement.InvariantError
		if !errors.As(err, &ie) {
			t.Fatalf("err = %T, want *InvariantError", err)
		}
	}

	// A failed settlement must not poison the cache.
	if _, ok := engine.Result(in.BattleID); ok {
		t.Error("failed settlement must not be cached")
	}
}

func TestSettle_StakeSumMismatchRejected(t *testing.T) {
	in := soloInput(uuid.New())
	in.Stakes[0][0].Amount += 5

	engine := settlement.NewEngine(zerolog.Nop())
	if _, err := engine.Settle(in); err == nil {
		t.Fatal("expected invariant error for stakes not matching subtotal")
	}
}

// soloInput is a valid single-backer battle where slot 0 wins.
func soloInput(battleID uuid.UUID) settlement.Input {
	return settlement.Input{
		BattleID:       battleID,
		Creators:       [2]uuid.UUID{uuid.New(), uuid.New()},
		Scores:         [2]int64{10, 3},
		TotalByCreator: [2]int64{500, 0},
		TotalPool:      500,
		VoterCount:     1,
		Stakes: [2][]money.Stake{
			{{VoterID: uuid.New(), Amount: 500}},
			nil,
		},
	}
}
