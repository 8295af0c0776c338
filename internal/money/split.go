package money

import (
	"bytes"
	"sort"

	"github.com/google/uuid"
)

// Pool split percentages. The winners' share is distributed pro rata
// among voters who backed the winning creator; the bonus goes to the
// winning creator; the fee stays with the platform.
const (
	PlatformFeePct  = 10
	WinnerBonusPct  = 20
	WinnersSharePct = 70
)

// SplitPool divides totalPool by the fixed percentages. Integer division
// loses at most 2 units across the three slices; the remainder is
// assigned to the platform fee so fee + bonus + share == totalPool exactly.
func SplitPool(totalPool int64) (platformFee, winnerBonus, winnersShare int64) {
	platformFee = totalPool * PlatformFeePct / 100
	winnerBonus = totalPool * WinnerBonusPct / 100
	winnersShare = totalPool * WinnersSharePct / 100

	platformFee += totalPool - (platformFee + winnerBonus + winnersShare)
	return platformFee, winnerBonus, winnersShare
}

// Stake is one voter's wager on the winning creator.
type Stake struct {
	VoterID uuid.UUID
	Amount  int64
}

// DistributeProRata splits winnersShare among stakes proportionally to
// stake amounts using the largest-remainder method, so the payouts sum
// to winnersShare exactly. Ordering is deterministic: remainders break
// ties by voter id, so the same inputs always produce the same payouts.
func DistributeProRata(stakes []Stake, winnersShare int64) map[uuid.UUID]int64 {
	payouts := make(map[uuid.UUID]int64, len(stakes))
	if len(stakes) == 0 || winnersShare <= 0 {
		return payouts
	}

	var stakesTotal int64
	for _, s := range stakes {
		stakesTotal += s.Amount
	}
	if stakesTotal <= 0 {
		return payouts
	}

	type entry struct {
		voterID   uuid.UUID
		base      int64
		remainder int64
	}

	entries := make([]entry, 0, len(stakes))
	var distributed int64

	for _, s := range stakes {
		num := MultiplyInt128(s.Amount, winnersShare)
		base, rem := DivideInt128(num, stakesTotal, RoundDown)
		putInt128(num)

		entries = append(entries, entry{voterID: s.VoterID, base: base, remainder: rem})
		distributed += base
	}

	// Hand out the leftover units, largest fractional remainder first.
	// leftover < len(entries) since each floor loses under one unit.
	leftover := winnersShare - distributed
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].remainder != entries[j].remainder {
			return entries[i].remainder > entries[j].remainder
		}
		return bytes.Compare(entries[i].voterID[:], entries[j].voterID[:]) < 0
	})

	for i := range entries {
		if leftover > 0 {
			entries[i].base++
			leftover--
		}
		payouts[entries[i].voterID] = entries[i].base
	}

	return payouts
}
