package battle

// WagerPool holds the running wager totals derived from the vote ledger.
// RecordVote is called exactly once per accepted vote, under the same
// session lock as the ledger append, so total never drifts from the
// sum of accepted votes. Serialized by the owning session.
type WagerPool struct {
	totalByCreator [2]int64
	total          int64
	voterCount     int
}

// RecordVote adds an accepted vote's amount to the running totals.
func (p *WagerPool) RecordVote(slot int, amount int64) {
	p.totalByCreator[slot] += amount
	p.total += amount
	p.voterCount++
}

// PoolSnapshot is an immutable copy of the pool used by settlement and
// state queries, so settlement math never reads a pool mid-mutation.
type PoolSnapshot struct {
	TotalByCreator [2]int64 `json:"total_by_creator"`
	Total          int64    `json:"total"`
	VoterCount     int      `json:"voter_count"`
}

// Snapshot returns an immutable copy of the current totals.
func (p *WagerPool) Snapshot() PoolSnapshot {
	return PoolSnapshot{
		TotalByCreator: p.totalByCreator,
		Total:          p.total,
		VoterCount:     p.voterCount,
	}
}
