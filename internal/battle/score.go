package battle

// ScoreAggregator accumulates gift and like points into a live score per
// creator slot. Scores are informational: they decide the winner but are
// never converted to currency. Serialized by the owning session.
type ScoreAggregator struct {
	scores [2]int64
}

// ApplyGift adds gift points to a creator's score. Non-positive inputs
// are ignored.
func (a *ScoreAggregator) ApplyGift(slot int, points int64) {
	if points <= 0 {
		return
	}
	a.scores[slot] += points
}

// ApplyLike adds like points to a creator's score.
func (a *ScoreAggregator) ApplyLike(slot int, points int64) {
	a.ApplyGift(slot, points)
}

// CurrentScores returns the running scores for slots A and B.
func (a *ScoreAggregator) CurrentScores() (scoreA, scoreB int64) {
	return a.scores[0], a.scores[1]
}
