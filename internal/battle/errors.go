package battle

import "errors"

// Rejected-input errors are reported synchronously to the caller and
// cause no state change.
var (
	ErrDuplicateVote   = errors.New("duplicate vote")
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrInvalidCreator  = errors.New("invalid creator")
	ErrBattleNotActive = errors.New("battle not active")
	ErrBattleNotFound  = errors.New("battle not found")

	// ErrNotSettled means the battle has not reached Settled yet.
	ErrNotSettled = errors.New("battle not settled yet")

	// ErrBattleAborted is returned by settlement waits for aborted battles.
	ErrBattleAborted = errors.New("battle aborted")
)
