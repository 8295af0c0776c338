package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"BattleLedger/internal/battle"
	"BattleLedger/internal/settlement"
)

type startBattleRequest struct {
	CreatorA   string `json:"creator_a"`
	CreatorB   string `json:"creator_b"`
	DurationMs int64  `json:"duration_ms"`
}

type startBattleResponse struct {
	BattleID string `json:"battle_id"`
}

func (s *Server) handleStartBattle(w http.ResponseWriter, r *http.Request) {
	var req startBattleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	creatorA, err := uuid.Parse(req.CreatorA)
	if err != nil {
		http.Error(w, "invalid creator_a", http.StatusBadRequest)
		return
	}
	creatorB, err := uuid.Parse(req.CreatorB)
	if err != nil {
		http.Error(w, "invalid creator_b", http.StatusBadRequest)
		return
	}
	if req.DurationMs <= 0 {
		http.Error(w, "duration_ms must be positive", http.StatusBadRequest)
		return
	}

	battleID, err := s.director.StartBattle(creatorA, creatorB, time.Duration(req.DurationMs)*time.Millisecond)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusCreated, startBattleResponse{BattleID: battleID.String()})
}

type placeVoteRequest struct {
	VoterID   string `json:"voter_id"`
	CreatorID string `json:"creator_id"`
	Amount    int64  `json:"amount"`
}

type placeVoteResponse struct {
	VoteID string `json:"vote_id"`
}

func (s *Server) handlePlaceVote(w http.ResponseWriter, r *http.Request) {
	battleID, ok := pathBattleID(w, r)
	if !ok {
		return
	}

	var req placeVoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	voterID, err := uuid.Parse(req.VoterID)
	if err != nil {
		http.Error(w, "invalid voter_id", http.StatusBadRequest)
		return
	}
	creatorID, err := uuid.Parse(req.CreatorID)
	if err != nil {
		http.Error(w, "invalid creator_id", http.StatusBadRequest)
		return
	}

	v, err := s.director.PlaceVote(battleID, voterID, creatorID, req.Amount)
	if err != nil {
		writeVoteError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, placeVoteResponse{VoteID: v.VoteID.String()})
}

type sendGiftRequest struct {
	CreatorID string `json:"creator_id"`
	Points    int64  `json:"points"`
}

func (s *Server) handleSendGift(w http.ResponseWriter, r *http.Request) {
	battleID, ok := pathBattleID(w, r)
	if !ok {
		return
	}

	var req sendGiftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	creatorID, err := uuid.Parse(req.CreatorID)
	if err != nil {
		http.Error(w, "invalid creator_id", http.StatusBadRequest)
		return
	}
	if req.Points <= 0 {
		http.Error(w, "points must be positive", http.StatusBadRequest)
		return
	}

	// Fire-and-forget: late or misrouted gifts are accepted and dropped,
	// the live score simply doesn't change.
	if err := s.director.SendGift(battleID, creatorID, req.Points); err != nil {
		if errors.Is(err, battle.ErrBattleNotFound) {
			http.Error(w, "battle not found", http.StatusNotFound)
			return
		}
		if errors.Is(err, battle.ErrInvalidCreator) {
			http.Error(w, "creator not in battle", http.StatusBadRequest)
			return
		}
	}

	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleListBattles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.director.ListBattles())
}

func (s *Server) handleBattleState(w http.ResponseWriter, r *http.Request) {
	battleID, ok := pathBattleID(w, r)
	if !ok {
		return
	}

	view, err := s.director.BattleState(battleID)
	if err != nil {
		http.Error(w, "battle not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleSettlement(w http.ResponseWriter, r *http.Request) {
	battleID, ok := pathBattleID(w, r)
	if !ok {
		return
	}

	res, err := s.director.Settlement(battleID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, battle.ErrBattleNotFound):
		http.Error(w, "battle not found", http.StatusNotFound)
	case errors.Is(err, battle.ErrNotSettled):
		http.Error(w, "settlement not available yet", http.StatusTooEarly)
	case errors.Is(err, battle.ErrBattleAborted):
		http.Error(w, "battle aborted, no settlement", http.StatusGone)
	default:
		var inv *settlement.InvariantError
		if errors.As(err, &inv) {
			http.Error(w, "settlement failed", http.StatusInternalServerError)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

type abortRequest struct {
	Reason string `json:"reason"`
}

type abortResponse struct {
	BattleID string        `json:"battle_id"`
	Refunds  []abortRefund `json:"refunds"`
}

type abortRefund struct {
	VoterID string `json:"voter_id"`
	Amount  int64  `json:"amount"`
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	battleID, ok := pathBattleID(w, r)
	if !ok {
		return
	}

	var req abortRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Reason == "" {
		req.Reason = "operator_abort"
	}

	refunds, err := s.director.AbortBattle(battleID, req.Reason)
	if err != nil {
		if errors.Is(err, battle.ErrBattleNotFound) {
			http.Error(w, "battle not found", http.StatusNotFound)
			return
		}
		// Already settled or already aborted
		http.Error(w, "battle already terminal", http.StatusConflict)
		return
	}

	resp := abortResponse{BattleID: battleID.String(), Refunds: make([]abortRefund, 0, len(refunds))}
	for _, ref := range refunds {
		resp.Refunds = append(resp.Refunds, abortRefund{VoterID: ref.VoterID.String(), Amount: ref.Amount})
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- helpers ---

func pathBattleID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	vars := mux.Vars(r)
	id, err := uuid.Parse(vars["battle_id"])
	if err != nil {
		http.Error(w, "invalid battle_id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func writeVoteError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, battle.ErrBattleNotFound):
		http.Error(w, "battle not found", http.StatusNotFound)
	case errors.Is(err, battle.ErrDuplicateVote):
		http.Error(w, "voter already voted in this battle", http.StatusConflict)
	case errors.Is(err, battle.ErrInvalidAmount):
		http.Error(w, "amount must be positive", http.StatusBadRequest)
	case errors.Is(err, battle.ErrInvalidCreator):
		http.Error(w, "creator not in battle", http.StatusBadRequest)
	case errors.Is(err, battle.ErrBattleNotActive):
		http.Error(w, "battle no longer accepts votes", http.StatusGone)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
