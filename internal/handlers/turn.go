// internal/handlers/turn.go
package handlers

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/google/uuid"

	"github.com/partydeck/partydeck/internal/middleware"
	"github.com/partydeck/partydeck/internal/models"
	"github.com/partydeck/partydeck/internal/store"
)

func (s *Server) lobbyAndTurn(w http.ResponseWriter, r *http.Request) (lob, t uuid.UUID, ok bool) {
	lob, ok = lobbyID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid lobby id", Code: "validation"})
		return
	}
	t, ok = turnID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid turn id", Code: "validation"})
		return
	}
	return lob, t, true
}

// ListTurns returns the lobby's turns in play order, for score recaps and
// late joiners catching up. Only complete turns are included; the running
// turn is served redacted through the lobby snapshot instead.
func (s *Server) ListTurns(w http.ResponseWriter, r *http.Request) {
	id, ok := lobbyID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid lobby id", Code: "validation"})
		return
	}
	var turns []models.Turn
	err := s.Store.RunTransaction(r.Context(), func(tx store.Tx) error {
		all, err := store.ListJSON[models.Turn](r.Context(), tx, models.TurnsPrefix(id))
		if err != nil {
			return err
		}
		turns = turns[:0]
		for _, t := range all {
			if t.Phase == models.PhaseComplete {
				turns = append(turns, t)
			}
		}
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	sort.Slice(turns, func(i, j int) bool { return turns[i].Ordinal < turns[j].Ordinal })
	writeJSON(w, http.StatusOK, map[string]interface{}{"turns": turns})
}

// PromptOffers returns the next prompt candidates for the judge to choose
// from, without consuming them.
func (s *Server) PromptOffers(w http.ResponseWriter, r *http.Request) {
	id, ok := lobbyID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid lobby id", Code: "validation"})
		return
	}
	n := 3
	if raw := r.URL.Query().Get("n"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 10 {
			n = parsed
		}
	}
	offers, err := s.Pool.PickPrompts(r.Context(), id, n)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"prompts": offers})
}

// GetHand returns the caller's private hand.
func (s *Server) GetHand(w http.ResponseWriter, r *http.Request) {
	id, ok := lobbyID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid lobby id", Code: "validation"})
		return
	}
	sess, _ := middleware.SessionFrom(r.Context())

	var hand models.Hand
	err := s.Store.RunTransaction(r.Context(), func(tx store.Tx) error {
		return store.GetJSON(r.Context(), tx, models.HandKey(id, sess.UID), &hand)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hand)
}

// ExchangeCards swaps cards out of the caller's hand per the discard
// economy, optionally steering replacements toward tags.
func (s *Server) ExchangeCards(w http.ResponseWriter, r *http.Request) {
	id, ok := lobbyID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid lobby id", Code: "validation"})
		return
	}
	sess, _ := middleware.SessionFrom(r.Context())

	var req struct {
		CardIDs []uuid.UUID `json:"card_ids"`
		Tags    []string    `json:"tags"`
	}
	if err := decodeBody(r, &req); err != nil || len(req.CardIDs) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "card_ids are required", Code: "validation"})
		return
	}
	dealt, err := s.Pool.ExchangeCards(r.Context(), id, sess.UID, req.CardIDs, req.Tags)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"cards": dealt})
}

func (s *Server) PlayPrompt(w http.ResponseWriter, r *http.Request) {
	lob, t, ok := s.lobbyAndTurn(w, r)
	if !ok {
		return
	}
	var req struct {
		PromptID    uuid.UUID   `json:"prompt_id"`
		RejectedIDs []uuid.UUID `json:"rejected_ids"`
	}
	if err := decodeBody(r, &req); err != nil || req.PromptID == uuid.Nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "prompt_id is required", Code: "validation"})
		return
	}
	if err := s.Turns.PlayPrompt(r.Context(), lob, t, req.PromptID, req.RejectedIDs); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "played"})
}

func (s *Server) SubmitResponse(w http.ResponseWriter, r *http.Request) {
	lob, t, ok := s.lobbyAndTurn(w, r)
	if !ok {
		return
	}
	sess, _ := middleware.SessionFrom(r.Context())

	var req struct {
		CardIDs []uuid.UUID `json:"card_ids"`
	}
	if err := decodeBody(r, &req); err != nil || len(req.CardIDs) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "card_ids are required", Code: "validation"})
		return
	}
	if err := s.Turns.SubmitResponse(r.Context(), lob, t, sess.UID, req.CardIDs); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "submitted"})
}

func (s *Server) CancelResponse(w http.ResponseWriter, r *http.Request) {
	lob, t, ok := s.lobbyAndTurn(w, r)
	if !ok {
		return
	}
	sess, _ := middleware.SessionFrom(r.Context())
	if err := s.Turns.CancelResponse(r.Context(), lob, t, sess.UID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) StartReading(w http.ResponseWriter, r *http.Request) {
	lob, t, ok := s.lobbyAndTurn(w, r)
	if !ok {
		return
	}
	if err := s.Turns.StartReading(r.Context(), lob, t); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reading"})
}

func (s *Server) RevealResponse(w http.ResponseWriter, r *http.Request) {
	lob, t, ok := s.lobbyAndTurn(w, r)
	if !ok {
		return
	}
	var req struct {
		UID uuid.UUID `json:"uid"`
	}
	if err := decodeBody(r, &req); err != nil || req.UID == uuid.Nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "uid is required", Code: "validation"})
		return
	}
	if err := s.Turns.RevealResponse(r.Context(), lob, t, req.UID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revealed"})
}

func (s *Server) ToggleLike(w http.ResponseWriter, r *http.Request) {
	lob, t, ok := s.lobbyAndTurn(w, r)
	if !ok {
		return
	}
	sess, _ := middleware.SessionFrom(r.Context())

	var req struct {
		UID    uuid.UUID         `json:"uid"`
		Choice models.VoteChoice `json:"choice"`
	}
	if err := decodeBody(r, &req); err != nil || req.UID == uuid.Nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "uid is required", Code: "validation"})
		return
	}
	if req.Choice == "" {
		req.Choice = models.VoteYes
	}
	if err := s.Turns.ToggleLike(r.Context(), lob, t, req.UID, sess.UID, sess.Name, req.Choice); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "toggled"})
}

func (s *Server) VotePrompt(w http.ResponseWriter, r *http.Request) {
	lob, t, ok := s.lobbyAndTurn(w, r)
	if !ok {
		return
	}
	sess, _ := middleware.SessionFrom(r.Context())

	var req struct {
		PromptID uuid.UUID          `json:"prompt_id"`
		Choice   *models.VoteChoice `json:"choice"`
	}
	if err := decodeBody(r, &req); err != nil || req.PromptID == uuid.Nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "prompt_id is required", Code: "validation"})
		return
	}
	if err := s.Turns.VotePrompt(r.Context(), lob, t, req.PromptID, sess.UID, sess.Name, req.Choice); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "voted"})
}

func (s *Server) ChooseWinner(w http.ResponseWriter, r *http.Request) {
	lob, t, ok := s.lobbyAndTurn(w, r)
	if !ok {
		return
	}
	var req struct {
		UID uuid.UUID `json:"uid"`
	}
	if err := decodeBody(r, &req); err != nil || req.UID == uuid.Nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "uid is required", Code: "validation"})
		return
	}
	if err := s.Turns.ChooseWinner(r.Context(), lob, t, req.UID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "complete"})
}
