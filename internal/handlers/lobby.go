// internal/handlers/lobby.go
package handlers

import (
	"context"
	"net/http"
	"sort"

	"github.com/google/uuid"

	"github.com/partydeck/partydeck/internal/middleware"
	"github.com/partydeck/partydeck/internal/models"
	"github.com/partydeck/partydeck/internal/settings"
	"github.com/partydeck/partydeck/internal/store"
)

// CreateLobby creates a lobby with the caller as creator. The body may carry
// a partial settings override and deck ids.
func (s *Server) CreateLobby(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.SessionFrom(r.Context())

	var req struct {
		DeckIDs  []string               `json:"deck_ids"`
		Settings map[string]interface{} `json:"settings"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed body", Code: "validation"})
		return
	}

	lob, err := s.Lobbies.Create(r.Context(), sess.UID, sess.Name, req.DeckIDs, req.Settings)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, lob)
}

type lobbySnapshot struct {
	Lobby   models.Lobby    `json:"lobby"`
	Players []models.Player `json:"players"`
	Turn    *models.Turn    `json:"turn,omitempty"`
}

// GetLobby returns the lobby, its roster and the current turn, redacted for
// the caller: unrevealed response cards and policy-hidden like votes are
// stripped server-side so no client ever holds them.
func (s *Server) GetLobby(w http.ResponseWriter, r *http.Request) {
	id, ok := lobbyID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid lobby id", Code: "validation"})
		return
	}
	sess, _ := middleware.SessionFrom(r.Context())

	var snap lobbySnapshot
	err := s.Store.RunTransaction(r.Context(), func(tx store.Tx) error {
		if err := store.GetJSON(r.Context(), tx, models.LobbyKey(id), &snap.Lobby); err != nil {
			return err
		}
		players, err := store.ListJSON[models.Player](r.Context(), tx, models.PlayersPrefix(id))
		if err != nil {
			return err
		}
		snap.Players = players

		if snap.Lobby.CurrentTurnID != uuid.Nil {
			var t models.Turn
			if err := store.GetJSON(r.Context(), tx, models.TurnKey(id, snap.Lobby.CurrentTurnID), &t); err == nil {
				snap.Turn = &t
			}
		}
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}

	sort.Slice(snap.Players, func(i, j int) bool {
		if snap.Players[i].OrderIndex != snap.Players[j].OrderIndex {
			return snap.Players[i].OrderIndex < snap.Players[j].OrderIndex
		}
		return snap.Players[i].UID.String() < snap.Players[j].UID.String()
	})
	if snap.Turn != nil {
		snap.Lobby.Settings.Normalize()
		redactTurn(snap.Turn, snap.Lobby.Settings, sess.UID)
	}
	writeJSON(w, http.StatusOK, snap)
}

// redactTurn strips what the viewer must not see while the turn is running:
// submitted cards beyond the reveal count, and like votes the show_likes_to
// policy hides. A complete turn is fully visible.
func redactTurn(t *models.Turn, cfg settings.Settings, viewer uuid.UUID) {
	if t.Phase == models.PhaseComplete {
		return
	}
	showLikes := false
	switch cfg.ShowLikesTo {
	case settings.ShowLikesEveryone:
		showLikes = true
	case settings.ShowLikesJudge:
		showLikes = viewer == t.JudgeUID
	case settings.ShowLikesNobody:
	}

	for _, resp := range t.Responses {
		if resp.PlayerUID != viewer {
			if resp.RevealCount < len(resp.Cards) {
				resp.Cards = resp.Cards[:resp.RevealCount]
			}
		}
		if !showLikes && resp.PlayerUID != viewer {
			resp.Likes = nil
		}
	}
}

func (s *Server) JoinLobby(w http.ResponseWriter, r *http.Request) {
	id, ok := lobbyID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid lobby id", Code: "validation"})
		return
	}
	sess, _ := middleware.SessionFrom(r.Context())

	var req struct {
		Avatar    string `json:"avatar"`
		Spectator bool   `json:"spectator"`
	}
	_ = decodeBody(r, &req)

	role := models.RolePlayer
	if req.Spectator {
		role = models.RoleSpectator
	}
	if err := s.Lobbies.Join(r.Context(), id, sess.UID, sess.Name, req.Avatar, role); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "joined"})
}

func (s *Server) LeaveLobby(w http.ResponseWriter, r *http.Request) {
	s.simpleLobbyAction(w, r, func(ctx context.Context, id, actor uuid.UUID) error {
		return s.Lobbies.Leave(ctx, id, actor)
	})
}

func (s *Server) KickPlayer(w http.ResponseWriter, r *http.Request) {
	s.targetLobbyAction(w, r, s.Lobbies.Kick)
}

func (s *Server) BanPlayer(w http.ResponseWriter, r *http.Request) {
	s.targetLobbyAction(w, r, s.Lobbies.Ban)
}

func (s *Server) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	id, ok := lobbyID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid lobby id", Code: "validation"})
		return
	}
	sess, _ := middleware.SessionFrom(r.Context())

	var changes map[string]interface{}
	if err := decodeBody(r, &changes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed body", Code: "validation"})
		return
	}
	if err := s.Lobbies.UpdateSettings(r.Context(), id, sess.UID, changes); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) StartGame(w http.ResponseWriter, r *http.Request) {
	id, ok := lobbyID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid lobby id", Code: "validation"})
		return
	}
	sess, _ := middleware.SessionFrom(r.Context())

	var req struct {
		Cards []models.DeckCard `json:"cards"`
	}
	if err := decodeBody(r, &req); err != nil || len(req.Cards) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "deck cards are required", Code: "validation"})
		return
	}
	if err := s.Lobbies.StartGame(r.Context(), id, sess.UID, req.Cards); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (s *Server) StartNewTurn(w http.ResponseWriter, r *http.Request) {
	id, ok := lobbyID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid lobby id", Code: "validation"})
		return
	}
	var req struct {
		TurnID uuid.UUID `json:"turn_id"`
	}
	if err := decodeBody(r, &req); err != nil || req.TurnID == uuid.Nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "turn_id is required", Code: "validation"})
		return
	}
	if err := s.Lobbies.StartNewTurn(r.Context(), id, req.TurnID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "advanced"})
}

func (s *Server) EndGame(w http.ResponseWriter, r *http.Request) {
	s.simpleLobbyAction(w, r, func(ctx context.Context, id, actor uuid.UUID) error {
		return s.Lobbies.EndGame(ctx, id, actor)
	})
}

func (s *Server) ExtendGame(w http.ResponseWriter, r *http.Request) {
	id, ok := lobbyID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid lobby id", Code: "validation"})
		return
	}
	sess, _ := middleware.SessionFrom(r.Context())

	var req struct {
		ExtraTurns int `json:"extra_turns"`
	}
	_ = decodeBody(r, &req)

	if err := s.Lobbies.ExtendGame(r.Context(), id, sess.UID, req.ExtraTurns); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "extended"})
}

func (s *Server) PlayAgain(w http.ResponseWriter, r *http.Request) {
	id, ok := lobbyID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid lobby id", Code: "validation"})
		return
	}
	sess, _ := middleware.SessionFrom(r.Context())

	next, err := s.Lobbies.PlayAgain(r.Context(), id, sess.UID, sess.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, next)
}

func (s *Server) simpleLobbyAction(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id, actor uuid.UUID) error) {
	id, ok := lobbyID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid lobby id", Code: "validation"})
		return
	}
	sess, _ := middleware.SessionFrom(r.Context())
	if err := fn(r.Context(), id, sess.UID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) targetLobbyAction(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id, actor, target uuid.UUID) error) {
	id, ok := lobbyID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid lobby id", Code: "validation"})
		return
	}
	sess, _ := middleware.SessionFrom(r.Context())

	var req struct {
		UID uuid.UUID `json:"uid"`
	}
	if err := decodeBody(r, &req); err != nil || req.UID == uuid.Nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "uid is required", Code: "validation"})
		return
	}
	if err := fn(r.Context(), id, sess.UID, req.UID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
