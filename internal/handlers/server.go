// internal/handlers/server.go
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/partydeck/partydeck/internal/lobby"
	"github.com/partydeck/partydeck/internal/middleware"
	"github.com/partydeck/partydeck/internal/notify"
	"github.com/partydeck/partydeck/internal/pool"
	"github.com/partydeck/partydeck/internal/settings"
	"github.com/partydeck/partydeck/internal/store"
	"github.com/partydeck/partydeck/internal/turn"
)

// Server holds the HTTP surface and its collaborators.
type Server struct {
	Log     *logrus.Logger
	Store   store.Store
	Lobbies *lobby.Service
	Turns   *turn.Service
	Pool    *pool.Service
	Hub     *notify.Hub

	// BaseURL is the externally reachable URL encoded into join QR codes.
	BaseURL string
}

func NewServer(log *logrus.Logger, st store.Store, lobbies *lobby.Service, turns *turn.Service, p *pool.Service, hub *notify.Hub, baseURL string) *Server {
	return &Server{
		Log:     log,
		Store:   st,
		Lobbies: lobbies,
		Turns:   turns,
		Pool:    p,
		Hub:     hub,
		BaseURL: baseURL,
	}
}

// Router builds the chi route tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.LogMiddleware(s.Log))
	r.Use(middleware.SessionMiddleware)

	r.Post("/session", s.CreateSession)

	r.Route("/lobbies", func(r chi.Router) {
		r.With(middleware.RequireSession).Post("/", s.CreateLobby)

		r.Route("/{lobbyID}", func(r chi.Router) {
			r.Get("/", s.GetLobby)
			r.Get("/qr", s.JoinQR)
			r.Get("/ws", s.StreamLobby)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireSession)

				r.Post("/join", s.JoinLobby)
				r.Post("/leave", s.LeaveLobby)
				r.Post("/kick", s.KickPlayer)
				r.Post("/ban", s.BanPlayer)
				r.Post("/settings", s.UpdateSettings)
				r.Post("/start", s.StartGame)
				r.Post("/next-turn", s.StartNewTurn)
				r.Post("/end", s.EndGame)
				r.Post("/extend", s.ExtendGame)
				r.Post("/play-again", s.PlayAgain)

				r.Get("/hand", s.GetHand)
				r.Get("/turns", s.ListTurns)
				r.Get("/prompts", s.PromptOffers)
				r.Post("/exchange", s.ExchangeCards)

				r.Route("/turns/{turnID}", func(r chi.Router) {
					r.Post("/play-prompt", s.PlayPrompt)
					r.Post("/responses", s.SubmitResponse)
					r.Delete("/responses", s.CancelResponse)
					r.Post("/start-reading", s.StartReading)
					r.Post("/reveal", s.RevealResponse)
					r.Post("/like", s.ToggleLike)
					r.Post("/vote-prompt", s.VotePrompt)
					r.Post("/winner", s.ChooseWinner)
				})
			})
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeError maps engine errors to HTTP statuses and a stable code string.
func writeError(w http.ResponseWriter, err error) {
	code, status := "internal", http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		code, status = "not_found", http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		code, status = "conflict", http.StatusConflict
	case errors.Is(err, turn.ErrInvalidPhase):
		code, status = "invalid_phase", http.StatusConflict
	case errors.Is(err, lobby.ErrInvalidStatus):
		code, status = "invalid_status", http.StatusConflict
	case errors.Is(err, lobby.ErrForbidden):
		code, status = "forbidden", http.StatusForbidden
	case errors.Is(err, turn.ErrValidation),
		errors.Is(err, settings.ErrUnknownVariant),
		errors.Is(err, pool.ErrDiscardsDisabled),
		errors.Is(err, pool.ErrNoDiscardTokens):
		code, status = "validation", http.StatusBadRequest
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Code: code})
}

func decodeBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// lobbyID parses the {lobbyID} route parameter.
func lobbyID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "lobbyID"))
	return id, err == nil
}

func turnID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "turnID"))
	return id, err == nil
}
