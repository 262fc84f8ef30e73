// internal/models/lobby.go
package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/partydeck/partydeck/internal/settings"
)

type LobbyStatus string

const (
	LobbyNew        LobbyStatus = "new"
	LobbyStarting   LobbyStatus = "starting"
	LobbyInProgress LobbyStatus = "in_progress"
	LobbyEnded      LobbyStatus = "ended"
)

// Lobby is one persistent party-game session. Exactly one turn is current
// while the lobby is in progress.
type Lobby struct {
	ID         uuid.UUID   `json:"id"`
	CreatorUID uuid.UUID   `json:"creator_uid"`
	Status     LobbyStatus `json:"status"`

	Settings settings.Settings `json:"settings"`

	DeckIDs []string `json:"deck_ids,omitempty"`

	CurrentTurnID uuid.UUID `json:"current_turn_id,omitempty"`

	// NextLobbyID links a "play again" follow-up lobby.
	NextLobbyID uuid.UUID `json:"next_lobby_id,omitempty"`

	// TurnBudget bounds the game when play_until is turn-based. Set once at
	// game start; only ever incremented (mid-game joins, extensions), never
	// recomputed downward.
	TurnBudget int `json:"turn_budget,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
