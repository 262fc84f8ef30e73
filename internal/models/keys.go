// internal/models/keys.go
package models

import (
	"fmt"

	"github.com/google/uuid"
)

// Document keys for the store. Collections are key prefixes; keep these
// builders as the single source of truth for the layout.

func LobbyKey(lobbyID uuid.UUID) string {
	return fmt.Sprintf("lobbies/%s", lobbyID)
}

func PoolKey(lobbyID uuid.UUID) string {
	return fmt.Sprintf("lobbies/%s/pool", lobbyID)
}

func PlayerKey(lobbyID, uid uuid.UUID) string {
	return fmt.Sprintf("lobbies/%s/players/%s", lobbyID, uid)
}

func PlayersPrefix(lobbyID uuid.UUID) string {
	return fmt.Sprintf("lobbies/%s/players/", lobbyID)
}

func TurnKey(lobbyID, turnID uuid.UUID) string {
	return fmt.Sprintf("lobbies/%s/turns/%s", lobbyID, turnID)
}

func TurnsPrefix(lobbyID uuid.UUID) string {
	return fmt.Sprintf("lobbies/%s/turns/", lobbyID)
}

func HandKey(lobbyID, uid uuid.UUID) string {
	return fmt.Sprintf("lobbies/%s/hands/%s", lobbyID, uid)
}
