// internal/models/player.go
package models

import (
	"time"

	"github.com/google/uuid"
)

type PlayerRole string

const (
	RolePlayer    PlayerRole = "player"
	RoleSpectator PlayerRole = "spectator"
)

type PlayerStatus string

const (
	PlayerOnline PlayerStatus = "online"
	PlayerLeft   PlayerStatus = "left"
	PlayerBanned PlayerStatus = "banned"
	PlayerKicked PlayerStatus = "kicked"
)

// Player is a member of one lobby. Players are never hard-deleted; leaving,
// kicking and banning are status changes so that old turns keep valid uid
// references.
type Player struct {
	UID    uuid.UUID    `json:"uid"`
	Name   string       `json:"name"`
	Avatar string       `json:"avatar,omitempty"`
	Role   PlayerRole   `json:"role"`
	Status PlayerStatus `json:"status"`

	// OrderIndex is drawn at random when the player first joins and never
	// changes. Judge rotation sorts by it, so a player who leaves and
	// rejoins keeps their slot instead of reshuffling the rotation.
	OrderIndex int64 `json:"order_index"`

	Score int `json:"score"`
	Likes int `json:"likes"`

	DiscardTokens int `json:"discard_tokens"`
	DiscardsUsed  int `json:"discards_used"`

	JoinedAt time.Time `json:"joined_at"`
}

// Active reports whether the player currently participates in judge rotation
// and dealing.
func (p Player) Active() bool {
	return p.Role == RolePlayer && p.Status == PlayerOnline
}
