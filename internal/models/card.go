// internal/models/card.go
package models

import "github.com/google/uuid"

// CardKind discriminates prompt cards from response cards. Every switch over
// it must carry a default arm; an unknown kind is a data error, not a case to
// silently skip.
type CardKind string

const (
	CardPrompt   CardKind = "prompt"
	CardResponse CardKind = "response"
)

// DeckCard is a card as it exists in deck content, before it is copied into a
// lobby. Deck authoring and import are external; the engine only consumes
// this shape.
type DeckCard struct {
	ID     string   `json:"id"`
	DeckID string   `json:"deck_id"`
	Kind   CardKind `json:"kind"`
	Text   string   `json:"text"`

	// Pick is the number of response cards the prompt requires. Prompt only.
	Pick int `json:"pick,omitempty"`

	// Action tags a response card with a special action. Response only.
	Action string `json:"action,omitempty"`

	Tags   []string `json:"tags,omitempty"`
	Rating float64  `json:"rating,omitempty"`

	// Views counts how often this card has been dealt to the current roster,
	// per deck metadata. Zero means the card is new to these players.
	Views int `json:"views,omitempty"`
}

// CardInstance is a lobby-scoped copy of a deck card. Its ID is distinct
// from the origin deck card so the same content can appear in many lobbies.
type CardInstance struct {
	ID       uuid.UUID `json:"id"`
	SourceID string    `json:"source_id"`
	Kind     CardKind  `json:"kind"`
	Text     string    `json:"text"`

	Pick      int    `json:"pick,omitempty"`      // prompt only
	Downvoted bool   `json:"downvoted,omitempty"` // response only
	Action    string `json:"action,omitempty"`    // response only

	Tags   []string `json:"tags,omitempty"`
	Rating float64  `json:"rating,omitempty"`
	Views  int      `json:"views,omitempty"`

	// RandomIndex fixes the card's position in the shuffled pool order.
	// Assigned once when the pool is built.
	RandomIndex int64 `json:"random_index"`
}

// HasTag reports whether the card carries the given tag.
func (c CardInstance) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// PickCount returns the prompt's pick requirement, defaulting to 1 for
// prompts that never set it.
func (c CardInstance) PickCount() int {
	if c.Pick < 1 {
		return 1
	}
	return c.Pick
}

// Pool is the shrinking remainder of undealt card instances for one lobby.
// Both slices are kept sorted by descending RandomIndex so sequential dealing
// without reshuffling yields a fair draw order.
type Pool struct {
	Prompts   []CardInstance `json:"prompts"`
	Responses []CardInstance `json:"responses"`
}

// Hand is one player's private set of response cards.
type Hand struct {
	PlayerUID uuid.UUID      `json:"player_uid"`
	Cards     []CardInstance `json:"cards"`
}

// Contains reports whether the hand holds the given card instance.
func (h Hand) Contains(id uuid.UUID) bool {
	for _, c := range h.Cards {
		if c.ID == id {
			return true
		}
	}
	return false
}
