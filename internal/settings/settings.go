// internal/settings/settings.go
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownVariant is returned by every engine switch that meets a settings
// value it has no case for. New variants must be handled at every call site.
var ErrUnknownVariant = errors.New("unknown settings variant")

// PlayUntil selects the game-end condition.
type PlayUntil string

const (
	PlayForever           PlayUntil = "forever"
	PlayMaxTurns          PlayUntil = "max_turns"
	PlayMaxTurnsPerPerson PlayUntil = "max_turns_per_person"
	PlayMaxScore          PlayUntil = "max_score"
)

func (p PlayUntil) Known() bool {
	switch p {
	case PlayForever, PlayMaxTurns, PlayMaxTurnsPerPerson, PlayMaxScore:
		return true
	default:
		return false
	}
}

// LikesLimit selects how many responses one voter may like per turn.
type LikesLimit string

const (
	LikesUnlimited  LikesLimit = "none"
	LikesOnePerTurn LikesLimit = "1_pp_per_turn"
)

func (l LikesLimit) Known() bool {
	switch l {
	case LikesUnlimited, LikesOnePerTurn:
		return true
	default:
		return false
	}
}

// DiscardCost selects the discard/exchange economy.
type DiscardCost string

const (
	DiscardFree           DiscardCost = "free"
	DiscardTokenPerTurn   DiscardCost = "token_per_turn"
	DiscardTokenPer2Turns DiscardCost = "token_per_2_turns"
	DiscardDisabled       DiscardCost = "disabled"
)

func (d DiscardCost) Known() bool {
	switch d {
	case DiscardFree, DiscardTokenPerTurn, DiscardTokenPer2Turns, DiscardDisabled:
		return true
	default:
		return false
	}
}

// ShowLikesTo selects who may see like counts during a turn.
type ShowLikesTo string

const (
	ShowLikesEveryone ShowLikesTo = "everyone"
	ShowLikesJudge    ShowLikesTo = "judge"
	ShowLikesNobody   ShowLikesTo = "nobody"
)

func (s ShowLikesTo) Known() bool {
	switch s {
	case ShowLikesEveryone, ShowLikesJudge, ShowLikesNobody:
		return true
	default:
		return false
	}
}

// LobbyControl selects who may invoke lobby-level actions.
type LobbyControl string

const (
	ControlAnyone         LobbyControl = "anyone"
	ControlPlayers        LobbyControl = "players"
	ControlCreatorOrJudge LobbyControl = "creator_or_judge"
	ControlCreator        LobbyControl = "creator"
)

func (c LobbyControl) Known() bool {
	switch c {
	case ControlAnyone, ControlPlayers, ControlCreatorOrJudge, ControlCreator:
		return true
	default:
		return false
	}
}

// Settings is the persisted game configuration. The schema is versioned by
// additive fields only: decoding tolerates unknown fields and fills missing
// or unrecognized values with defaults instead of erroring.
type Settings struct {
	PlayUntil      PlayUntil `json:"play_until"`
	MaxTurns       int       `json:"max_turns"`
	MaxScore       int       `json:"max_score"`
	TurnsPerPerson int       `json:"turns_per_person"`
	CardsPerPerson int       `json:"cards_per_person"`

	NewCardsFirst     bool `json:"new_cards_first"`
	SortCardsByRating bool `json:"sort_cards_by_rating"`

	LikesLimit   LikesLimit   `json:"likes_limit"`
	DiscardCost  DiscardCost  `json:"discard_cost"`
	ShowLikesTo  ShowLikesTo  `json:"show_likes_to"`
	LobbyControl LobbyControl `json:"lobby_control"`
}

// Default returns the settings a fresh lobby starts with.
func Default() Settings {
	return Settings{
		PlayUntil:         PlayMaxTurns,
		MaxTurns:          12,
		MaxScore:          7,
		TurnsPerPerson:    3,
		CardsPerPerson:    6,
		NewCardsFirst:     true,
		SortCardsByRating: false,
		LikesLimit:        LikesUnlimited,
		DiscardCost:       DiscardFree,
		ShowLikesTo:       ShowLikesEveryone,
		LobbyControl:      ControlCreator,
	}
}

// Normalize replaces unknown enum values and out-of-range numbers with
// defaults. Called after every decode so schema drift in stored documents
// never becomes an error.
func (s *Settings) Normalize() {
	def := Default()
	if !s.PlayUntil.Known() {
		s.PlayUntil = def.PlayUntil
	}
	if !s.LikesLimit.Known() {
		s.LikesLimit = def.LikesLimit
	}
	if !s.DiscardCost.Known() {
		s.DiscardCost = def.DiscardCost
	}
	if !s.ShowLikesTo.Known() {
		s.ShowLikesTo = def.ShowLikesTo
	}
	if !s.LobbyControl.Known() {
		s.LobbyControl = def.LobbyControl
	}
	if s.MaxTurns < 1 {
		s.MaxTurns = def.MaxTurns
	}
	if s.MaxScore < 1 {
		s.MaxScore = def.MaxScore
	}
	if s.TurnsPerPerson < 1 {
		s.TurnsPerPerson = def.TurnsPerPerson
	}
	if s.CardsPerPerson < 1 {
		s.CardsPerPerson = def.CardsPerPerson
	}
}

// Decode unmarshals settings over the defaults and normalizes the result.
func Decode(data []byte) (Settings, error) {
	s := Default()
	if len(data) > 0 {
		if err := json.Unmarshal(data, &s); err != nil {
			return Settings{}, fmt.Errorf("decode settings: %w", err)
		}
	}
	s.Normalize()
	return s, nil
}

// Update applies a partial change set from a loosely typed map, e.g. a JSON
// request body. Absent keys keep their old values; present keys must carry
// the right type.
func (s *Settings) Update(changes map[string]interface{}) error {
	assignString := func(key string, apply func(string)) error {
		if val, exists := changes[key]; exists && val != nil {
			str, ok := val.(string)
			if !ok {
				return fmt.Errorf("invalid type for %s", key)
			}
			apply(str)
		}
		return nil
	}

	assignBool := func(field *bool, key string) error {
		if val, exists := changes[key]; exists && val != nil {
			b, ok := val.(bool)
			if !ok {
				return fmt.Errorf("invalid type for %s", key)
			}
			*field = b
		}
		return nil
	}

	assignInt := func(field *int, key string, minVal int) error {
		if val, exists := changes[key]; exists && val != nil {
			// JSON numbers arrive as float64.
			f, ok := val.(float64)
			if ok {
				*field = int(f)
			} else {
				n, ok := val.(int)
				if !ok {
					return fmt.Errorf("invalid type for %s", key)
				}
				*field = n
			}
			if *field < minVal {
				return fmt.Errorf("%s must be at least %d", key, minVal)
			}
		}
		return nil
	}

	if err := assignString("play_until", func(v string) { s.PlayUntil = PlayUntil(v) }); err != nil {
		return err
	}
	if err := assignString("likes_limit", func(v string) { s.LikesLimit = LikesLimit(v) }); err != nil {
		return err
	}
	if err := assignString("discard_cost", func(v string) { s.DiscardCost = DiscardCost(v) }); err != nil {
		return err
	}
	if err := assignString("show_likes_to", func(v string) { s.ShowLikesTo = ShowLikesTo(v) }); err != nil {
		return err
	}
	if err := assignString("lobby_control", func(v string) { s.LobbyControl = LobbyControl(v) }); err != nil {
		return err
	}
	if err := assignInt(&s.MaxTurns, "max_turns", 1); err != nil {
		return err
	}
	if err := assignInt(&s.MaxScore, "max_score", 1); err != nil {
		return err
	}
	if err := assignInt(&s.TurnsPerPerson, "turns_per_person", 1); err != nil {
		return err
	}
	if err := assignInt(&s.CardsPerPerson, "cards_per_person", 1); err != nil {
		return err
	}
	if err := assignBool(&s.NewCardsFirst, "new_cards_first"); err != nil {
		return err
	}
	if err := assignBool(&s.SortCardsByRating, "sort_cards_by_rating"); err != nil {
		return err
	}

	if !s.PlayUntil.Known() || !s.LikesLimit.Known() || !s.DiscardCost.Known() ||
		!s.ShowLikesTo.Known() || !s.LobbyControl.Known() {
		return fmt.Errorf("%w in settings update", ErrUnknownVariant)
	}
	return nil
}
