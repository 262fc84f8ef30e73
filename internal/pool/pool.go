// internal/pool/pool.go
package pool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/partydeck/partydeck/internal/models"
	"github.com/partydeck/partydeck/internal/rng"
	"github.com/partydeck/partydeck/internal/settings"
	"github.com/partydeck/partydeck/internal/store"
)

var (
	// ErrDiscardsDisabled is returned when the lobby settings forbid
	// discarding outright.
	ErrDiscardsDisabled = errors.New("discards are disabled in this lobby")

	// ErrNoDiscardTokens is returned when the exchange economy requires a
	// token the player does not have.
	ErrNoDiscardTokens = errors.New("no discard tokens left")
)

// Service owns the deck-pool remainder of each lobby. Every mutation runs in
// a store transaction so two players can never hold the same card instance.
type Service struct {
	Store store.Store
	Log   *logrus.Logger
}

func New(st store.Store, log *logrus.Logger) *Service {
	return &Service{Store: st, Log: log}
}

// Build creates the shuffled pool content from deck cards. Pure; callers
// persist the result inside their own transaction.
func Build(cards []models.DeckCard, g *rng.Generator) models.Pool {
	var p models.Pool
	for _, dc := range cards {
		inst := models.CardInstance{
			ID:          uuid.New(),
			SourceID:    dc.ID,
			Kind:        dc.Kind,
			Text:        dc.Text,
			Pick:        dc.Pick,
			Action:      dc.Action,
			Tags:        dc.Tags,
			Rating:      dc.Rating,
			Views:       dc.Views,
			RandomIndex: g.Int(),
		}
		switch dc.Kind {
		case models.CardPrompt:
			p.Prompts = append(p.Prompts, inst)
		case models.CardResponse:
			p.Responses = append(p.Responses, inst)
		default:
			// Unknown kinds are dropped; deck import validates upstream.
		}
	}
	sortByRandomIndex(p.Prompts)
	sortByRandomIndex(p.Responses)
	return p
}

func sortByRandomIndex(cards []models.CardInstance) {
	sort.SliceStable(cards, func(i, j int) bool {
		return cards[i].RandomIndex > cards[j].RandomIndex
	})
}

// Load reads a lobby's pool inside a transaction.
func Load(ctx context.Context, tx store.Tx, lobbyID uuid.UUID) (models.Pool, error) {
	var p models.Pool
	if err := store.GetJSON(ctx, tx, models.PoolKey(lobbyID), &p); err != nil {
		return models.Pool{}, err
	}
	return p, nil
}

// Save writes a lobby's pool inside a transaction.
func Save(ctx context.Context, tx store.Tx, lobbyID uuid.UUID, p models.Pool) error {
	return store.PutJSON(ctx, tx, models.PoolKey(lobbyID), p)
}

// TopPrompts returns up to n prompts in pool order without removing them.
// Short (or empty) on exhaustion; never an error.
func TopPrompts(p models.Pool, n int) []models.CardInstance {
	if n > len(p.Prompts) {
		n = len(p.Prompts)
	}
	out := make([]models.CardInstance, n)
	copy(out, p.Prompts[:n])
	return out
}

// RemovePrompts deletes prompt instances from the pool by id.
func RemovePrompts(p *models.Pool, ids []uuid.UUID) {
	p.Prompts = removeByID(p.Prompts, ids)
}

// RemoveResponses deletes response instances from the pool by id.
func RemoveResponses(p *models.Pool, ids []uuid.UUID) {
	p.Responses = removeByID(p.Responses, ids)
}

func removeByID(cards []models.CardInstance, ids []uuid.UUID) []models.CardInstance {
	drop := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	out := cards[:0]
	for _, c := range cards {
		if !drop[c.ID] {
			out = append(out, c)
		}
	}
	return out
}

// orderResponses applies the settings-driven deal order: unviewed cards
// first, then rating (descending) when enabled, then the fixed shuffle order.
// Sorting keys only; no weighted draw, so dealing stays deterministic for a
// given pool state.
func orderResponses(cards []models.CardInstance, cfg settings.Settings) []models.CardInstance {
	out := make([]models.CardInstance, len(cards))
	copy(out, cards)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if cfg.NewCardsFirst {
			an, bn := a.Views == 0, b.Views == 0
			if an != bn {
				return an
			}
		}
		if cfg.SortCardsByRating && a.Rating != b.Rating {
			return a.Rating > b.Rating
		}
		return a.RandomIndex > b.RandomIndex
	})
	return out
}

// Deal moves up to count response instances from the pool into the player's
// hand, honoring the deal-order settings and never duplicating a card the
// hand already holds. Returns the dealt cards; short on exhaustion.
func Deal(ctx context.Context, tx store.Tx, lobbyID, playerUID uuid.UUID, count int, cfg settings.Settings) ([]models.CardInstance, error) {
	return dealFiltered(ctx, tx, lobbyID, playerUID, count, cfg, nil)
}

// dealFiltered is Deal with an optional tag preference: when tags are given,
// tag-matching cards are taken first and untagged dealing fills the rest.
func dealFiltered(ctx context.Context, tx store.Tx, lobbyID, playerUID uuid.UUID, count int, cfg settings.Settings, tags []string) ([]models.CardInstance, error) {
	if count <= 0 {
		return nil, nil
	}
	p, err := Load(ctx, tx, lobbyID)
	if err != nil {
		return nil, err
	}
	hand := models.Hand{PlayerUID: playerUID}
	if err := store.GetJSON(ctx, tx, models.HandKey(lobbyID, playerUID), &hand); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	ordered := orderResponses(p.Responses, cfg)
	taken := make([]models.CardInstance, 0, count)
	takenIDs := make(map[uuid.UUID]bool, count)

	pick := func(match func(models.CardInstance) bool) {
		for _, c := range ordered {
			if len(taken) >= count {
				return
			}
			if takenIDs[c.ID] || hand.Contains(c.ID) {
				continue
			}
			if match != nil && !match(c) {
				continue
			}
			taken = append(taken, c)
			takenIDs[c.ID] = true
		}
	}

	if len(tags) > 0 {
		pick(func(c models.CardInstance) bool {
			for _, tag := range tags {
				if c.HasTag(tag) {
					return true
				}
			}
			return false
		})
	}
	pick(nil)

	if len(taken) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, len(taken))
	for i := range taken {
		ids[i] = taken[i].ID
		taken[i].Views++
	}
	RemoveResponses(&p, ids)
	hand.Cards = append(hand.Cards, taken...)

	if err := Save(ctx, tx, lobbyID, p); err != nil {
		return nil, err
	}
	if err := store.PutJSON(ctx, tx, models.HandKey(lobbyID, playerUID), hand); err != nil {
		return nil, err
	}
	return taken, nil
}

// PickPrompts returns the next n prompt offers without removing them from
// the pool. Callers discard the offers they reject.
func (s *Service) PickPrompts(ctx context.Context, lobbyID uuid.UUID, n int) ([]models.CardInstance, error) {
	doc, err := s.Store.Get(ctx, models.PoolKey(lobbyID))
	if err != nil {
		return nil, err
	}
	var p models.Pool
	if err := json.Unmarshal(doc.Data, &p); err != nil {
		return nil, fmt.Errorf("decode pool: %w", err)
	}
	return TopPrompts(p, n), nil
}

// DiscardPrompts removes prompt instances from the pool for good.
func (s *Service) DiscardPrompts(ctx context.Context, lobbyID uuid.UUID, ids []uuid.UUID) error {
	return s.Store.RunTransaction(ctx, func(tx store.Tx) error {
		p, err := Load(ctx, tx, lobbyID)
		if err != nil {
			return err
		}
		RemovePrompts(&p, ids)
		return Save(ctx, tx, lobbyID, p)
	})
}

// DealHand tops up a player's hand to count cards. Returns how many cards
// were dealt; fewer than requested (including zero) when the pool runs dry.
func (s *Service) DealHand(ctx context.Context, lobbyID, playerUID uuid.UUID, count int) (int, error) {
	dealt := 0
	err := s.Store.RunTransaction(ctx, func(tx store.Tx) error {
		dealt = 0
		var lob models.Lobby
		if err := store.GetJSON(ctx, tx, models.LobbyKey(lobbyID), &lob); err != nil {
			return err
		}
		cards, err := Deal(ctx, tx, lobbyID, playerUID, count, lob.Settings)
		if err != nil {
			return err
		}
		dealt = len(cards)
		return nil
	})
	return dealt, err
}

// ExchangeCards discards the given hand cards and deals replacements,
// preferring cards that match the requested tags. Spends a discard token when
// the lobby economy requires one.
func (s *Service) ExchangeCards(ctx context.Context, lobbyID, playerUID uuid.UUID, cardIDs []uuid.UUID, tags []string) ([]models.CardInstance, error) {
	var replacements []models.CardInstance
	err := s.Store.RunTransaction(ctx, func(tx store.Tx) error {
		replacements = nil

		var lob models.Lobby
		if err := store.GetJSON(ctx, tx, models.LobbyKey(lobbyID), &lob); err != nil {
			return err
		}
		var player models.Player
		if err := store.GetJSON(ctx, tx, models.PlayerKey(lobbyID, playerUID), &player); err != nil {
			return err
		}

		switch lob.Settings.DiscardCost {
		case settings.DiscardFree:
			// No accounting.
		case settings.DiscardDisabled:
			return ErrDiscardsDisabled
		case settings.DiscardTokenPerTurn, settings.DiscardTokenPer2Turns:
			if player.DiscardTokens < 1 {
				return ErrNoDiscardTokens
			}
			player.DiscardTokens--
		default:
			return fmt.Errorf("%w: discard_cost %q", settings.ErrUnknownVariant, lob.Settings.DiscardCost)
		}
		player.DiscardsUsed++

		var hand models.Hand
		if err := store.GetJSON(ctx, tx, models.HandKey(lobbyID, playerUID), &hand); err != nil {
			return err
		}
		for _, id := range cardIDs {
			if !hand.Contains(id) {
				return fmt.Errorf("%w: card %s not in hand", store.ErrNotFound, id)
			}
		}
		hand.Cards = removeByID(hand.Cards, cardIDs)
		if err := store.PutJSON(ctx, tx, models.HandKey(lobbyID, playerUID), hand); err != nil {
			return err
		}
		if err := store.PutJSON(ctx, tx, models.PlayerKey(lobbyID, playerUID), player); err != nil {
			return err
		}

		dealt, err := dealFiltered(ctx, tx, lobbyID, playerUID, len(cardIDs), lob.Settings, tags)
		if err != nil {
			return err
		}
		replacements = dealt
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.Log != nil {
		s.Log.WithFields(logrus.Fields{
			"lobby":     lobbyID,
			"player":    playerUID,
			"discarded": len(cardIDs),
			"dealt":     len(replacements),
		}).Debug("exchanged cards")
	}
	return replacements, nil
}
