// internal/turn/turn.go
package turn

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/partydeck/partydeck/internal/models"
	"github.com/partydeck/partydeck/internal/pool"
	"github.com/partydeck/partydeck/internal/rng"
	"github.com/partydeck/partydeck/internal/settings"
	"github.com/partydeck/partydeck/internal/store"
)

var (
	// ErrInvalidPhase rejects an action attempted from a phase that does not
	// permit it. Never retried: it signals a stale client, not a race.
	ErrInvalidPhase = errors.New("invalid turn phase")

	// ErrValidation rejects a malformed request (wrong pick count, unknown
	// card, and the like).
	ErrValidation = errors.New("invalid request")
)

// Service drives a single turn's lifecycle. All read-modify-write sequences
// run inside store transactions; a body re-executes cleanly on conflict.
type Service struct {
	Store store.Store
	Clock quartz.Clock
	Log   *logrus.Logger

	// NewRNG produces the generator used for response shuffle indices.
	// Overridable in tests; defaults to a wall-clock seed per call.
	NewRNG func() *rng.Generator
}

func New(st store.Store, clock quartz.Clock, log *logrus.Logger) *Service {
	return &Service{
		Store:  st,
		Clock:  clock,
		Log:    log,
		NewRNG: rng.NewFromTime,
	}
}

func (s *Service) now() time.Time {
	return s.Clock.Now()
}

func (s *Service) loadTurn(ctx context.Context, tx store.Tx, lobbyID, turnID uuid.UUID) (*models.Turn, error) {
	var t models.Turn
	if err := store.GetJSON(ctx, tx, models.TurnKey(lobbyID, turnID), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Service) saveTurn(ctx context.Context, tx store.Tx, lobbyID uuid.UUID, t *models.Turn) error {
	return store.PutJSON(ctx, tx, models.TurnKey(lobbyID, t.ID), t)
}

func (s *Service) loadSettings(ctx context.Context, tx store.Tx, lobbyID uuid.UUID) (settings.Settings, error) {
	var lob models.Lobby
	if err := store.GetJSON(ctx, tx, models.LobbyKey(lobbyID), &lob); err != nil {
		return settings.Settings{}, err
	}
	lob.Settings.Normalize()
	return lob.Settings, nil
}

// PlayPrompt attaches the chosen prompt to the turn and advances it to
// answering. The rejected offers are discarded from the pool in the same
// transaction so a re-offer can never repeat them. Valid only from new; a
// second play (from any later phase) is rejected, which makes concurrent
// double-plays idempotent at the cost of one client seeing ErrInvalidPhase.
func (s *Service) PlayPrompt(ctx context.Context, lobbyID, turnID, chosenID uuid.UUID, rejectedIDs []uuid.UUID) error {
	return s.Store.RunTransaction(ctx, func(tx store.Tx) error {
		t, err := s.loadTurn(ctx, tx, lobbyID, turnID)
		if err != nil {
			return err
		}
		if t.Phase != models.PhaseNew {
			return fmt.Errorf("%w: play_prompt from %s", ErrInvalidPhase, t.Phase)
		}

		p, err := pool.Load(ctx, tx, lobbyID)
		if err != nil {
			return err
		}
		var chosen *models.CardInstance
		for i := range p.Prompts {
			if p.Prompts[i].ID == chosenID {
				chosen = &p.Prompts[i]
				break
			}
		}
		if chosen == nil {
			return fmt.Errorf("%w: prompt %s", store.ErrNotFound, chosenID)
		}

		t.Prompts = append(t.Prompts, *chosen)
		pool.RemovePrompts(&p, append([]uuid.UUID{chosenID}, rejectedIDs...))
		if err := pool.Save(ctx, tx, lobbyID, p); err != nil {
			return err
		}

		t.Phase = models.PhaseAnswering
		t.PhaseStart = s.now()
		return s.saveTurn(ctx, tx, lobbyID, t)
	})
}

// SubmitResponse records exactly one submission per player, replacing any
// previous one (the replaced cards go back to the hand). The judge never
// submits. Valid while the phase is new or answering: a late joiner may
// submit before the prompt has fully propagated to them.
func (s *Service) SubmitResponse(ctx context.Context, lobbyID, turnID, playerUID uuid.UUID, cardIDs []uuid.UUID) error {
	return s.Store.RunTransaction(ctx, func(tx store.Tx) error {
		t, err := s.loadTurn(ctx, tx, lobbyID, turnID)
		if err != nil {
			return err
		}
		if t.Phase != models.PhaseNew && t.Phase != models.PhaseAnswering {
			return fmt.Errorf("%w: submit_response from %s", ErrInvalidPhase, t.Phase)
		}
		if playerUID == t.JudgeUID {
			return fmt.Errorf("%w: the judge does not submit", ErrValidation)
		}
		if len(cardIDs) == 0 {
			return fmt.Errorf("%w: empty submission", ErrValidation)
		}
		if len(t.Prompts) > 0 {
			required := t.Prompts[0].PickCount()
			if len(cardIDs) != required {
				return fmt.Errorf("%w: prompt requires %d cards, got %d", ErrValidation, required, len(cardIDs))
			}
		}

		var player models.Player
		if err := store.GetJSON(ctx, tx, models.PlayerKey(lobbyID, playerUID), &player); err != nil {
			return err
		}
		var hand models.Hand
		if err := store.GetJSON(ctx, tx, models.HandKey(lobbyID, playerUID), &hand); err != nil {
			return err
		}

		// Changing your mind returns the earlier selection to the hand first.
		if prev := t.Response(playerUID); prev != nil {
			hand.Cards = append(hand.Cards, prev.Cards...)
		}

		picked := make([]models.CardInstance, 0, len(cardIDs))
		for _, id := range cardIDs {
			found := false
			for _, c := range hand.Cards {
				if c.ID == id {
					picked = append(picked, c)
					found = true
					break
				}
			}
			if !found {
				return fmt.Errorf("%w: card %s not in hand", store.ErrNotFound, id)
			}
		}
		removeIDs := make([]uuid.UUID, len(picked))
		for i, c := range picked {
			removeIDs[i] = c.ID
		}
		hand.Cards = removeCards(hand.Cards, removeIDs)

		if t.Responses == nil {
			t.Responses = make(map[string]*models.PlayerResponse)
		}
		t.Responses[playerUID.String()] = &models.PlayerResponse{
			PlayerUID:   playerUID,
			PlayerName:  player.Name,
			Cards:       picked,
			RandomIndex: s.NewRNG().Int(),
		}

		if err := store.PutJSON(ctx, tx, models.HandKey(lobbyID, playerUID), hand); err != nil {
			return err
		}
		return s.saveTurn(ctx, tx, lobbyID, t)
	})
}

// CancelResponse retracts a player's submission and returns the cards to
// their hand. Retracting an absent submission is a no-op.
func (s *Service) CancelResponse(ctx context.Context, lobbyID, turnID, playerUID uuid.UUID) error {
	return s.Store.RunTransaction(ctx, func(tx store.Tx) error {
		t, err := s.loadTurn(ctx, tx, lobbyID, turnID)
		if err != nil {
			return err
		}
		if t.Phase != models.PhaseNew && t.Phase != models.PhaseAnswering {
			return fmt.Errorf("%w: cancel_response from %s", ErrInvalidPhase, t.Phase)
		}
		prev := t.Response(playerUID)
		if prev == nil {
			return nil
		}

		var hand models.Hand
		if err := store.GetJSON(ctx, tx, models.HandKey(lobbyID, playerUID), &hand); err != nil {
			return err
		}
		hand.Cards = append(hand.Cards, prev.Cards...)
		delete(t.Responses, playerUID.String())

		if err := store.PutJSON(ctx, tx, models.HandKey(lobbyID, playerUID), hand); err != nil {
			return err
		}
		return s.saveTurn(ctx, tx, lobbyID, t)
	})
}

// StartReading moves the turn from answering to reading.
func (s *Service) StartReading(ctx context.Context, lobbyID, turnID uuid.UUID) error {
	return s.Store.RunTransaction(ctx, func(tx store.Tx) error {
		t, err := s.loadTurn(ctx, tx, lobbyID, turnID)
		if err != nil {
			return err
		}
		if t.Phase != models.PhaseAnswering {
			return fmt.Errorf("%w: start_reading from %s", ErrInvalidPhase, t.Phase)
		}
		t.Phase = models.PhaseReading
		t.PhaseStart = s.now()
		return s.saveTurn(ctx, tx, lobbyID, t)
	})
}

// RevealResponse reveals one more card of a player's response. It never
// changes the turn phase and saturates at the response size.
func (s *Service) RevealResponse(ctx context.Context, lobbyID, turnID, playerUID uuid.UUID) error {
	return s.Store.RunTransaction(ctx, func(tx store.Tx) error {
		t, err := s.loadTurn(ctx, tx, lobbyID, turnID)
		if err != nil {
			return err
		}
		resp := t.Response(playerUID)
		if resp == nil {
			return fmt.Errorf("%w: response of %s", store.ErrNotFound, playerUID)
		}
		if resp.RevealCount < len(resp.Cards) {
			resp.RevealCount++
		}
		return s.saveTurn(ctx, tx, lobbyID, t)
	})
}

// ToggleLike toggles a voter's like on a response. Under the 1_pp_per_turn
// limit, liking one response first withdraws the voter's like from every
// other response in the turn. Toggling with the same choice cancels.
func (s *Service) ToggleLike(ctx context.Context, lobbyID, turnID, targetUID, voterUID uuid.UUID, voterName string, choice models.VoteChoice) error {
	return s.Store.RunTransaction(ctx, func(tx store.Tx) error {
		cfg, err := s.loadSettings(ctx, tx, lobbyID)
		if err != nil {
			return err
		}
		t, err := s.loadTurn(ctx, tx, lobbyID, turnID)
		if err != nil {
			return err
		}
		resp := t.Response(targetUID)
		if resp == nil {
			return fmt.Errorf("%w: response of %s", store.ErrNotFound, targetUID)
		}

		existing := findVote(resp.Likes, voterUID)
		if existing != nil && existing.Choice == choice {
			resp.Likes = removeVote(resp.Likes, voterUID)
			return s.saveTurn(ctx, tx, lobbyID, t)
		}

		switch cfg.LikesLimit {
		case settings.LikesOnePerTurn:
			for _, other := range t.Responses {
				other.Likes = removeVote(other.Likes, voterUID)
			}
		case settings.LikesUnlimited:
			resp.Likes = removeVote(resp.Likes, voterUID)
		default:
			return fmt.Errorf("%w: likes_limit %q", settings.ErrUnknownVariant, cfg.LikesLimit)
		}

		resp.Likes = append(resp.Likes, models.Vote{
			VoterUID:  voterUID,
			VoterName: voterName,
			Choice:    choice,
		})
		return s.saveTurn(ctx, tx, lobbyID, t)
	})
}

// VotePrompt records, replaces, or (with choice nil) removes a player's vote
// on an attached prompt.
func (s *Service) VotePrompt(ctx context.Context, lobbyID, turnID, promptID, voterUID uuid.UUID, voterName string, choice *models.VoteChoice) error {
	return s.Store.RunTransaction(ctx, func(tx store.Tx) error {
		t, err := s.loadTurn(ctx, tx, lobbyID, turnID)
		if err != nil {
			return err
		}
		if t.Prompt(promptID) == nil {
			return fmt.Errorf("%w: prompt %s", store.ErrNotFound, promptID)
		}

		kept := t.PromptVotes[:0]
		for _, v := range t.PromptVotes {
			if v.PromptID == promptID && v.VoterUID == voterUID {
				continue
			}
			kept = append(kept, v)
		}
		t.PromptVotes = kept

		if choice != nil {
			t.PromptVotes = append(t.PromptVotes, models.Vote{
				VoterUID:  voterUID,
				VoterName: voterName,
				Choice:    *choice,
				PromptID:  promptID,
			})
		}
		return s.saveTurn(ctx, tx, lobbyID, t)
	})
}

// ChooseWinner records the judge's pick, computes audience awards, updates
// scores and like tallies, and completes the turn. Valid any time after
// responses exist; completing an already-complete turn is rejected so the
// bookkeeping can never run twice.
func (s *Service) ChooseWinner(ctx context.Context, lobbyID, turnID, winnerUID uuid.UUID) error {
	return s.Store.RunTransaction(ctx, func(tx store.Tx) error {
		t, err := s.loadTurn(ctx, tx, lobbyID, turnID)
		if err != nil {
			return err
		}
		if t.Phase == models.PhaseComplete {
			return fmt.Errorf("%w: turn already complete", ErrInvalidPhase)
		}
		if len(t.Responses) == 0 {
			return fmt.Errorf("%w: no responses to judge", ErrValidation)
		}
		if t.Response(winnerUID) == nil {
			return fmt.Errorf("%w: response of %s", store.ErrNotFound, winnerUID)
		}

		t.WinnerUID = winnerUID
		t.AudienceAwardUIDs = AudienceAwards(t)
		t.Phase = models.PhaseComplete
		t.PhaseStart = s.now()

		// Score and like tallies accumulate on the player documents.
		var winner models.Player
		if err := store.GetJSON(ctx, tx, models.PlayerKey(lobbyID, winnerUID), &winner); err != nil {
			return err
		}
		winner.Score++
		if err := store.PutJSON(ctx, tx, models.PlayerKey(lobbyID, winnerUID), winner); err != nil {
			return err
		}
		for _, resp := range t.Responses {
			likes := resp.LikeCount()
			if likes == 0 {
				continue
			}
			var p models.Player
			if err := store.GetJSON(ctx, tx, models.PlayerKey(lobbyID, resp.PlayerUID), &p); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					continue
				}
				return err
			}
			p.Likes += likes
			if err := store.PutJSON(ctx, tx, models.PlayerKey(lobbyID, resp.PlayerUID), p); err != nil {
				return err
			}
		}

		if s.Log != nil {
			s.Log.WithFields(logrus.Fields{
				"lobby":  lobbyID,
				"turn":   turnID,
				"winner": winnerUID,
				"awards": len(t.AudienceAwardUIDs),
			}).Info("turn complete")
		}
		return s.saveTurn(ctx, tx, lobbyID, t)
	})
}

// AudienceAwards returns the players whose responses are tied for the
// maximum like count, provided at least one response has a like. Ties all
// receive the award; with no likes anywhere the list is empty.
func AudienceAwards(t *models.Turn) []uuid.UUID {
	max := 0
	for _, resp := range t.Responses {
		if n := resp.LikeCount(); n > max {
			max = n
		}
	}
	if max == 0 {
		return nil
	}
	var out []uuid.UUID
	for _, resp := range t.Responses {
		if resp.LikeCount() == max {
			out = append(out, resp.PlayerUID)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].String() < out[j].String()
	})
	return out
}

func findVote(votes []models.Vote, voterUID uuid.UUID) *models.Vote {
	for i := range votes {
		if votes[i].VoterUID == voterUID {
			return &votes[i]
		}
	}
	return nil
}

func removeVote(votes []models.Vote, voterUID uuid.UUID) []models.Vote {
	out := votes[:0]
	for _, v := range votes {
		if v.VoterUID != voterUID {
			out = append(out, v)
		}
	}
	return out
}

func removeCards(cards []models.CardInstance, ids []uuid.UUID) []models.CardInstance {
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
