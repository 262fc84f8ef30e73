// internal/lobby/lobby.go
package lobby

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
	// ErrForbidden rejects an action the lobby's control policy does not
	// grant to the acting player.
	ErrForbidden = errors.New("not allowed")

	// ErrInvalidStatus rejects an action against a lobby whose lifecycle
	// status does not permit it.
	ErrInvalidStatus = errors.New("invalid lobby status")
)

// Service orchestrates lobby lifecycle: roster, settings, game start, turn
// succession and game end. Every mutation runs inside a store transaction.
type Service struct {
	Store store.Store
	Clock quartz.Clock
	Log   *logrus.Logger

	// NewRNG seeds pool shuffling at game start and order indices at join.
	// Overridable in tests.
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

// Create makes a new lobby with the creator already joined. changes is a
// partial settings override in request-body form; nil keeps all defaults.
func (s *Service) Create(ctx context.Context, creatorUID uuid.UUID, creatorName string, deckIDs []string, changes map[string]interface{}) (*models.Lobby, error) {
	cfg := settings.Default()
	if err := cfg.Update(changes); err != nil {
		return nil, err
	}

	lob := &models.Lobby{
		ID:         uuid.New(),
		CreatorUID: creatorUID,
		Status:     models.LobbyNew,
		Settings:   cfg,
		DeckIDs:    deckIDs,
		CreatedAt:  s.now(),
	}
	creator := models.Player{
		UID:        creatorUID,
		Name:       creatorName,
		Role:       models.RolePlayer,
		Status:     models.PlayerOnline,
		OrderIndex: s.NewRNG().Int(),
		JoinedAt:   lob.CreatedAt,
	}

	err := s.Store.RunTransaction(ctx, func(tx store.Tx) error {
		if err := store.PutJSON(ctx, tx, models.LobbyKey(lob.ID), lob); err != nil {
			return err
		}
		return store.PutJSON(ctx, tx, models.PlayerKey(lob.ID, creatorUID), creator)
	})
	if err != nil {
		return nil, err
	}
	if s.Log != nil {
		s.Log.WithFields(logrus.Fields{"lobby": lob.ID, "creator": creatorUID}).Info("lobby created")
	}
	return lob, nil
}

// Join adds a player (or spectator) to the lobby, or brings a previously
// departed member back online under their original order slot. Joining a
// running game raises the turn budget and deals the newcomer a hand.
func (s *Service) Join(ctx context.Context, lobbyID, uid uuid.UUID, name, avatar string, role models.PlayerRole) error {
	orderIndex := s.NewRNG().Int()
	return s.Store.RunTransaction(ctx, func(tx store.Tx) error {
		var lob models.Lobby
		if err := store.GetJSON(ctx, tx, models.LobbyKey(lobbyID), &lob); err != nil {
			return err
		}
		if lob.Status == models.LobbyEnded {
			return fmt.Errorf("%w: lobby has ended", ErrInvalidStatus)
		}
		lob.Settings.Normalize()

		var p models.Player
		freshActivePlayer := false
		err := store.GetJSON(ctx, tx, models.PlayerKey(lobbyID, uid), &p)
		switch {
		case err == nil && p.Status == models.PlayerBanned:
			return fmt.Errorf("%w: banned from lobby", ErrForbidden)
		case err == nil:
			// Rejoin keeps the original order index so the judge rotation
			// does not reshuffle around a reconnect.
			p.Status = models.PlayerOnline
			p.Name = name
			p.Avatar = avatar
		case errors.Is(err, store.ErrNotFound):
			p = models.Player{
				UID:        uid,
				Name:       name,
				Avatar:     avatar,
				Role:       role,
				Status:     models.PlayerOnline,
				OrderIndex: orderIndex,
				JoinedAt:   s.now(),
			}
			freshActivePlayer = p.Active()
		default:
			return err
		}

		if err := store.PutJSON(ctx, tx, models.PlayerKey(lobbyID, uid), p); err != nil {
			return err
		}

		if lob.Status == models.LobbyInProgress && freshActivePlayer {
			// Each newcomer stretches the game; leavers never shrink it back.
			lob.TurnBudget += lob.Settings.TurnsPerPerson
			if err := store.PutJSON(ctx, tx, models.LobbyKey(lobbyID), lob); err != nil {
				return err
			}
			if _, err := pool.Deal(ctx, tx, lobbyID, uid, lob.Settings.CardsPerPerson, lob.Settings); err != nil {
				return err
			}
		}
		return nil
	})
}

// Leave marks the player as departed. Their documents stay so turn history
// keeps valid references and a rejoin restores their slot.
func (s *Service) Leave(ctx context.Context, lobbyID, uid uuid.UUID) error {
	return s.setPlayerStatus(ctx, lobbyID, uid, models.PlayerLeft)
}

// Kick removes a player at the acting player's request, subject to the
// control policy. A kicked player may rejoin.
func (s *Service) Kick(ctx context.Context, lobbyID, actorUID, targetUID uuid.UUID) error {
	if err := s.authorize(ctx, lobbyID, actorUID); err != nil {
		return err
	}
	return s.setPlayerStatus(ctx, lobbyID, targetUID, models.PlayerKicked)
}

// Ban removes a player and blocks rejoining.
func (s *Service) Ban(ctx context.Context, lobbyID, actorUID, targetUID uuid.UUID) error {
	if err := s.authorize(ctx, lobbyID, actorUID); err != nil {
		return err
	}
	return s.setPlayerStatus(ctx, lobbyID, targetUID, models.PlayerBanned)
}

func (s *Service) setPlayerStatus(ctx context.Context, lobbyID, uid uuid.UUID, status models.PlayerStatus) error {
	return s.Store.RunTransaction(ctx, func(tx store.Tx) error {
		var p models.Player
		if err := store.GetJSON(ctx, tx, models.PlayerKey(lobbyID, uid), &p); err != nil {
			return err
		}
		p.Status = status
		return store.PutJSON(ctx, tx, models.PlayerKey(lobbyID, uid), p)
	})
}

// UpdateSettings applies a partial settings change, subject to the control
// policy. Allowed at any point before the lobby ends; mid-game changes take
// effect from the next action that reads them.
func (s *Service) UpdateSettings(ctx context.Context, lobbyID, actorUID uuid.UUID, changes map[string]interface{}) error {
	if err := s.authorize(ctx, lobbyID, actorUID); err != nil {
		return err
	}
	return s.Store.RunTransaction(ctx, func(tx store.Tx) error {
		var lob models.Lobby
		if err := store.GetJSON(ctx, tx, models.LobbyKey(lobbyID), &lob); err != nil {
			return err
		}
		if lob.Status == models.LobbyEnded {
			return fmt.Errorf("%w: lobby has ended", ErrInvalidStatus)
		}
		lob.Settings.Normalize()
		if err := lob.Settings.Update(changes); err != nil {
			return err
		}
		return store.PutJSON(ctx, tx, models.LobbyKey(lobbyID), lob)
	})
}

// StartGame builds the pool from the given deck cards, fixes the turn
// budget, deals every active player a hand and opens turn one.
func (s *Service) StartGame(ctx context.Context, lobbyID, actorUID uuid.UUID, deck []models.DeckCard) error {
	if err := s.authorize(ctx, lobbyID, actorUID); err != nil {
		return err
	}
	g := s.NewRNG()
	return s.Store.RunTransaction(ctx, func(tx store.Tx) error {
		var lob models.Lobby
		if err := store.GetJSON(ctx, tx, models.LobbyKey(lobbyID), &lob); err != nil {
			return err
		}
		if lob.Status != models.LobbyNew {
			return fmt.Errorf("%w: game already started", ErrInvalidStatus)
		}
		lob.Settings.Normalize()

		players, err := store.ListJSON[models.Player](ctx, tx, models.PlayersPrefix(lobbyID))
		if err != nil {
			return err
		}
		active := ActivePlayers(players)
		if len(active) == 0 {
			return fmt.Errorf("%w: no active players", ErrInvalidStatus)
		}

		if err := pool.Save(ctx, tx, lobbyID, pool.Build(deck, g)); err != nil {
			return err
		}

		lob.Status = models.LobbyInProgress
		lob.TurnBudget = lob.Settings.TurnsPerPerson * len(active)
		return s.openTurn(ctx, tx, &lob, players, 1)
	})
}

// StartNewTurn advances the lobby past the turn identified by prevTurnID.
// The id acts as an idempotency token: every client may race to call this
// after a turn completes, and only the first transition takes effect. Ends
// the game instead when an end condition is met.
func (s *Service) StartNewTurn(ctx context.Context, lobbyID, prevTurnID uuid.UUID) error {
	return s.Store.RunTransaction(ctx, func(tx store.Tx) error {
		var lob models.Lobby
		if err := store.GetJSON(ctx, tx, models.LobbyKey(lobbyID), &lob); err != nil {
			return err
		}
		if lob.Status != models.LobbyInProgress {
			return fmt.Errorf("%w: game not in progress", ErrInvalidStatus)
		}
		if lob.CurrentTurnID != prevTurnID {
			// Someone else already advanced (or the request is stale).
			return nil
		}
		lob.Settings.Normalize()

		var prev models.Turn
		if err := store.GetJSON(ctx, tx, models.TurnKey(lobbyID, prevTurnID), &prev); err != nil {
			return err
		}
		players, err := store.ListJSON[models.Player](ctx, tx, models.PlayersPrefix(lobbyID))
		if err != nil {
			return err
		}

		end, err := ShouldEnd(&lob, players, prev.Ordinal)
		if err != nil {
			return err
		}
		if end {
			lob.Status = models.LobbyEnded
			return store.PutJSON(ctx, tx, models.LobbyKey(lobbyID), lob)
		}
		return s.openTurn(ctx, tx, &lob, players, prev.Ordinal+1)
	})
}

// openTurn creates the turn document for the given ordinal, grants discard
// tokens, tops up hands, and points the lobby at the new turn.
func (s *Service) openTurn(ctx context.Context, tx store.Tx, lob *models.Lobby, players []models.Player, ordinal int) error {
	active := ActivePlayers(players)
	if len(active) == 0 {
		return fmt.Errorf("%w: no active players", ErrInvalidStatus)
	}

	turn := models.Turn{
		ID:         uuid.New(),
		Ordinal:    ordinal,
		JudgeUID:   JudgeFor(ordinal, players),
		Phase:      models.PhaseNew,
		PhaseStart: s.now(),
	}
	if err := store.PutJSON(ctx, tx, models.TurnKey(lob.ID, turn.ID), turn); err != nil {
		return err
	}

	grant, err := tokenGrant(lob.Settings.DiscardCost, ordinal)
	if err != nil {
		return err
	}
	for _, p := range active {
		if grant > 0 {
			p.DiscardTokens += grant
			if err := store.PutJSON(ctx, tx, models.PlayerKey(lob.ID, p.UID), p); err != nil {
				return err
			}
		}
		short := lob.Settings.CardsPerPerson - handSize(ctx, tx, lob.ID, p.UID)
		if _, err := pool.Deal(ctx, tx, lob.ID, p.UID, short, lob.Settings); err != nil {
			return err
		}
	}

	lob.CurrentTurnID = turn.ID
	if err := store.PutJSON(ctx, tx, models.LobbyKey(lob.ID), *lob); err != nil {
		return err
	}
	if s.Log != nil {
		s.Log.WithFields(logrus.Fields{
			"lobby":   lob.ID,
			"turn":    turn.ID,
			"ordinal": ordinal,
			"judge":   turn.JudgeUID,
		}).Info("turn opened")
	}
	return nil
}

func handSize(ctx context.Context, tx store.Tx, lobbyID, uid uuid.UUID) int {
	var hand models.Hand
	if err := store.GetJSON(ctx, tx, models.HandKey(lobbyID, uid), &hand); err != nil {
		return 0
	}
	return len(hand.Cards)
}

// tokenGrant returns the discard tokens each active player earns when the
// given turn ordinal opens.
func tokenGrant(cost settings.DiscardCost, ordinal int) (int, error) {
	switch cost {
	case settings.DiscardFree, settings.DiscardDisabled:
		return 0, nil
	case settings.DiscardTokenPerTurn:
		return 1, nil
	case settings.DiscardTokenPer2Turns:
		if ordinal%2 == 0 {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("%w: discard_cost %q", settings.ErrUnknownVariant, cost)
	}
}

// EndGame ends the lobby immediately, subject to the control policy.
func (s *Service) EndGame(ctx context.Context, lobbyID, actorUID uuid.UUID) error {
	if err := s.authorize(ctx, lobbyID, actorUID); err != nil {
		return err
	}
	return s.Store.RunTransaction(ctx, func(tx store.Tx) error {
		var lob models.Lobby
		if err := store.GetJSON(ctx, tx, models.LobbyKey(lobbyID), &lob); err != nil {
			return err
		}
		if lob.Status == models.LobbyEnded {
			return nil
		}
		lob.Status = models.LobbyEnded
		return store.PutJSON(ctx, tx, models.LobbyKey(lobbyID), lob)
	})
}

// ExtendGame reopens an ended lobby for extraTurns more turns and starts the
// next one. extraTurns <= 0 extends by the per-person setting.
func (s *Service) ExtendGame(ctx context.Context, lobbyID, actorUID uuid.UUID, extraTurns int) error {
	if err := s.authorize(ctx, lobbyID, actorUID); err != nil {
		return err
	}
	return s.Store.RunTransaction(ctx, func(tx store.Tx) error {
		var lob models.Lobby
		if err := store.GetJSON(ctx, tx, models.LobbyKey(lobbyID), &lob); err != nil {
			return err
		}
		if lob.Status != models.LobbyEnded {
			return fmt.Errorf("%w: game has not ended", ErrInvalidStatus)
		}
		lob.Settings.Normalize()
		if extraTurns <= 0 {
			extraTurns = lob.Settings.TurnsPerPerson
		}

		var prev models.Turn
		if err := store.GetJSON(ctx, tx, models.TurnKey(lobbyID, lob.CurrentTurnID), &prev); err != nil {
			return err
		}
		players, err := store.ListJSON[models.Player](ctx, tx, models.PlayersPrefix(lobbyID))
		if err != nil {
			return err
		}

		lob.Status = models.LobbyInProgress
		lob.TurnBudget += extraTurns
		lob.Settings.MaxTurns += extraTurns
		return s.openTurn(ctx, tx, &lob, players, prev.Ordinal+1)
	})
}

// PlayAgain creates a follow-up lobby with the same settings and decks, and
// links it from the ended one so every client lands in the same place.
// Repeated calls return the already linked lobby.
func (s *Service) PlayAgain(ctx context.Context, lobbyID, actorUID uuid.UUID, actorName string) (*models.Lobby, error) {
	if err := s.authorize(ctx, lobbyID, actorUID); err != nil {
		return nil, err
	}
	var next models.Lobby
	err := s.Store.RunTransaction(ctx, func(tx store.Tx) error {
		var lob models.Lobby
		if err := store.GetJSON(ctx, tx, models.LobbyKey(lobbyID), &lob); err != nil {
			return err
		}
		if lob.Status != models.LobbyEnded {
			return fmt.Errorf("%w: game has not ended", ErrInvalidStatus)
		}
		if lob.NextLobbyID != uuid.Nil {
			return store.GetJSON(ctx, tx, models.LobbyKey(lob.NextLobbyID), &next)
		}
		lob.Settings.Normalize()

		next = models.Lobby{
			ID:         uuid.New(),
			CreatorUID: actorUID,
			Status:     models.LobbyNew,
			Settings:   lob.Settings,
			DeckIDs:    lob.DeckIDs,
			CreatedAt:  s.now(),
		}
		creator := models.Player{
			UID:        actorUID,
			Name:       actorName,
			Role:       models.RolePlayer,
			Status:     models.PlayerOnline,
			OrderIndex: s.NewRNG().Int(),
			JoinedAt:   next.CreatedAt,
		}
		if err := store.PutJSON(ctx, tx, models.LobbyKey(next.ID), next); err != nil {
			return err
		}
		if err := store.PutJSON(ctx, tx, models.PlayerKey(next.ID, actorUID), creator); err != nil {
			return err
		}
		lob.NextLobbyID = next.ID
		return store.PutJSON(ctx, tx, models.LobbyKey(lobbyID), lob)
	})
	if err != nil {
		return nil, err
	}
	return &next, nil
}

// authorize loads the lobby state needed to evaluate the control policy for
// the acting player.
func (s *Service) authorize(ctx context.Context, lobbyID, actorUID uuid.UUID) error {
	return s.Store.RunTransaction(ctx, func(tx store.Tx) error {
		var lob models.Lobby
		if err := store.GetJSON(ctx, tx, models.LobbyKey(lobbyID), &lob); err != nil {
			return err
		}
		lob.Settings.Normalize()

		var actor models.Player
		if err := store.GetJSON(ctx, tx, models.PlayerKey(lobbyID, actorUID), &actor); err != nil {
			return err
		}

		var judgeUID uuid.UUID
		if lob.CurrentTurnID != uuid.Nil {
			var turn models.Turn
			if err := store.GetJSON(ctx, tx, models.TurnKey(lobbyID, lob.CurrentTurnID), &turn); err == nil {
				judgeUID = turn.JudgeUID
			}
		}
		return CanControl(&lob, judgeUID, actor)
	})
}

// CanControl evaluates the lobby_control policy for one acting player.
func CanControl(lob *models.Lobby, judgeUID uuid.UUID, actor models.Player) error {
	switch lob.Settings.LobbyControl {
	case settings.ControlAnyone:
		return nil
	case settings.ControlPlayers:
		if actor.Active() {
			return nil
		}
		return fmt.Errorf("%w: players only", ErrForbidden)
	case settings.ControlCreatorOrJudge:
		if actor.UID == lob.CreatorUID || (judgeUID != uuid.Nil && actor.UID == judgeUID) {
			return nil
		}
		return fmt.Errorf("%w: creator or judge only", ErrForbidden)
	case settings.ControlCreator:
		if actor.UID == lob.CreatorUID {
			return nil
		}
		return fmt.Errorf("%w: creator only", ErrForbidden)
	default:
		return fmt.Errorf("%w: lobby_control %q", settings.ErrUnknownVariant, lob.Settings.LobbyControl)
	}
}

// ActivePlayers filters to players in the judge rotation, sorted by their
// fixed order index.
func ActivePlayers(players []models.Player) []models.Player {
	var active []models.Player
	for _, p := range players {
		if p.Active() {
			active = append(active, p)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		if active[i].OrderIndex != active[j].OrderIndex {
			return active[i].OrderIndex < active[j].OrderIndex
		}
		return active[i].UID.String() < active[j].UID.String()
	})
	return active
}

// JudgeFor returns the judge for a turn ordinal. The rotation is the active
// players ordered by their random order indices; roster changes shift future
// assignments but never a turn already opened.
func JudgeFor(ordinal int, players []models.Player) uuid.UUID {
	active := ActivePlayers(players)
	if len(active) == 0 {
		return uuid.Nil
	}
	return active[ordinal%len(active)].UID
}

// ShouldEnd reports whether the game is over once the turn with the given
// ordinal has run.
func ShouldEnd(lob *models.Lobby, players []models.Player, completedOrdinal int) (bool, error) {
	switch lob.Settings.PlayUntil {
	case settings.PlayForever:
		return false, nil
	case settings.PlayMaxTurns:
		return completedOrdinal >= lob.Settings.MaxTurns, nil
	case settings.PlayMaxTurnsPerPerson:
		return completedOrdinal >= lob.TurnBudget, nil
	case settings.PlayMaxScore:
		for _, p := range players {
			if p.Score >= lob.Settings.MaxScore {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("%w: play_until %q", settings.ErrUnknownVariant, lob.Settings.PlayUntil)
	}
}
