// internal/turn/turn_test.go
package turn

import (
	"context"
	"fmt"
	"testing"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partydeck/partydeck/internal/models"
	"github.com/partydeck/partydeck/internal/pool"
	"github.com/partydeck/partydeck/internal/rng"
	"github.com/partydeck/partydeck/internal/settings"
	"github.com/partydeck/partydeck/internal/store"
)

type fixture struct {
	st      *store.Memory
	svc     *Service
	lobbyID uuid.UUID
	turnID  uuid.UUID
	players []uuid.UUID
}

func responseCard(i int) models.CardInstance {
	return models.CardInstance{
		ID:       uuid.New(),
		SourceID: fmt.Sprintf("r%d", i),
		Kind:     models.CardResponse,
		Text:     fmt.Sprintf("response %d", i),
	}
}

func promptCard(pick int) models.CardInstance {
	return models.CardInstance{
		ID:   uuid.New(),
		Kind: models.CardPrompt,
		Text: "prompt",
		Pick: pick,
	}
}

// newFixture seeds a lobby with four players, a five-card hand each, a
// prompt pool, and a fresh turn.
func newFixture(t *testing.T, cfg settings.Settings) *fixture {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemory(nil)
	svc := New(st, quartz.NewMock(t), nil)
	svc.NewRNG = func() *rng.Generator { return rng.New(7) }

	f := &fixture{
		st:      st,
		svc:     svc,
		lobbyID: uuid.New(),
		turnID:  uuid.New(),
		players: []uuid.UUID{uuid.New(), uuid.New(), uuid.New(), uuid.New()},
	}

	err := st.RunTransaction(ctx, func(tx store.Tx) error {
		lob := models.Lobby{ID: f.lobbyID, Status: models.LobbyInProgress, Settings: cfg}
		if err := store.PutJSON(ctx, tx, models.LobbyKey(f.lobbyID), lob); err != nil {
			return err
		}
		for i, uid := range f.players {
			p := models.Player{
				UID:        uid,
				Name:       fmt.Sprintf("player %d", i),
				Role:       models.RolePlayer,
				Status:     models.PlayerOnline,
				OrderIndex: int64(i),
			}
			if err := store.PutJSON(ctx, tx, models.PlayerKey(f.lobbyID, uid), p); err != nil {
				return err
			}
			hand := models.Hand{PlayerUID: uid}
			for j := 0; j < 5; j++ {
				hand.Cards = append(hand.Cards, responseCard(i*10+j))
			}
			if err := store.PutJSON(ctx, tx, models.HandKey(f.lobbyID, uid), hand); err != nil {
				return err
			}
		}
		p := models.Pool{Prompts: []models.CardInstance{promptCard(1), promptCard(1), promptCard(2)}}
		if err := pool.Save(ctx, tx, f.lobbyID, p); err != nil {
			return err
		}
		turn := models.Turn{ID: f.turnID, Ordinal: 1, JudgeUID: f.players[0], Phase: models.PhaseNew}
		return store.PutJSON(ctx, tx, models.TurnKey(f.lobbyID, f.turnID), turn)
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) turn(t *testing.T) *models.Turn {
	t.Helper()
	var turn models.Turn
	err := f.st.RunTransaction(context.Background(), func(tx store.Tx) error {
		return store.GetJSON(context.Background(), tx, models.TurnKey(f.lobbyID, f.turnID), &turn)
	})
	require.NoError(t, err)
	return &turn
}

func (f *fixture) pool(t *testing.T) models.Pool {
	t.Helper()
	var p models.Pool
	err := f.st.RunTransaction(context.Background(), func(tx store.Tx) error {
		var err error
		p, err = pool.Load(context.Background(), tx, f.lobbyID)
		return err
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) hand(t *testing.T, uid uuid.UUID) models.Hand {
	t.Helper()
	var hand models.Hand
	err := f.st.RunTransaction(context.Background(), func(tx store.Tx) error {
		return store.GetJSON(context.Background(), tx, models.HandKey(f.lobbyID, uid), &hand)
	})
	require.NoError(t, err)
	return hand
}

func (f *fixture) player(t *testing.T, uid uuid.UUID) models.Player {
	t.Helper()
	var p models.Player
	err := f.st.RunTransaction(context.Background(), func(tx store.Tx) error {
		return store.GetJSON(context.Background(), tx, models.PlayerKey(f.lobbyID, uid), &p)
	})
	require.NoError(t, err)
	return p
}

// playPrompt picks the first pooled prompt with the given pick count and
// plays it, discarding the rest of the offer.
func (f *fixture) playPrompt(t *testing.T, pick int) uuid.UUID {
	t.Helper()
	p := f.pool(t)
	var chosen uuid.UUID
	var rejected []uuid.UUID
	for _, c := range p.Prompts {
		if chosen == uuid.Nil && c.PickCount() == pick {
			chosen = c.ID
			continue
		}
		rejected = append(rejected, c.ID)
	}
	require.NotEqual(t, uuid.Nil, chosen)
	require.NoError(t, f.svc.PlayPrompt(context.Background(), f.lobbyID, f.turnID, chosen, rejected))
	return chosen
}

// submit plays n cards from the front of the player's current hand.
func (f *fixture) submit(t *testing.T, uid uuid.UUID, n int) []uuid.UUID {
	t.Helper()
	hand := f.hand(t, uid)
	require.GreaterOrEqual(t, len(hand.Cards), n)
	ids := make([]uuid.UUID, n)
	for i := 0; i < n; i++ {
		ids[i] = hand.Cards[i].ID
	}
	require.NoError(t, f.svc.SubmitResponse(context.Background(), f.lobbyID, f.turnID, uid, ids))
	return ids
}

func TestPlayPromptAdvancesAndDiscardsOffer(t *testing.T) {
	f := newFixture(t, settings.Default())
	chosen := f.playPrompt(t, 1)

	turn := f.turn(t)
	assert.Equal(t, models.PhaseAnswering, turn.Phase)
	require.Len(t, turn.Prompts, 1)
	assert.Equal(t, chosen, turn.Prompts[0].ID)

	// The whole offer leaves the pool, not just the chosen prompt.
	assert.Empty(t, f.pool(t).Prompts)
}

func TestPlayPromptTwiceRejected(t *testing.T) {
	f := newFixture(t, settings.Default())
	f.playPrompt(t, 1)

	p := f.pool(t)
	err := f.svc.PlayPrompt(context.Background(), f.lobbyID, f.turnID, uuid.New(), nil)
	assert.ErrorIs(t, err, ErrInvalidPhase)
	assert.Equal(t, p, f.pool(t), "a rejected play must not touch the pool")
}

func TestSubmitResponseMovesCardsOutOfHand(t *testing.T) {
	f := newFixture(t, settings.Default())
	f.playPrompt(t, 1)
	uid := f.players[1]

	ids := f.submit(t, uid, 1)

	turn := f.turn(t)
	resp := turn.Response(uid)
	require.NotNil(t, resp)
	require.Len(t, resp.Cards, 1)
	assert.Equal(t, ids[0], resp.Cards[0].ID)
	assert.Equal(t, "player 1", resp.PlayerName)

	hand := f.hand(t, uid)
	assert.Len(t, hand.Cards, 4)
	assert.False(t, hand.Contains(ids[0]))
}

func TestSubmitResponsePickCountEnforced(t *testing.T) {
	f := newFixture(t, settings.Default())
	f.playPrompt(t, 2)
	uid := f.players[1]
	hand := f.hand(t, uid)

	err := f.svc.SubmitResponse(context.Background(), f.lobbyID, f.turnID, uid, []uuid.UUID{hand.Cards[0].ID})
	assert.ErrorIs(t, err, ErrValidation)

	f.submit(t, uid, 2)
	assert.Len(t, f.hand(t, uid).Cards, 3)
}

func TestJudgeCannotSubmit(t *testing.T) {
	f := newFixture(t, settings.Default())
	f.playPrompt(t, 1)
	judge := f.players[0]
	hand := f.hand(t, judge)

	err := f.svc.SubmitResponse(context.Background(), f.lobbyID, f.turnID, judge, []uuid.UUID{hand.Cards[0].ID})
	assert.ErrorIs(t, err, ErrValidation)
	assert.Len(t, f.hand(t, judge).Cards, 5)
	assert.Nil(t, f.turn(t).Response(judge))
}

func TestSubmitResponseUnknownCard(t *testing.T) {
	f := newFixture(t, settings.Default())
	f.playPrompt(t, 1)

	err := f.svc.SubmitResponse(context.Background(), f.lobbyID, f.turnID, f.players[1], []uuid.UUID{uuid.New()})
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Len(t, f.hand(t, f.players[1]).Cards, 5)
}

func TestResubmitReturnsPreviousCards(t *testing.T) {
	f := newFixture(t, settings.Default())
	f.playPrompt(t, 1)
	uid := f.players[1]

	first := f.submit(t, uid, 1)
	second := f.submit(t, uid, 1)
	assert.NotEqual(t, first[0], second[0])

	hand := f.hand(t, uid)
	assert.Len(t, hand.Cards, 4, "resubmitting must not leak cards")
	assert.True(t, hand.Contains(first[0]), "the replaced card returns to the hand")

	resp := f.turn(t).Response(uid)
	require.Len(t, resp.Cards, 1)
	assert.Equal(t, second[0], resp.Cards[0].ID)
}

func TestCancelResponse(t *testing.T) {
	f := newFixture(t, settings.Default())
	f.playPrompt(t, 1)
	uid := f.players[1]
	ids := f.submit(t, uid, 1)

	require.NoError(t, f.svc.CancelResponse(context.Background(), f.lobbyID, f.turnID, uid))
	assert.Nil(t, f.turn(t).Response(uid))
	hand := f.hand(t, uid)
	assert.Len(t, hand.Cards, 5)
	assert.True(t, hand.Contains(ids[0]))

	// Cancelling again is a harmless no-op.
	require.NoError(t, f.svc.CancelResponse(context.Background(), f.lobbyID, f.turnID, uid))
}

func TestStartReadingGuards(t *testing.T) {
	f := newFixture(t, settings.Default())

	err := f.svc.StartReading(context.Background(), f.lobbyID, f.turnID)
	assert.ErrorIs(t, err, ErrInvalidPhase)

	f.playPrompt(t, 1)
	require.NoError(t, f.svc.StartReading(context.Background(), f.lobbyID, f.turnID))
	assert.Equal(t, models.PhaseReading, f.turn(t).Phase)

	err = f.svc.StartReading(context.Background(), f.lobbyID, f.turnID)
	assert.ErrorIs(t, err, ErrInvalidPhase)
}

func TestRevealResponseSaturates(t *testing.T) {
	f := newFixture(t, settings.Default())
	f.playPrompt(t, 2)
	uid := f.players[1]
	f.submit(t, uid, 2)

	for i := 0; i < 4; i++ {
		require.NoError(t, f.svc.RevealResponse(context.Background(), f.lobbyID, f.turnID, uid))
	}
	assert.Equal(t, 2, f.turn(t).Response(uid).RevealCount)
}

func TestToggleLikeExclusivePerTurn(t *testing.T) {
	cfg := settings.Default()
	cfg.LikesLimit = settings.LikesOnePerTurn
	f := newFixture(t, cfg)
	f.playPrompt(t, 1)
	a, b := f.players[1], f.players[2]
	f.submit(t, a, 1)
	f.submit(t, b, 1)
	voter := f.players[0]
	ctx := context.Background()

	require.NoError(t, f.svc.ToggleLike(ctx, f.lobbyID, f.turnID, a, voter, "judge", models.VoteYes))
	assert.Equal(t, 1, f.turn(t).Response(a).LikeCount())

	// Liking the other response moves the like, it does not add a second one.
	require.NoError(t, f.svc.ToggleLike(ctx, f.lobbyID, f.turnID, b, voter, "judge", models.VoteYes))
	turn := f.turn(t)
	assert.Equal(t, 0, turn.Response(a).LikeCount())
	assert.Equal(t, 1, turn.Response(b).LikeCount())

	// Repeating the same like toggles it off.
	require.NoError(t, f.svc.ToggleLike(ctx, f.lobbyID, f.turnID, b, voter, "judge", models.VoteYes))
	assert.Equal(t, 0, f.turn(t).Response(b).LikeCount())
}

func TestToggleLikeUnlimited(t *testing.T) {
	cfg := settings.Default()
	cfg.LikesLimit = settings.LikesUnlimited
	f := newFixture(t, cfg)
	f.playPrompt(t, 1)
	a, b := f.players[1], f.players[2]
	f.submit(t, a, 1)
	f.submit(t, b, 1)
	voter := f.players[0]
	ctx := context.Background()

	require.NoError(t, f.svc.ToggleLike(ctx, f.lobbyID, f.turnID, a, voter, "judge", models.VoteYes))
	require.NoError(t, f.svc.ToggleLike(ctx, f.lobbyID, f.turnID, b, voter, "judge", models.VoteYes))
	turn := f.turn(t)
	assert.Equal(t, 1, turn.Response(a).LikeCount())
	assert.Equal(t, 1, turn.Response(b).LikeCount())
}

func TestVotePrompt(t *testing.T) {
	f := newFixture(t, settings.Default())
	promptID := f.playPrompt(t, 1)
	voter := f.players[1]
	ctx := context.Background()

	yes, no := models.VoteYes, models.VoteNo
	require.NoError(t, f.svc.VotePrompt(ctx, f.lobbyID, f.turnID, promptID, voter, "p", &yes))
	require.Len(t, f.turn(t).PromptVotes, 1)
	assert.Equal(t, models.VoteYes, f.turn(t).PromptVotes[0].Choice)

	// Voting again replaces rather than stacks.
	require.NoError(t, f.svc.VotePrompt(ctx, f.lobbyID, f.turnID, promptID, voter, "p", &no))
	require.Len(t, f.turn(t).PromptVotes, 1)
	assert.Equal(t, models.VoteNo, f.turn(t).PromptVotes[0].Choice)

	require.NoError(t, f.svc.VotePrompt(ctx, f.lobbyID, f.turnID, promptID, voter, "p", nil))
	assert.Empty(t, f.turn(t).PromptVotes)

	err := f.svc.VotePrompt(ctx, f.lobbyID, f.turnID, uuid.New(), voter, "p", &yes)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func likeN(t *testing.T, f *fixture, target uuid.UUID, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		voter := uuid.New()
		require.NoError(t, f.svc.ToggleLike(context.Background(), f.lobbyID, f.turnID,
			target, voter, fmt.Sprintf("audience %d", i), models.VoteYes))
	}
}

func TestChooseWinnerScoresAndCompletes(t *testing.T) {
	f := newFixture(t, settings.Default())
	f.playPrompt(t, 1)
	winner := f.players[1]
	f.submit(t, winner, 1)
	f.submit(t, f.players[2], 1)
	likeN(t, f, winner, 2)

	require.NoError(t, f.svc.ChooseWinner(context.Background(), f.lobbyID, f.turnID, winner))

	turn := f.turn(t)
	assert.Equal(t, models.PhaseComplete, turn.Phase)
	assert.Equal(t, winner, turn.WinnerUID)
	assert.Equal(t, 1, f.player(t, winner).Score)
	assert.Equal(t, 2, f.player(t, winner).Likes)
	assert.Equal(t, 0, f.player(t, f.players[2]).Score)

	// The bookkeeping must never run twice.
	err := f.svc.ChooseWinner(context.Background(), f.lobbyID, f.turnID, winner)
	assert.ErrorIs(t, err, ErrInvalidPhase)
	assert.Equal(t, 1, f.player(t, winner).Score)
}

func TestChooseWinnerRequiresResponse(t *testing.T) {
	f := newFixture(t, settings.Default())
	f.playPrompt(t, 1)

	err := f.svc.ChooseWinner(context.Background(), f.lobbyID, f.turnID, f.players[1])
	assert.ErrorIs(t, err, ErrValidation)

	f.submit(t, f.players[1], 1)
	err = f.svc.ChooseWinner(context.Background(), f.lobbyID, f.turnID, f.players[2])
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAudienceAwardsTies(t *testing.T) {
	cfg := settings.Default()
	cfg.LikesLimit = settings.LikesUnlimited
	f := newFixture(t, cfg)
	f.playPrompt(t, 1)
	for _, uid := range f.players[1:] {
		f.submit(t, uid, 1)
	}
	// Like counts 3, 3, 1: both maxima take the award, nobody else.
	likeN(t, f, f.players[1], 3)
	likeN(t, f, f.players[2], 3)
	likeN(t, f, f.players[3], 1)

	require.NoError(t, f.svc.ChooseWinner(context.Background(), f.lobbyID, f.turnID, f.players[1]))

	turn := f.turn(t)
	assert.ElementsMatch(t, []uuid.UUID{f.players[1], f.players[2]}, turn.AudienceAwardUIDs)
	assert.Equal(t, 3, f.player(t, f.players[2]).Likes)
}

func TestAudienceAwardsEmptyWithoutLikes(t *testing.T) {
	f := newFixture(t, settings.Default())
	f.playPrompt(t, 1)
	f.submit(t, f.players[1], 1)
	f.submit(t, f.players[2], 1)

	require.NoError(t, f.svc.ChooseWinner(context.Background(), f.lobbyID, f.turnID, f.players[1]))
	assert.Empty(t, f.turn(t).AudienceAwardUIDs)
}
