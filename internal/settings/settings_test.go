// internal/settings/settings_test.go
package settings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEmptyGivesDefaults(t *testing.T) {
	s, err := Decode(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), s)
}

func TestDecodeToleratesDrift(t *testing.T) {
	// A document written by a newer schema: unknown field, unknown enum value.
	data := []byte(`{
		"play_until": "max_score",
		"max_score": 5,
		"likes_limit": "7_pp_per_game",
		"some_future_field": {"nested": true}
	}`)
	s, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, PlayMaxScore, s.PlayUntil)
	assert.Equal(t, 5, s.MaxScore)
	// Unknown enum value falls back to the default instead of erroring.
	assert.Equal(t, LikesUnlimited, s.LikesLimit)
	// Missing fields default.
	assert.Equal(t, Default().CardsPerPerson, s.CardsPerPerson)
}

func TestDecodeMalformed(t *testing.T) {
	_, err := Decode([]byte(`{`))
	assert.Error(t, err)
}

func TestNormalizeClampsNumbers(t *testing.T) {
	s := Settings{MaxTurns: -3, CardsPerPerson: 0}
	s.Normalize()
	assert.Equal(t, Default().MaxTurns, s.MaxTurns)
	assert.Equal(t, Default().CardsPerPerson, s.CardsPerPerson)
}

func TestUpdatePartial(t *testing.T) {
	s := Default()
	err := s.Update(map[string]interface{}{
		"play_until":      "forever",
		"cards_per_person": float64(10),
		"new_cards_first": false,
	})
	require.NoError(t, err)
	assert.Equal(t, PlayForever, s.PlayUntil)
	assert.Equal(t, 10, s.CardsPerPerson)
	assert.False(t, s.NewCardsFirst)
	// Untouched fields persist.
	assert.Equal(t, Default().MaxScore, s.MaxScore)
}

func TestUpdateRejectsBadTypesAndVariants(t *testing.T) {
	s := Default()
	assert.Error(t, s.Update(map[string]interface{}{"max_turns": "twelve"}))
	assert.Error(t, s.Update(map[string]interface{}{"max_turns": float64(0)}))

	err := s.Update(map[string]interface{}{"lobby_control": "committee"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownVariant)
}

func TestKnownPredicates(t *testing.T) {
	assert.True(t, PlayMaxTurnsPerPerson.Known())
	assert.False(t, PlayUntil("sudden_death").Known())
	assert.True(t, DiscardTokenPer2Turns.Known())
	assert.False(t, DiscardCost("gold").Known())
	assert.True(t, ControlCreatorOrJudge.Known())
	assert.False(t, LobbyControl("").Known())
}
