// internal/handlers/lobby_handlers_test.go
package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partydeck/partydeck/internal/auth"
	"github.com/partydeck/partydeck/internal/lobby"
	"github.com/partydeck/partydeck/internal/models"
	"github.com/partydeck/partydeck/internal/notify"
	"github.com/partydeck/partydeck/internal/pool"
	"github.com/partydeck/partydeck/internal/rng"
	"github.com/partydeck/partydeck/internal/store"
	"github.com/partydeck/partydeck/internal/turn"
	"github.com/sirupsen/logrus"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	auth.Init() // ephemeral keys, no DB needed

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	hub := notify.NewHub(log)
	st := store.NewMemory(hub)
	clock := quartz.NewMock(t)

	lobbies := lobby.New(st, clock, log)
	var seed int64 = 3
	lobbies.NewRNG = func() *rng.Generator {
		seed++
		return rng.New(seed)
	}
	turns := turn.New(st, clock, log)

	return NewServer(log, st, lobbies, turns, pool.New(st, log), hub, "http://party.test")
}

type client struct {
	srv   http.Handler
	token string
	uid   uuid.UUID
}

func newClient(t *testing.T, s *Server, name string) *client {
	t.Helper()
	sess := auth.NewSession(name)
	token, err := auth.CreateJWT(sess)
	require.NoError(t, err)
	return &client{srv: s.Router(), token: token, uid: sess.UID}
}

func (c *client) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if c.token != "" {
		req.Header.Set("Cookie", "auth_token="+c.token)
	}
	w := httptest.NewRecorder()
	c.srv.ServeHTTP(w, req)
	return w
}

func deckBody(prompts, responses int) map[string]interface{} {
	var cards []models.DeckCard
	for i := 0; i < prompts; i++ {
		cards = append(cards, models.DeckCard{
			ID: fmt.Sprintf("p%d", i), Kind: models.CardPrompt, Text: fmt.Sprintf("prompt %d", i), Pick: 1,
		})
	}
	for i := 0; i < responses; i++ {
		cards = append(cards, models.DeckCard{
			ID: fmt.Sprintf("r%d", i), Kind: models.CardResponse, Text: fmt.Sprintf("response %d", i),
		})
	}
	return map[string]interface{}{"cards": cards}
}

func TestCreateSessionSetsCookie(t *testing.T) {
	s := newTestServer(t)
	c := &client{srv: s.Router()}

	w := c.do(t, "POST", "/session", map[string]string{"name": "nadja"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		UID   uuid.UUID `json:"uid"`
		Name  string    `json:"name"`
		Token string    `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEqual(t, uuid.Nil, resp.UID)
	assert.Equal(t, "nadja", resp.Name)

	got, err := auth.AuthenticateJWT(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, resp.UID, got.UID)

	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies)
	assert.Equal(t, "auth_token", cookies[0].Name)
}

func TestCreateSessionRequiresName(t *testing.T) {
	s := newTestServer(t)
	c := &client{srv: s.Router()}
	w := c.do(t, "POST", "/session", map[string]string{"name": "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateLobbyRequiresSession(t *testing.T) {
	s := newTestServer(t)
	c := &client{srv: s.Router()}
	w := c.do(t, "POST", "/lobbies", map[string]interface{}{})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLobbyCreateJoinStartFlow(t *testing.T) {
	s := newTestServer(t)
	creator := newClient(t, s, "creator")

	w := creator.do(t, "POST", "/lobbies", map[string]interface{}{
		"deck_ids": []string{"deck-a"},
		"settings": map[string]interface{}{"cards_per_person": 4},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var lob models.Lobby
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &lob))
	require.NotEqual(t, uuid.Nil, lob.ID)
	assert.Equal(t, creator.uid, lob.CreatorUID)
	assert.Equal(t, 4, lob.Settings.CardsPerPerson)

	guest := newClient(t, s, "guest")
	w = guest.do(t, "POST", "/lobbies/"+lob.ID.String()+"/join", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = creator.do(t, "POST", "/lobbies/"+lob.ID.String()+"/start", deckBody(5, 20))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// The snapshot now carries the running game and turn one.
	w = guest.do(t, "GET", "/lobbies/"+lob.ID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var snap lobbySnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, models.LobbyInProgress, snap.Lobby.Status)
	require.NotNil(t, snap.Turn)
	assert.Equal(t, 1, snap.Turn.Ordinal)
	assert.Len(t, snap.Players, 2)

	// No turn has completed yet, so the recap is empty.
	w = guest.do(t, "GET", "/lobbies/"+lob.ID.String()+"/turns", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var recap struct {
		Turns []models.Turn `json:"turns"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &recap))
	assert.Empty(t, recap.Turns)

	// Each player got their configured hand.
	w = guest.do(t, "GET", "/lobbies/"+lob.ID.String()+"/hand", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var hand models.Hand
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &hand))
	assert.Len(t, hand.Cards, 4)
}

func TestStartByNonCreatorForbidden(t *testing.T) {
	s := newTestServer(t)
	creator := newClient(t, s, "creator")

	w := creator.do(t, "POST", "/lobbies", map[string]interface{}{})
	require.Equal(t, http.StatusCreated, w.Code)
	var lob models.Lobby
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &lob))

	guest := newClient(t, s, "guest")
	w = guest.do(t, "POST", "/lobbies/"+lob.ID.String()+"/join", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = guest.do(t, "POST", "/lobbies/"+lob.ID.String()+"/start", deckBody(2, 20))
	assert.Equal(t, http.StatusForbidden, w.Code)
	var errResp errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
	assert.Equal(t, "forbidden", errResp.Code)
}

func TestInvalidPhaseMapsToConflict(t *testing.T) {
	s := newTestServer(t)
	creator := newClient(t, s, "creator")

	w := creator.do(t, "POST", "/lobbies", map[string]interface{}{})
	require.Equal(t, http.StatusCreated, w.Code)
	var lob models.Lobby
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &lob))

	w = creator.do(t, "POST", "/lobbies/"+lob.ID.String()+"/start", deckBody(3, 20))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = creator.do(t, "GET", "/lobbies/"+lob.ID.String(), nil)
	var snap lobbySnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	require.NotNil(t, snap.Turn)

	// Reading cannot start before the prompt is played.
	w = creator.do(t, "POST", fmt.Sprintf("/lobbies/%s/turns/%s/start-reading", lob.ID, snap.Turn.ID), nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	var errResp errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
	assert.Equal(t, "invalid_phase", errResp.Code)
}

func TestUnknownLobbyIsNotFound(t *testing.T) {
	s := newTestServer(t)
	c := newClient(t, s, "x")
	w := c.do(t, "POST", "/lobbies/"+uuid.NewString()+"/join", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestJoinQRServesPNG(t *testing.T) {
	s := newTestServer(t)
	creator := newClient(t, s, "creator")

	w := creator.do(t, "POST", "/lobbies", map[string]interface{}{})
	require.Equal(t, http.StatusCreated, w.Code)
	var lob models.Lobby
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &lob))

	w = creator.do(t, "GET", "/lobbies/"+lob.ID.String()+"/qr", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Body.Bytes())
}

func TestPromptOffersAndPlay(t *testing.T) {
	s := newTestServer(t)
	creator := newClient(t, s, "creator")

	w := creator.do(t, "POST", "/lobbies", map[string]interface{}{})
	require.Equal(t, http.StatusCreated, w.Code)
	var lob models.Lobby
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &lob))

	guest := newClient(t, s, "guest")
	w = guest.do(t, "POST", "/lobbies/"+lob.ID.String()+"/join", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = creator.do(t, "POST", "/lobbies/"+lob.ID.String()+"/start", deckBody(5, 30))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = creator.do(t, "GET", "/lobbies/"+lob.ID.String()+"/prompts?n=3", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var offers struct {
		Prompts []models.CardInstance `json:"prompts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &offers))
	require.Len(t, offers.Prompts, 3)

	w = creator.do(t, "GET", "/lobbies/"+lob.ID.String(), nil)
	var snap lobbySnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	require.NotNil(t, snap.Turn)

	w = creator.do(t, "POST", fmt.Sprintf("/lobbies/%s/turns/%s/play-prompt", lob.ID, snap.Turn.ID), map[string]interface{}{
		"prompt_id":    offers.Prompts[0].ID,
		"rejected_ids": []uuid.UUID{offers.Prompts[1].ID, offers.Prompts[2].ID},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = creator.do(t, "GET", "/lobbies/"+lob.ID.String(), nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, models.PhaseAnswering, snap.Turn.Phase)
	require.Len(t, snap.Turn.Prompts, 1)
	assert.Equal(t, offers.Prompts[0].ID, snap.Turn.Prompts[0].ID)
}
