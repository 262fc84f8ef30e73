// internal/handlers/lobby_ws.go
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/partydeck/partydeck/internal/middleware"
	"github.com/partydeck/partydeck/internal/models"
)

// StreamLobby upgrades to a websocket and streams committed document changes
// under the lobby's key prefix. Each frame is one change snapshot; clients
// that fall behind miss frames and are expected to refetch the lobby.
func (s *Server) StreamLobby(w http.ResponseWriter, r *http.Request) {
	id, ok := lobbyID(r)
	if !ok {
		http.Error(w, "invalid lobby id", http.StatusBadRequest)
		return
	}
	remoteAddr := r.RemoteAddr

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{"lobby"},
		OriginPatterns: []string{"*"}, // Adjust in production
	})
	if err != nil {
		s.Log.Warnf("websocket accept error: %v", err)
		return
	}
	defer c.Close(websocket.StatusInternalError, "handler finished")

	middleware.LogWebSocketConnect(s.Log, remoteAddr, r.URL.Path)

	sub := s.Hub.Subscribe(models.LobbyKey(id), 32)
	defer s.Hub.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reads are drained only to learn about the peer closing.
	go func() {
		defer cancel()
		for {
			if _, _, err := c.Read(ctx); err != nil {
				return
			}
		}
	}()

	var closeErr error
loop:
	for {
		select {
		case <-ctx.Done():
			closeErr = ctx.Err()
			break loop
		case change, open := <-sub.Ch:
			if !open {
				break loop
			}
			payload, err := json.Marshal(change)
			if err != nil {
				continue
			}
			writeCtx, writeCancel := context.WithTimeout(ctx, 5*time.Second)
			err = c.Write(writeCtx, websocket.MessageText, payload)
			writeCancel()
			if err != nil {
				closeErr = err
				break loop
			}
		}
	}

	middleware.LogWebSocketDisconnect(s.Log, remoteAddr, r.URL.Path, closeErr)
	c.Close(websocket.StatusNormalClosure, "stream ended")
}
