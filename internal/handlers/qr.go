// internal/handlers/qr.go
package handlers

import (
	"fmt"
	"net/http"

	qrcode "github.com/skip2/go-qrcode"
)

// JoinQR renders a QR code pointing a phone at the lobby join page.
func (s *Server) JoinQR(w http.ResponseWriter, r *http.Request) {
	id, ok := lobbyID(r)
	if !ok {
		http.Error(w, "invalid lobby id", http.StatusBadRequest)
		return
	}

	joinURL := fmt.Sprintf("%s/lobbies/%s", s.BaseURL, id)
	png, err := qrcode.Encode(joinURL, qrcode.Medium, 256)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}
