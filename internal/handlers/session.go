// internal/handlers/session.go
package handlers

import (
	"net/http"
	"strings"

	"github.com/partydeck/partydeck/internal/auth"
)

// CreateSession mints an ephemeral guest identity and hands back its token,
// both in the body and as an auth_token cookie.
func (s *Server) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeBody(r, &req); err != nil || strings.TrimSpace(req.Name) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "name is required", Code: "validation"})
		return
	}

	sess := auth.NewSession(strings.TrimSpace(req.Name))
	token, err := auth.CreateJWT(sess)
	if err != nil {
		writeError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "auth_token",
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"uid":   sess.UID,
		"name":  sess.Name,
		"token": token,
	})
}
