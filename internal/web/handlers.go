package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jamsesh/jamsesh/internal/room"
	"github.com/jamsesh/jamsesh/internal/spotify"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("web: encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleLogin starts the authorization-code grant. The fresh session id
// doubles as the OAuth state parameter, so the callback can find the
// session it belongs to.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	state := s.room.CreateOAuthSession()
	http.Redirect(w, r, s.auth.AuthURL(state), http.StatusTemporaryRedirect)
}

// handleCallback completes the grant and sends the browser back to the
// frontend with its session id.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	state := r.FormValue("state")
	if state == "" {
		writeError(w, http.StatusBadRequest, "missing state parameter")
		return
	}

	token, identity, err := s.auth.Exchange(r.Context(), state, r)
	if err != nil {
		log.Printf("web: oauth exchange: %v", err)
		writeError(w, http.StatusBadGateway, "authorization failed")
		return
	}

	err = s.room.CompleteOAuth(state, identity.Name, identity.Email,
		token.AccessToken, token.RefreshToken, token.Expiry)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unknown session")
		return
	}

	http.Redirect(w, r, fmt.Sprintf("%s?sessionId=%s", s.cfg.FrontendURL, state), http.StatusTemporaryRedirect)
}

// handleListenerLogin registers an identity-only participant.
func (s *Server) handleListenerLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	id, err := s.room.CreateListenerSession(req.Name, req.Email)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"sessionId": id})
}

// handleSubmitTrack queues a track or replaces the fallback playlist,
// depending on what kind of link was submitted.
func (s *Server) handleSubmitTrack(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"sessionId"`
		Input     string `json:"input"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	err := s.room.SubmitTrack(r.Context(), req.SessionID, req.Input)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	case errors.Is(err, room.ErrInvalidSession):
		writeError(w, http.StatusUnauthorized, "unknown session")
	case errors.Is(err, spotify.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, room.ErrDuplicateTrack):
		writeError(w, http.StatusConflict, "track already queued")
	case errors.Is(err, room.ErrNoConductor):
		writeError(w, http.StatusServiceUnavailable, "nobody with Spotify credentials is here yet")
	default:
		log.Printf("web: submit track: %v", err)
		writeError(w, http.StatusBadGateway, "could not look up the track")
	}
}

// handleMasterRandomLiked queues a handful of the conductor's liked
// songs. Conductor only.
func (s *Server) handleMasterRandomLiked(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	added, err := s.room.MasterRandomLiked(r.Context(), req.SessionID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]int{"added": added})
	case errors.Is(err, room.ErrInvalidSession):
		writeError(w, http.StatusUnauthorized, "unknown session")
	case errors.Is(err, room.ErrNotConductor):
		writeError(w, http.StatusForbidden, "only the master session may do that")
	default:
		log.Printf("web: random liked: %v", err)
		writeError(w, http.StatusBadGateway, "could not fetch liked songs")
	}
}

// handleSession reports whether a stored session id is still usable, so
// the frontend can decide between reconnecting and logging in again.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	writeJSON(w, http.StatusOK, map[string]bool{"loggedIn": s.room.SessionLoggedIn(id)})
}

func (s *Server) handleAirhorns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"airhorns": room.Airhorns})
}
