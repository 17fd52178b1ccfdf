package room

import (
	"strings"
	"time"
)

// FollowMode is a session's choice of whether its own player mirrors the
// conductor's track.
type FollowMode string

const (
	FollowModeFollow FollowMode = "follow"
	FollowModePaused FollowMode = "paused"
)

// Session is one connected (or recently connected) participant.
type Session struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`

	// Provider credentials; empty for listener-only sessions.
	AccessToken  string    `json:"accessToken,omitempty"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	TokenExpiry  time.Time `json:"tokenExpiry,omitempty"`

	FollowMode    FollowMode `json:"followMode"`
	LastHeartbeat time.Time  `json:"lastHeartbeat"`

	// Transport is the live outbound channel; nil while disconnected.
	// Owned by the transport edge, never persisted.
	Transport Transport `json:"-"`
}

// HasToken reports whether the session holds provider credentials.
func (s *Session) HasToken() bool {
	return s.AccessToken != ""
}

// LoggedIn reports whether the session carries a complete identity:
// either provider-authenticated or listener-only with name and email.
func (s *Session) LoggedIn() bool {
	if s.Email == "" {
		return false
	}
	return s.HasToken() || s.Name != ""
}

// SameIdentity compares two sessions by email, case-insensitively.
func (s *Session) SameIdentity(other *Session) bool {
	return s.Email != "" && strings.EqualFold(s.Email, other.Email)
}

// Connected reports whether the session has an open transport.
func (s *Session) Connected() bool {
	return s.Transport != nil
}

// DropCredentials clears the session's provider tokens, demoting it to a
// listener. Used when a refresh permanently fails.
func (s *Session) DropCredentials() {
	s.AccessToken = ""
	s.RefreshToken = ""
	s.TokenExpiry = time.Time{}
}

// SessionView is the per-participant entry of the sessions_list message.
type SessionView struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Email      string     `json:"email"`
	HasToken   bool       `json:"hasToken"`
	Connected  bool       `json:"connected"`
	FollowMode FollowMode `json:"followMode"`
}

// viewOf flattens a session for the participant directory.
func viewOf(s *Session) SessionView {
	return SessionView{
		ID:         s.ID,
		Name:       s.Name,
		Email:      s.Email,
		HasToken:   s.HasToken(),
		Connected:  s.Connected(),
		FollowMode: s.FollowMode,
	}
}
