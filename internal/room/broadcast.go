package room

import (
	"sort"
	"strings"

	"github.com/jamsesh/jamsesh/internal/spotify"
)

// Outbound message kinds. Payloads are the authoritative state; clients
// replace, never merge.
const (
	MsgTracksList       = "tracks_list"
	MsgMode             = "mode"
	MsgSessionMode      = "session_mode"
	MsgSessionsList     = "sessions_list"
	MsgHistory          = "history"
	MsgPlayHistory      = "play_history"
	MsgPlayAirhorn      = "play_airhorn"
	MsgProminentMessage = "prominent_message"
	MsgPlaybackError    = "playback_error"
	MsgPlayTrack        = "play_track"
	MsgLoginSuccess     = "login_success"
	MsgLoginError       = "login_error"
	MsgPong             = "pong"
)

// Message is one outbound frame.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Transport is a session's outbound channel. Send must not block: the
// websocket edge buffers writes and drops the connection when the buffer
// overflows. The room never writes to the socket itself.
type Transport interface {
	Send(msg Message)
	Close()
}

// ModePayload is the data of a mode message.
type ModePayload struct {
	Mode                 Mode                  `json:"mode"`
	CurrentTrack         *Track                `json:"currentTrack"`
	CurrentIsFallback    bool                  `json:"currentIsFallback"`
	ConductorID          string                `json:"conductorId,omitempty"`
	CanTakeMasterControl bool                  `json:"canTakeMasterControl"`
	FallbackPlaylist     *spotify.PlaylistInfo `json:"fallbackPlaylist,omitempty"`
}

// NoticePayload carries transient user-facing notifications.
type NoticePayload struct {
	Message string `json:"message"`
}

// AirhornPayload names the airhorn sample to play.
type AirhornPayload struct {
	Name string `json:"name"`
	From string `json:"from,omitempty"`
}

// broadcastLocked fans a message to every session with an open
// transport. Sessions without one are skipped; eviction is the
// cleanup sweep's job, not the broadcaster's.
func (r *Room) broadcastLocked(msg Message) {
	for _, s := range r.sessions {
		if s.Transport != nil {
			s.Transport.Send(msg)
		}
	}
}

// sendToLocked delivers a message to one session if connected.
func (r *Room) sendToLocked(id string, msg Message) {
	if s := r.sessions[id]; s != nil && s.Transport != nil {
		s.Transport.Send(msg)
	}
}

func (r *Room) tracksMessageLocked() Message {
	return Message{Type: MsgTracksList, Data: r.queue.Display()}
}

func (r *Room) broadcastTracksLocked() {
	r.broadcastLocked(r.tracksMessageLocked())
}

// modeMessageForLocked builds the mode message for one recipient; the
// canTakeMasterControl flag is per-session.
func (r *Room) modeMessageForLocked(s *Session) Message {
	var current *Track
	if r.current != nil {
		c := *r.current
		c.IsFallback = r.currentIsFallback
		current = &c
	}
	return Message{Type: MsgMode, Data: ModePayload{
		Mode:                 r.mode,
		CurrentTrack:         current,
		CurrentIsFallback:    r.currentIsFallback,
		ConductorID:          r.conductorID,
		CanTakeMasterControl: s.HasToken() && r.cfg.AllowsMasterControl(s.Email),
		FallbackPlaylist:     r.fallbackInfo,
	}}
}

func (r *Room) broadcastModeLocked() {
	for _, s := range r.sessions {
		if s.Transport != nil {
			s.Transport.Send(r.modeMessageForLocked(s))
		}
	}
}

func (r *Room) sessionModeMessage(s *Session) Message {
	return Message{Type: MsgSessionMode, Data: map[string]FollowMode{"mode": s.FollowMode}}
}

// sessionsMessageLocked builds the deduplicated participant directory.
// Duplicate emails should not survive login, but the view dedups anyway,
// keeping the session with the freshest heartbeat.
func (r *Room) sessionsMessageLocked() Message {
	byEmail := make(map[string]*Session)
	var anonymous []*Session
	for _, s := range r.sessions {
		if s.Email == "" {
			anonymous = append(anonymous, s)
			continue
		}
		key := strings.ToLower(s.Email)
		if prev, ok := byEmail[key]; !ok || s.LastHeartbeat.After(prev.LastHeartbeat) {
			byEmail[key] = s
		}
	}

	views := make([]SessionView, 0, len(byEmail)+len(anonymous))
	for _, s := range byEmail {
		views = append(views, viewOf(s))
	}
	for _, s := range anonymous {
		views = append(views, viewOf(s))
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Name < views[j].Name })

	return Message{Type: MsgSessionsList, Data: views}
}

func (r *Room) broadcastSessionsLocked() {
	r.broadcastLocked(r.sessionsMessageLocked())
}

func (r *Room) historyMessageLocked() Message {
	return Message{Type: MsgHistory, Data: r.history.Recent()}
}

func (r *Room) broadcastHistoryLocked() {
	r.broadcastLocked(r.historyMessageLocked())
}

// broadcastPlayTrackLocked announces the track that just became current,
// so clients can flip their now-playing view without diffing tracks_list.
func (r *Room) broadcastPlayTrackLocked() {
	if r.current == nil {
		return
	}
	c := *r.current
	c.IsFallback = r.currentIsFallback
	r.broadcastLocked(Message{Type: MsgPlayTrack, Data: &c})
}

func (r *Room) playHistoryMessageLocked() Message {
	return Message{Type: MsgPlayHistory, Data: r.history.Plays()}
}

func (r *Room) broadcastPlayHistoryLocked() {
	r.broadcastLocked(r.playHistoryMessageLocked())
}

// notifyActivate tells one session to activate a Spotify player.
func (r *Room) notifyActivate(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sendToLocked(sessionID, Message{Type: MsgProminentMessage, Data: NoticePayload{
		Message: "Open Spotify on a device and start playback once so we can control it.",
	}})
}
