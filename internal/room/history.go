package room

import "time"

// Ring limits: events kept on disk, events broadcast, and completed
// plays remembered.
const (
	maxHistoryEvents    = 500
	historyBroadcastLen = 100
	maxPlayHistory      = 100
)

// EventKind tags a history event.
type EventKind string

const (
	EventTrackAdded       EventKind = "track_added"
	EventTrackPlay        EventKind = "track_play"
	EventTrackSkip        EventKind = "track_skip"
	EventFallbackPlay     EventKind = "fallback_play"
	EventJam              EventKind = "jam"
	EventUnjam            EventKind = "unjam"
	EventAirhorn          EventKind = "airhorn"
	EventMessage          EventKind = "message"
	EventUserConnected    EventKind = "user_connected"
	EventUserDisconnected EventKind = "user_disconnected"
)

// Event is one append-only history record.
type Event struct {
	Kind      EventKind `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Name      string    `json:"name,omitempty"`
	Email     string    `json:"email,omitempty"`
	Track     *Track    `json:"track,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// Play is one completed playback for the play-history ring.
type Play struct {
	Timestamp time.Time `json:"timestamp"`
	Track     Track     `json:"track"`
	StartedBy string    `json:"startedBy,omitempty"`
}

// History is the append-only event ledger plus the play-history ring.
// Not safe for concurrent use; the Room serialises access.
type History struct {
	events []Event
	plays  []Play
}

// NewHistory returns an empty ledger.
func NewHistory() *History {
	return &History{}
}

// Append records an event, trimming the ledger to maxHistoryEvents.
func (h *History) Append(e Event) {
	h.events = append(h.events, e)
	if n := len(h.events) - maxHistoryEvents; n > 0 {
		h.events = h.events[n:]
	}
}

// Recent returns the most recent events, newest last, capped at
// historyBroadcastLen.
func (h *History) Recent() []Event {
	start := 0
	if len(h.events) > historyBroadcastLen {
		start = len(h.events) - historyBroadcastLen
	}
	out := make([]Event, len(h.events)-start)
	copy(out, h.events[start:])
	return out
}

// All returns every retained event, for persistence.
func (h *History) All() []Event {
	out := make([]Event, len(h.events))
	copy(out, h.events)
	return out
}

// Restore replaces the ledger contents, trimming to the ring size.
func (h *History) Restore(events []Event) {
	if n := len(events) - maxHistoryEvents; n > 0 {
		events = events[n:]
	}
	h.events = append([]Event(nil), events...)
}

// AddPlay records a completed play, trimming to maxPlayHistory.
func (h *History) AddPlay(p Play) {
	h.plays = append(h.plays, p)
	if n := len(h.plays) - maxPlayHistory; n > 0 {
		h.plays = h.plays[n:]
	}
}

// Plays returns the play history, oldest first.
func (h *History) Plays() []Play {
	out := make([]Play, len(h.plays))
	copy(out, h.plays)
	return out
}
