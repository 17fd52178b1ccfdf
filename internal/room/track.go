// Package room implements the shared-listening room: the queue engine,
// session registry, history ledger, broadcast fabric, and the playback
// reconciliation loop. All room state is serialised behind one mutex.
package room

import (
	"strings"
	"time"

	"github.com/jamsesh/jamsesh/internal/spotify"
)

// FallbackEmail is the sentinel submitter for tracks sourced from the
// fallback playlist rather than a participant.
const FallbackEmail = "fallback@system"

// Track is one queued or playing song.
type Track struct {
	URI            string         `json:"uri"`
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Artist         string         `json:"artist"`
	Album          string         `json:"album"`
	AlbumArtURL    string         `json:"albumArtUrl,omitempty"`
	SubmitterName  string         `json:"submitterName,omitempty"`
	SubmitterEmail string         `json:"submitterEmail,omitempty"`
	SubmittedAt    time.Time      `json:"submittedAt"`
	JamCounts      map[string]int `json:"jamCounts,omitempty"`
	DurationMs     int            `json:"durationMs,omitempty"`
	ProgressMs     int            `json:"progressMs,omitempty"`
	// SpotifyName is the name of the source playlist for fallback tracks.
	SpotifyName string `json:"spotifyName,omitempty"`
	// IsFallback is set on display composition and on the current track.
	IsFallback bool `json:"isFallback,omitempty"`
}

// NewTrack builds a Track from provider metadata and a submitter.
func NewTrack(info spotify.TrackInfo, submitterName, submitterEmail string, now time.Time) *Track {
	return &Track{
		URI:            info.URI,
		ID:             info.ID,
		Name:           info.Name,
		Artist:         info.Artist,
		Album:          info.Album,
		AlbumArtURL:    info.AlbumArtURL,
		DurationMs:     info.DurationMs,
		SubmitterName:  submitterName,
		SubmitterEmail: submitterEmail,
		SubmittedAt:    now,
	}
}

// Jam records one jam from the given email. Returns the new count.
func (t *Track) Jam(email string) int {
	if t.JamCounts == nil {
		t.JamCounts = make(map[string]int)
	}
	t.JamCounts[strings.ToLower(email)]++
	return t.JamCounts[strings.ToLower(email)]
}

// Unjam removes one jam from the given email, deleting the entry at zero.
func (t *Track) Unjam(email string) {
	key := strings.ToLower(email)
	if t.JamCounts == nil || t.JamCounts[key] == 0 {
		return
	}
	t.JamCounts[key]--
	if t.JamCounts[key] <= 0 {
		delete(t.JamCounts, key)
	}
}

// TotalJams sums jams across all participants.
func (t *Track) TotalJams() int {
	total := 0
	for _, n := range t.JamCounts {
		total += n
	}
	return total
}

// submittedBy reports whether the track was submitted by the given email,
// case-insensitively.
func (t *Track) submittedBy(email string) bool {
	return t.SubmitterEmail != "" && strings.EqualFold(t.SubmitterEmail, email)
}
