package room

import (
	"errors"
	"math/rand"
	"strings"
)

// displaySize is the number of tracks shown to clients: the user queue
// padded with fallback tracks up to this total.
const displaySize = 10

// ErrDuplicateTrack is returned when a URI is already in the user queue.
var ErrDuplicateTrack = errors.New("track already queued")

// Queue holds the two-tier track queue: user submissions ordered by fair
// insertion, and a shuffled fallback tier sourced from a playlist.
// It is not safe for concurrent use; the Room serialises access.
type Queue struct {
	user     []*Track
	fallback []*Track
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Add inserts a track into the user queue at its fair position.
// Returns ErrDuplicateTrack if the URI is already queued.
func (q *Queue) Add(t *Track) error {
	if q.FindUser(t.URI) != nil {
		return ErrDuplicateTrack
	}
	idx := q.fairIndex(t.SubmitterEmail)
	q.user = append(q.user, nil)
	copy(q.user[idx+1:], q.user[idx:])
	q.user[idx] = t
	return nil
}

// fairIndex computes the round-robin insertion point for a new track by
// the given submitter. Tracks without a submitter go to the end.
//
// The scan walks the queue counting, per submitter, how many of their
// tracks have been seen so far (their "round"). The new track lands just
// after the last position whose round does not exceed the new track's
// round, and never before the submitter's own last track.
func (q *Queue) fairIndex(email string) int {
	if email == "" {
		return len(q.user)
	}

	newRound := q.countFor(email) + 1
	lastUserIdx := -1
	boundaryIdx := -1
	roundsSeen := make(map[string]int)

	for i, t := range q.user {
		e := strings.ToLower(t.SubmitterEmail)
		roundsSeen[e]++
		if roundsSeen[e] <= newRound {
			boundaryIdx = i
		}
		if t.submittedBy(email) {
			lastUserIdx = i
		}
	}

	return max(lastUserIdx+1, boundaryIdx+1)
}

// countFor returns how many user-queue tracks the email already has.
func (q *Queue) countFor(email string) int {
	n := 0
	for _, t := range q.user {
		if t.submittedBy(email) {
			n++
		}
	}
	return n
}

// Remove deletes a track from the user queue by URI.
// Returns the removed track, or nil if absent.
func (q *Queue) Remove(uri string) *Track {
	for i, t := range q.user {
		if t.URI == uri {
			q.user = append(q.user[:i], q.user[i+1:]...)
			return t
		}
	}
	return nil
}

// RemoveFallback deletes a track from the fallback queue by URI.
// Returns the removed track, or nil if absent.
func (q *Queue) RemoveFallback(uri string) *Track {
	for i, t := range q.fallback {
		if t.URI == uri {
			q.fallback = append(q.fallback[:i], q.fallback[i+1:]...)
			return t
		}
	}
	return nil
}

// DelayOne swaps a user-queue track with its immediate successor.
// A no-op when the track is last or absent.
func (q *Queue) DelayOne(uri string) {
	for i, t := range q.user {
		if t.URI == uri {
			if i+1 < len(q.user) {
				q.user[i], q.user[i+1] = q.user[i+1], q.user[i]
			}
			return
		}
	}
}

// FindUser returns the user-queue track with the given URI, or nil.
func (q *Queue) FindUser(uri string) *Track {
	for _, t := range q.user {
		if t.URI == uri {
			return t
		}
	}
	return nil
}

// FindFallback returns the fallback-queue track with the given URI, or nil.
func (q *Queue) FindFallback(uri string) *Track {
	for _, t := range q.fallback {
		if t.URI == uri {
			return t
		}
	}
	return nil
}

// PeekNext nominates the next track without removing it: the head of the
// user queue, else the head of the fallback queue, else nil. The track
// stays queued until ConsumeNext so a failed playback command cannot
// lose it.
func (q *Queue) PeekNext() (t *Track, isFallback bool) {
	if len(q.user) > 0 {
		return q.user[0], false
	}
	if len(q.fallback) > 0 {
		return q.fallback[0], true
	}
	return nil, false
}

// ConsumeNext removes the head of the chosen tier, returning it.
func (q *Queue) ConsumeNext(isFallback bool) *Track {
	if isFallback {
		if len(q.fallback) == 0 {
			return nil
		}
		t := q.fallback[0]
		q.fallback = q.fallback[1:]
		return t
	}
	if len(q.user) == 0 {
		return nil
	}
	t := q.user[0]
	q.user = q.user[1:]
	return t
}

// SetFallback replaces the fallback tier with a shuffled copy of tracks.
func (q *Queue) SetFallback(tracks []*Track) {
	shuffled := make([]*Track, len(tracks))
	copy(shuffled, tracks)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	q.fallback = shuffled
}

// restoreUser replaces the user tier preserving persisted order,
// dropping any duplicate URIs.
func (q *Queue) restoreUser(tracks []*Track) {
	q.user = q.user[:0]
	seen := make(map[string]bool)
	for _, t := range tracks {
		if t == nil || seen[t.URI] {
			continue
		}
		seen[t.URI] = true
		q.user = append(q.user, t)
	}
}

// setFallbackOrdered replaces the fallback tier without shuffling.
// Used when restoring persisted state and in tests.
func (q *Queue) setFallbackOrdered(tracks []*Track) {
	q.fallback = tracks
}

// UserTracks returns the user queue in order. The slice is a copy; the
// tracks are shared.
func (q *Queue) UserTracks() []*Track {
	out := make([]*Track, len(q.user))
	copy(out, q.user)
	return out
}

// UserLen returns the user-queue length.
func (q *Queue) UserLen() int { return len(q.user) }

// FallbackLen returns the fallback-queue length.
func (q *Queue) FallbackLen() int { return len(q.fallback) }

// Display composes the client-facing tracks list: the full user queue
// first, then fallback tracks padding the total to displaySize. Entries
// are value copies with IsFallback tagged, so broadcast payloads cannot
// alias queue state.
func (q *Queue) Display() []Track {
	out := make([]Track, 0, displaySize)
	for _, t := range q.user {
		c := *t
		c.IsFallback = false
		out = append(out, c)
	}
	for _, t := range q.fallback {
		if len(out) >= displaySize {
			break
		}
		c := *t
		c.IsFallback = true
		out = append(out, c)
	}
	return out
}
