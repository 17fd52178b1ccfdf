package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jamsesh/jamsesh/internal/room"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestQueueRoundTrip(t *testing.T) {
	s := newTestStore(t)

	submitted := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tracks := []*room.Track{
		{
			URI:            "spotify:track:aaaaaaaaaaaaaaaaaaaaaa",
			ID:             "aaaaaaaaaaaaaaaaaaaaaa",
			Name:           "First",
			Artist:         "Artist A, Artist B",
			Album:          "Album",
			SubmitterName:  "User One",
			SubmitterEmail: "u1@x",
			SubmittedAt:    submitted,
			JamCounts:      map[string]int{"u2@x": 2},
			DurationMs:     200000,
		},
		{
			URI:            "spotify:track:bbbbbbbbbbbbbbbbbbbbbb",
			ID:             "bbbbbbbbbbbbbbbbbbbbbb",
			Name:           "Second",
			SubmitterName:  "User Two",
			SubmitterEmail: "u2@x",
			SubmittedAt:    submitted,
		},
	}

	if err := s.SaveQueue(tracks); err != nil {
		t.Fatalf("SaveQueue: %v", err)
	}

	st, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(st.Queue) != 2 {
		t.Fatalf("loaded %d tracks, want 2", len(st.Queue))
	}
	got := st.Queue[0]
	if got.URI != tracks[0].URI || got.Name != "First" || got.Artist != "Artist A, Artist B" {
		t.Errorf("first track = %+v", got)
	}
	if got.JamCounts["u2@x"] != 2 {
		t.Errorf("jam counts lost: %v", got.JamCounts)
	}
	if !got.SubmittedAt.Equal(submitted) {
		t.Errorf("SubmittedAt = %v", got.SubmittedAt)
	}
	if st.Queue[1].Name != "Second" {
		t.Errorf("queue order not preserved: %v", st.Queue[1])
	}
}

func TestSessionsRoundTripOmitsTransport(t *testing.T) {
	s := newTestStore(t)

	sessions := []*room.Session{
		{
			ID:           "sid-1",
			Name:         "Conductor",
			Email:        "c@x",
			AccessToken:  "at",
			RefreshToken: "rt",
			TokenExpiry:  time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC),
			FollowMode:   room.FollowModeFollow,
		},
	}
	if err := s.SaveSessions(sessions); err != nil {
		t.Fatalf("SaveSessions: %v", err)
	}

	st, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(st.Sessions) != 1 {
		t.Fatalf("loaded %d sessions, want 1", len(st.Sessions))
	}
	got := st.Sessions[0]
	if got.ID != "sid-1" || got.RefreshToken != "rt" || got.Email != "c@x" {
		t.Errorf("session = %+v", got)
	}
	if got.Transport != nil {
		t.Error("transport must never be persisted")
	}
}

func TestHistoryRoundTrip(t *testing.T) {
	s := newTestStore(t)

	events := []room.Event{
		{Kind: room.EventTrackAdded, Timestamp: time.Now().UTC(), Name: "u", Email: "u@x",
			Track: &room.Track{URI: "spotify:track:cccccccccccccccccccccc", Name: "T"}},
		{Kind: room.EventMessage, Timestamp: time.Now().UTC(), Name: "u", Message: "hello"},
	}
	if err := s.SaveHistory(events); err != nil {
		t.Fatalf("SaveHistory: %v", err)
	}

	st, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(st.History) != 2 {
		t.Fatalf("loaded %d events, want 2", len(st.History))
	}
	if st.History[0].Kind != room.EventTrackAdded || st.History[0].Track.Name != "T" {
		t.Errorf("event[0] = %+v", st.History[0])
	}
	if st.History[1].Message != "hello" {
		t.Errorf("event[1] = %+v", st.History[1])
	}
}

func TestLoadMissingFilesYieldsEmptyState(t *testing.T) {
	s := newTestStore(t)

	st, err := s.Load()
	if err != nil {
		t.Fatalf("Load on empty dir: %v", err)
	}
	if len(st.Queue) != 0 || len(st.Sessions) != 0 || len(st.History) != 0 {
		t.Errorf("expected empty state, got %+v", st)
	}
}

func TestLoadMalformedFileFails(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "queue.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := s.Load(); err == nil {
		t.Fatal("Load should fail on a malformed file")
	}
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.SaveQueue(nil); err != nil {
		t.Fatalf("SaveQueue: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "queue.json" {
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		t.Errorf("directory contents = %v, want only queue.json", names)
	}
}
