// Package store persists room state as JSON files in the data
// directory. Writes are atomic (temp file + rename) so a crash can lose
// the latest mutation but never corrupt a file.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jamsesh/jamsesh/internal/room"
)

const (
	queueFile    = "queue.json"
	sessionsFile = "sessions.json"
	historyFile  = "history.json"
)

// Store reads and writes the three state files.
type Store struct {
	dir string
}

// New creates a Store rooted at dir, creating it if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// SaveQueue persists the user queue.
func (s *Store) SaveQueue(tracks []*room.Track) error {
	return s.writeJSON(queueFile, tracks)
}

// SaveSessions persists the conductor-capable sessions. Transport
// handles are excluded by the Session type itself.
func (s *Store) SaveSessions(sessions []*room.Session) error {
	return s.writeJSON(sessionsFile, sessions)
}

// SaveHistory persists the trimmed event ledger.
func (s *Store) SaveHistory(events []room.Event) error {
	return s.writeJSON(historyFile, events)
}

// Load reads all three files. Missing files yield empty state; a
// malformed file is an error so the operator can decide what to do.
func (s *Store) Load() (room.LoadedState, error) {
	var st room.LoadedState
	if err := s.readJSON(sessionsFile, &st.Sessions); err != nil {
		return st, fmt.Errorf("loading sessions: %w", err)
	}
	if err := s.readJSON(queueFile, &st.Queue); err != nil {
		return st, fmt.Errorf("loading queue: %w", err)
	}
	if err := s.readJSON(historyFile, &st.History); err != nil {
		return st, fmt.Errorf("loading history: %w", err)
	}
	return st, nil
}

// writeJSON writes v to name atomically: marshal, write a temp file in
// the same directory, then rename over the target.
func (s *Store) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", name, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing %s: %w", name, err)
	}

	if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing %s: %w", name, err)
	}
	return nil
}

// readJSON decodes name into v. A missing file leaves v untouched.
func (s *Store) readJSON(name string, v any) error {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", name, err)
	}
	return nil
}
