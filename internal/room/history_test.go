package room

import (
	"fmt"
	"testing"
	"time"
)

func TestHistoryRingTrim(t *testing.T) {
	h := NewHistory()
	for i := 0; i < maxHistoryEvents+50; i++ {
		h.Append(Event{
			Kind:      EventMessage,
			Timestamp: time.Now(),
			Message:   fmt.Sprintf("m%d", i),
		})
	}

	all := h.All()
	if len(all) != maxHistoryEvents {
		t.Fatalf("ledger length = %d, want %d", len(all), maxHistoryEvents)
	}
	if all[0].Message != "m50" {
		t.Errorf("oldest retained = %q, want m50", all[0].Message)
	}
	if all[len(all)-1].Message != fmt.Sprintf("m%d", maxHistoryEvents+49) {
		t.Errorf("newest retained = %q", all[len(all)-1].Message)
	}

	recent := h.Recent()
	if len(recent) != historyBroadcastLen {
		t.Fatalf("Recent length = %d, want %d", len(recent), historyBroadcastLen)
	}
	if recent[len(recent)-1].Message != all[len(all)-1].Message {
		t.Error("Recent must end with the newest event")
	}
}

func TestPlayHistoryTrim(t *testing.T) {
	h := NewHistory()
	for i := 0; i < maxPlayHistory+10; i++ {
		h.AddPlay(Play{
			Timestamp: time.Now(),
			Track:     Track{Name: fmt.Sprintf("t%d", i)},
		})
	}

	plays := h.Plays()
	if len(plays) != maxPlayHistory {
		t.Fatalf("play history length = %d, want %d", len(plays), maxPlayHistory)
	}
	if plays[0].Track.Name != "t10" {
		t.Errorf("oldest retained play = %q, want t10", plays[0].Track.Name)
	}
}

func TestHistoryRestoreTrims(t *testing.T) {
	var events []Event
	for i := 0; i < maxHistoryEvents+20; i++ {
		events = append(events, Event{Kind: EventMessage, Message: fmt.Sprintf("m%d", i)})
	}

	h := NewHistory()
	h.Restore(events)
	if got := len(h.All()); got != maxHistoryEvents {
		t.Fatalf("restored length = %d, want %d", got, maxHistoryEvents)
	}
}

func TestTrackJams(t *testing.T) {
	track := &Track{Name: "x"}
	if n := track.Jam("A@x"); n != 1 {
		t.Fatalf("first jam count = %d", n)
	}
	if n := track.Jam("a@X"); n != 2 {
		t.Fatalf("jam keys should be case-insensitive, count = %d", n)
	}
	track.Jam("b@x")
	if track.TotalJams() != 3 {
		t.Fatalf("TotalJams = %d", track.TotalJams())
	}

	track.Unjam("a@x")
	track.Unjam("a@x")
	if _, ok := track.JamCounts["a@x"]; ok {
		t.Error("zeroed jam entry should be deleted")
	}
	// Unjam below zero is a no-op.
	track.Unjam("a@x")
	if track.TotalJams() != 1 {
		t.Fatalf("TotalJams = %d after unjams", track.TotalJams())
	}
}
