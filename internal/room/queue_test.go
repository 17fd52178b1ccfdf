package room

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func queuedTrack(name, email string) *Track {
	return &Track{
		URI:            "spotify:track:" + name,
		ID:             name,
		Name:           name,
		SubmitterName:  email,
		SubmitterEmail: email,
		SubmittedAt:    time.Now(),
	}
}

func queueNames(tracks []*Track) []string {
	names := make([]string, len(tracks))
	for i, t := range tracks {
		names[i] = t.Name
	}
	return names
}

func assertOrder(t *testing.T, q *Queue, want ...string) {
	t.Helper()
	got := queueNames(q.UserTracks())
	if len(got) != len(want) {
		t.Fatalf("queue = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("queue = %v, want %v", got, want)
		}
	}
}

func TestFairInsertion(t *testing.T) {
	t.Run("two users interleaved, third joins mid-queue", func(t *testing.T) {
		q := NewQueue()
		for _, pair := range [][2]string{
			{"A1", "u1@x"}, {"B1", "u2@x"}, {"A2", "u1@x"}, {"B2", "u2@x"}, {"A3", "u1@x"},
		} {
			if err := q.Add(queuedTrack(pair[0], pair[1])); err != nil {
				t.Fatalf("Add(%s): %v", pair[0], err)
			}
		}
		assertOrder(t, q, "A1", "B1", "A2", "B2", "A3")

		if err := q.Add(queuedTrack("C1", "u3@x")); err != nil {
			t.Fatalf("Add(C1): %v", err)
		}
		assertOrder(t, q, "A1", "B1", "C1", "A2", "B2", "A3")

		if err := q.Add(queuedTrack("C2", "u3@x")); err != nil {
			t.Fatalf("Add(C2): %v", err)
		}
		assertOrder(t, q, "A1", "B1", "C1", "A2", "B2", "C2", "A3")
	})

	t.Run("five then one", func(t *testing.T) {
		q := NewQueue()
		for _, name := range []string{"A", "B", "C", "D", "E"} {
			if err := q.Add(queuedTrack(name, "u1@x")); err != nil {
				t.Fatalf("Add(%s): %v", name, err)
			}
		}
		if err := q.Add(queuedTrack("F", "u2@x")); err != nil {
			t.Fatalf("Add(F): %v", err)
		}
		assertOrder(t, q, "A", "F", "B", "C", "D", "E")
	})

	t.Run("no submitter appends to end", func(t *testing.T) {
		q := NewQueue()
		_ = q.Add(queuedTrack("A", "u1@x"))
		_ = q.Add(queuedTrack("B", "u2@x"))
		anon := queuedTrack("X", "")
		if err := q.Add(anon); err != nil {
			t.Fatalf("Add(X): %v", err)
		}
		assertOrder(t, q, "A", "B", "X")
	})

	t.Run("submitter emails compare case-insensitively", func(t *testing.T) {
		q := NewQueue()
		_ = q.Add(queuedTrack("A1", "U1@X"))
		_ = q.Add(queuedTrack("B1", "u2@x"))
		_ = q.Add(queuedTrack("A2", "u1@x"))
		// u1 already has two tracks, so the next u1 track must not jump B1.
		assertOrder(t, q, "A1", "B1", "A2")
	})

	t.Run("own submissions keep internal order", func(t *testing.T) {
		q := NewQueue()
		for i := 1; i <= 4; i++ {
			_ = q.Add(queuedTrack(fmt.Sprintf("A%d", i), "u1@x"))
		}
		assertOrder(t, q, "A1", "A2", "A3", "A4")
	})
}

func TestFairInsertionRoundProperty(t *testing.T) {
	// For users A and B each holding k tracks, B's (k+1)th submission
	// sits after A's (k+1)th track and before A's (k+2)th.
	q := NewQueue()
	for i := 1; i <= 3; i++ {
		_ = q.Add(queuedTrack(fmt.Sprintf("A%d", i), "a@x"))
		_ = q.Add(queuedTrack(fmt.Sprintf("B%d", i), "b@x"))
	}
	_ = q.Add(queuedTrack("A4", "a@x"))
	_ = q.Add(queuedTrack("B4", "b@x"))
	assertOrder(t, q, "A1", "B1", "A2", "B2", "A3", "B3", "A4", "B4")
}

func TestQueueDuplicate(t *testing.T) {
	q := NewQueue()
	track := queuedTrack("A", "u1@x")
	if err := q.Add(track); err != nil {
		t.Fatalf("Add: %v", err)
	}
	dup := queuedTrack("A", "u2@x")
	if err := q.Add(dup); !errors.Is(err, ErrDuplicateTrack) {
		t.Fatalf("Add duplicate = %v, want ErrDuplicateTrack", err)
	}
	if q.UserLen() != 1 {
		t.Fatalf("UserLen = %d after rejected duplicate", q.UserLen())
	}
}

func TestQueueRemoveRestoresState(t *testing.T) {
	q := NewQueue()
	_ = q.Add(queuedTrack("A", "u1@x"))
	track := queuedTrack("B", "u2@x")
	_ = q.Add(track)
	removed := q.Remove(track.URI)
	if removed != track {
		t.Fatalf("Remove returned %v", removed)
	}
	assertOrder(t, q, "A")
	if q.Remove("spotify:track:nope") != nil {
		t.Fatal("Remove of absent URI should return nil")
	}
}

func TestDelayOne(t *testing.T) {
	q := NewQueue()
	_ = q.Add(queuedTrack("A", "u1@x"))
	_ = q.Add(queuedTrack("B", "u2@x"))
	_ = q.Add(queuedTrack("C", "u3@x"))

	q.DelayOne("spotify:track:B")
	assertOrder(t, q, "A", "C", "B")

	// Last element is a no-op.
	q.DelayOne("spotify:track:B")
	assertOrder(t, q, "A", "C", "B")

	// Unknown URI is a no-op.
	q.DelayOne("spotify:track:nope")
	assertOrder(t, q, "A", "C", "B")
}

func TestPeekConsume(t *testing.T) {
	q := NewQueue()
	_ = q.Add(queuedTrack("A", "u1@x"))
	q.setFallbackOrdered([]*Track{queuedTrack("F1", FallbackEmail), queuedTrack("F2", FallbackEmail)})

	head, isFallback := q.PeekNext()
	if head.Name != "A" || isFallback {
		t.Fatalf("PeekNext = %v fallback=%v", head, isFallback)
	}

	// Peek is stable without intervening mutation.
	again, _ := q.PeekNext()
	if again != head {
		t.Fatal("PeekNext not stable")
	}

	consumed := q.ConsumeNext(false)
	if consumed != head {
		t.Fatalf("ConsumeNext returned %v, want peeked head", consumed)
	}
	if q.UserLen() != 0 {
		t.Fatalf("UserLen = %d after consume", q.UserLen())
	}

	// User tier empty: peek falls through to fallback.
	head, isFallback = q.PeekNext()
	if head.Name != "F1" || !isFallback {
		t.Fatalf("PeekNext = %v fallback=%v, want F1 from fallback", head, isFallback)
	}
	if got := q.ConsumeNext(true); got != head {
		t.Fatalf("ConsumeNext(fallback) = %v", got)
	}
	if q.FallbackLen() != 1 {
		t.Fatalf("FallbackLen = %d", q.FallbackLen())
	}
}

func TestPeekEmpty(t *testing.T) {
	q := NewQueue()
	if head, _ := q.PeekNext(); head != nil {
		t.Fatalf("PeekNext on empty queue = %v", head)
	}
	if q.ConsumeNext(false) != nil || q.ConsumeNext(true) != nil {
		t.Fatal("ConsumeNext on empty queue should return nil")
	}
}

func TestDisplayComposition(t *testing.T) {
	q := NewQueue()
	_ = q.Add(queuedTrack("A", "u1@x"))
	_ = q.Add(queuedTrack("B", "u2@x"))

	var fallback []*Track
	for i := 0; i < 12; i++ {
		fb := queuedTrack(fmt.Sprintf("F%d", i), FallbackEmail)
		fallback = append(fallback, fb)
	}
	q.setFallbackOrdered(fallback)

	display := q.Display()
	if len(display) != displaySize {
		t.Fatalf("Display length = %d, want %d", len(display), displaySize)
	}
	if display[0].Name != "A" || display[0].IsFallback {
		t.Fatalf("display[0] = %+v", display[0])
	}
	if display[1].Name != "B" || display[1].IsFallback {
		t.Fatalf("display[1] = %+v", display[1])
	}
	for i := 2; i < displaySize; i++ {
		if !display[i].IsFallback {
			t.Fatalf("display[%d] should be fallback", i)
		}
	}
}

func TestDisplayLongUserQueue(t *testing.T) {
	q := NewQueue()
	for i := 0; i < 15; i++ {
		_ = q.Add(queuedTrack(fmt.Sprintf("T%d", i), fmt.Sprintf("u%d@x", i)))
	}
	q.setFallbackOrdered([]*Track{queuedTrack("F", FallbackEmail)})

	display := q.Display()
	if len(display) != 15 {
		t.Fatalf("Display length = %d, want all 15 user tracks", len(display))
	}
	for _, d := range display {
		if d.IsFallback {
			t.Fatalf("no fallback entries expected, got %+v", d)
		}
	}
}

func TestSetFallbackShuffles(t *testing.T) {
	var tracks []*Track
	for i := 0; i < 50; i++ {
		tracks = append(tracks, queuedTrack(fmt.Sprintf("F%d", i), FallbackEmail))
	}

	q := NewQueue()
	q.SetFallback(tracks)
	if q.FallbackLen() != 50 {
		t.Fatalf("FallbackLen = %d", q.FallbackLen())
	}

	// The input slice must not be reordered in place.
	for i, tr := range tracks {
		if tr.Name != fmt.Sprintf("F%d", i) {
			t.Fatal("SetFallback mutated its input")
		}
	}
}
