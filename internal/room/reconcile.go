package room

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/jamsesh/jamsesh/internal/spotify"
)

// startLoop launches the reconciliation ticker. Idempotent: an already
// running loop is left alone.
func (r *Room) startLoop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loopCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.loopCancel = cancel
	go r.runLoop(ctx)
}

// stopLoop halts the ticker. Idempotent.
func (r *Room) stopLoop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loopCancel != nil {
		r.loopCancel()
		r.loopCancel = nil
	}
}

// restartLoop bounces the ticker so it picks up new conductor
// credentials.
func (r *Room) restartLoop() {
	r.stopLoop()
	r.startLoop()
}

// runLoop polls the conductor's real playback every tick. Overlapping
// ticks are prevented: a tick that outlives the interval simply absorbs
// the next firing.
func (r *Room) runLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick performs one reconciliation pass: read the conductor's playback,
// diff it against the room's intended state, and issue corrections.
// Transient provider errors are swallowed; the next tick retries.
func (r *Room) Tick(ctx context.Context) {
	r.mu.Lock()
	if r.tickBusy || r.mode != ModePlaying {
		r.mu.Unlock()
		return
	}
	c := r.conductorLocked()
	if c == nil || !c.HasToken() {
		r.mu.Unlock()
		return
	}
	r.tickBusy = true
	token := c.AccessToken
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.tickBusy = false
		r.mu.Unlock()
	}()

	pb, err := r.gw.CurrentPlayback(ctx, token)
	if err != nil {
		if r.cfg.Debug {
			log.Printf("reconcile: reading playback: %v", err)
		}
		if isUnauthorized(err) {
			r.refreshConductorEffect()(ctx)
		}
		return
	}

	r.mu.Lock()
	eff := r.applySnapshotLocked(pb)
	r.mu.Unlock()

	if eff != nil {
		eff(ctx)
	}
}

func isUnauthorized(err error) bool {
	return errors.Is(err, spotify.ErrUnauthorized)
}

// applySnapshotLocked is the reconciliation decision core. It mutates
// room state and returns at most one deferred provider effect.
func (r *Room) applySnapshotLocked(pb *spotify.Playback) effect {
	now := r.now()
	prev := r.lastSnapshot
	r.lastSnapshot = pb

	if r.cfg.Debug {
		log.Printf("reconcile: uri=%s progress=%d/%d playing=%v expected=%s",
			pb.URI, pb.ProgressMs, pb.DurationMs, pb.Playing, r.expectedURI)
	}

	// Failure watch: a nominated track must be observed playing within
	// the window, or we declare playback failure and renominate.
	if r.expectedURI != "" {
		if pb.URI == r.expectedURI && pb.Playing {
			return r.confirmNominationLocked(now)
		}
		if now.Sub(r.expectedSince) >= failureWindow {
			return r.playbackFailureLocked(now)
		}
		// Still transitioning; interpret nothing else this tick.
		return nil
	}

	// Observer-blind: private sessions and local files report no URI.
	// Neither advance nor correct on a signal we cannot attribute.
	if pb.URI == "" {
		return nil
	}

	// Keep the current track's progress fresh for broadcasts.
	if r.current != nil && pb.URI == r.current.URI {
		r.current.ProgressMs = pb.ProgressMs
		if pb.DurationMs > 0 {
			r.current.DurationMs = pb.DurationMs
		}
	}

	if r.trackEndedLocked(prev, pb) {
		return r.advanceLocked(now)
	}

	inGrace := r.inGraceLocked(now)

	// Drift: the conductor's player is on some other track.
	if !inGrace && r.current != nil && pb.URI != r.current.URI {
		if jumped := r.queue.FindUser(pb.URI); jumped != nil {
			return r.naturalAdvanceLocked(jumped, now)
		}
		// Command the player back to the intended track.
		r.lastChangeAt = now
		targets := r.playTargetsLocked()
		uri := r.current.URI
		return func(ctx context.Context) {
			r.playOn(ctx, targets, uri, 0)
		}
	}

	// Observed pause outside grace is user intent, unless the track is
	// simply over.
	if prev != nil && prev.Playing && !pb.Playing && !inGrace {
		if pb.DurationMs > 0 && pb.ProgressMs >= pb.DurationMs {
			return r.advanceLocked(now)
		}
		log.Printf("reconcile: conductor paused, room follows")
		r.mode = ModePaused
		r.broadcastModeLocked()
		return func(ctx context.Context) { r.stopLoop() }
	}

	// The loop stops while paused, so a resume on the conductor's player
	// is never observed here. Resuming the room is master_play only.
	return nil
}

// confirmNominationLocked fires when the provider confirms the expected
// track is playing: consume it from its queue tier and log the play.
func (r *Room) confirmNominationLocked(now time.Time) effect {
	r.expectedURI = ""
	if r.current == nil {
		return nil
	}

	if !r.currentConsumed {
		r.queue.ConsumeNext(r.currentIsFallback)
		r.currentConsumed = true
		r.persistQueueLocked()
		r.broadcastTracksLocked()
	}

	// A manual skip already logged track_skip; a second entry within its
	// grace window would be noise.
	if now.Sub(r.lastSkipAt) >= graceWindow {
		kind := EventTrackPlay
		if r.currentIsFallback {
			kind = EventFallbackPlay
		}
		r.history.Append(Event{
			Kind:      kind,
			Timestamp: now,
			Name:      r.current.SubmitterName,
			Email:     r.current.SubmitterEmail,
			Track:     r.current,
		})
		r.persistHistoryLocked()
		r.broadcastHistoryLocked()
	}
	return nil
}

// playbackFailureLocked fires when the nominated track never started:
// tell everyone, drop the current nomination, and try the next peek.
func (r *Room) playbackFailureLocked(now time.Time) effect {
	log.Printf("reconcile: playback of %s not confirmed within %s", r.expectedURI, failureWindow)
	r.expectedURI = ""
	r.current = nil
	r.broadcastLocked(Message{Type: MsgPlaybackError, Data: NoticePayload{
		Message: "Spotify did not start the track. Trying the next one.",
	}})

	next, isFallback := r.queue.PeekNext()
	if next == nil {
		r.mode = ModePaused
		r.broadcastModeLocked()
		return func(ctx context.Context) { r.stopLoop() }
	}
	return r.setAndStartLocked(next, isFallback)
}

// trackEndedLocked decides end-of-track from consecutive snapshots.
func (r *Room) trackEndedLocked(prev, pb *spotify.Playback) bool {
	// A player parked at (or past) full progress has finished regardless
	// of history.
	if pb.DurationMs > 0 && pb.ProgressMs >= pb.DurationMs {
		return true
	}
	if prev == nil || prev.DurationMs == 0 {
		return false
	}
	nearEnd := float64(prev.ProgressMs) > endProgressRatio*float64(prev.DurationMs)
	if !nearEnd {
		return false
	}
	if pb.URI == prev.URI && pb.ProgressMs == 0 {
		return true
	}
	return pb.URI != prev.URI
}

// advanceLocked moves to the next nominated track after the current one
// finished, or pauses the room when both tiers are empty.
func (r *Room) advanceLocked(now time.Time) effect {
	r.pushPlayHistoryLocked()

	next, isFallback := r.queue.PeekNext()
	if next == nil {
		r.current = nil
		r.expectedURI = ""
		r.mode = ModePaused
		r.broadcastTracksLocked()
		r.broadcastModeLocked()
		log.Printf("reconcile: queue exhausted, pausing")
		return func(ctx context.Context) { r.stopLoop() }
	}
	return r.setAndStartLocked(next, isFallback)
}

// naturalAdvanceLocked handles the conductor skipping ahead to a queued
// track on their own: splice it out and adopt it without commanding
// anything.
func (r *Room) naturalAdvanceLocked(jumped *Track, now time.Time) effect {
	log.Printf("reconcile: conductor advanced to queued track %s", jumped.URI)
	r.pushPlayHistoryLocked()

	r.queue.Remove(jumped.URI)
	r.current = jumped
	r.currentIsFallback = false
	r.currentConsumed = true
	r.expectedURI = ""
	r.lastChangeAt = now

	if now.Sub(r.lastSkipAt) >= graceWindow {
		r.history.Append(Event{
			Kind:      EventTrackPlay,
			Timestamp: now,
			Name:      jumped.SubmitterName,
			Email:     jumped.SubmitterEmail,
			Track:     jumped,
		})
		r.persistHistoryLocked()
		r.broadcastHistoryLocked()
	}

	r.persistQueueLocked()
	r.broadcastTracksLocked()
	r.broadcastModeLocked()
	r.broadcastPlayTrackLocked()

	// Followers still need to be moved to the new track.
	targets := r.followerTargetsLocked()
	uri := jumped.URI
	if len(targets) == 0 {
		return nil
	}
	return func(ctx context.Context) {
		r.playOn(ctx, targets, uri, 0)
	}
}

// followerTargetsLocked is playTargetsLocked without the conductor.
func (r *Room) followerTargetsLocked() []playTarget {
	var targets []playTarget
	for _, s := range r.sessions {
		if s.ID == r.conductorID || !s.HasToken() || s.FollowMode != FollowModeFollow {
			continue
		}
		targets = append(targets, playTarget{s.ID, s.AccessToken, false})
	}
	return targets
}
