package room

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jamsesh/jamsesh/internal/spotify"
)

// Airhorns is the fixed set of airhorn samples clients may trigger.
var Airhorns = []string{"classic", "dj", "triple", "reggaeton", "sadtrombone"}

// randomLikedCount is how many liked songs master-random-liked pulls in.
const randomLikedCount = 5

// CreateListenerSession registers an identity-only participant and
// returns the new session id.
func (r *Room) CreateListenerSession(name, email string) (string, error) {
	if name == "" || email == "" {
		return "", fmt.Errorf("%w: listener needs a name and an email", ErrInvalidSession)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s := &Session{
		ID:            newSessionID(),
		Name:          name,
		Email:         email,
		FollowMode:    FollowModePaused,
		LastHeartbeat: r.now(),
	}
	r.sessions[s.ID] = s
	return s.ID, nil
}

// CreateOAuthSession mints an empty session to anchor an OAuth round
// trip. Its id doubles as the state parameter.
func (r *Room) CreateOAuthSession() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := &Session{
		ID:            newSessionID(),
		FollowMode:    FollowModeFollow,
		LastHeartbeat: r.now(),
	}
	r.sessions[s.ID] = s
	return s.ID
}

// CompleteOAuth populates a session with the provider identity and
// tokens obtained from the authorization-code grant.
func (r *Room) CompleteOAuth(sessionID, name, email, accessToken, refreshToken string, expiry time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.sessions[sessionID]
	if s == nil {
		return ErrInvalidSession
	}
	s.Name = name
	s.Email = email
	s.AccessToken = accessToken
	s.RefreshToken = refreshToken
	s.TokenExpiry = expiry
	s.LastHeartbeat = r.now()
	r.persistSessionsLocked()
	return nil
}

// Login attaches a transport to a session: validates identity, evicts
// duplicate identities, assigns the conductor if vacant, and sends the
// initial state snapshots to the caller.
func (r *Room) Login(ctx context.Context, sessionID string, t Transport) error {
	r.mu.Lock()

	s := r.sessions[sessionID]
	if s == nil || !s.LoggedIn() {
		r.mu.Unlock()
		return ErrInvalidSession
	}

	firstAttach := s.Transport == nil
	s.Transport = t
	s.LastHeartbeat = r.now()

	// De-duplication by identity: any other session with this email is
	// evicted. The conductor role follows the identity when the new
	// session can actually conduct.
	restartLoop := false
	if dup := r.findByEmailLocked(s.Email, s.ID); dup != nil {
		wasConductor := r.conductorID == dup.ID
		log.Printf("room: evicting duplicate session %s for %s", dup.ID, s.Email)
		r.evictLocked(dup)
		if wasConductor && s.HasToken() {
			r.conductorID = s.ID
			restartLoop = r.mode == ModePlaying
		}
	}

	adoptEffect := r.ensureConductorLocked()

	// Initial snapshots go to the caller only.
	t.Send(Message{Type: MsgLoginSuccess, Data: map[string]string{"sessionId": s.ID}})
	t.Send(r.tracksMessageLocked())
	t.Send(r.modeMessageForLocked(s))
	t.Send(r.sessionModeMessage(s))
	t.Send(r.sessionsMessageLocked())
	t.Send(r.historyMessageLocked())
	t.Send(r.playHistoryMessageLocked())

	if firstAttach {
		r.history.Append(Event{
			Kind:      EventUserConnected,
			Timestamp: r.now(),
			Name:      s.Name,
			Email:     s.Email,
		})
		r.persistHistoryLocked()
		r.broadcastHistoryLocked()
	}
	r.persistSessionsLocked()
	r.broadcastSessionsLocked()
	r.mu.Unlock()

	if adoptEffect != nil {
		adoptEffect(ctx)
	}
	if restartLoop {
		r.restartLoop()
	}
	return nil
}

// DetachTransport clears the session's transport if it still points at
// the given one. The session itself survives until the stale sweep.
func (r *Room) DetachTransport(sessionID string, t Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s := r.sessions[sessionID]; s != nil && s.Transport == t {
		s.Transport = nil
		r.broadcastSessionsLocked()
	}
}

// Heartbeat refreshes a session's liveness timestamp.
func (r *Room) Heartbeat(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s := r.sessions[sessionID]; s != nil {
		s.LastHeartbeat = r.now()
	}
}

// SendTracks, SendSessions, and SendPlayHistory answer the get_*
// request kinds, responding to the caller only.
func (r *Room) SendTracks(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sendToLocked(sessionID, r.tracksMessageLocked())
}

func (r *Room) SendSessions(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sendToLocked(sessionID, r.sessionsMessageLocked())
}

func (r *Room) SendPlayHistory(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sendToLocked(sessionID, r.playHistoryMessageLocked())
}

// SubmitTrack parses a provider reference and either fair-inserts a
// track or replaces the fallback playlist. Metadata is fetched with the
// conductor's credentials.
func (r *Room) SubmitTrack(ctx context.Context, sessionID, input string) error {
	r.mu.Lock()
	s := r.sessions[sessionID]
	if s == nil {
		r.mu.Unlock()
		return ErrInvalidSession
	}
	token := r.conductorTokenLocked()
	if token == "" && s.HasToken() {
		token = s.AccessToken
	}
	name, email := s.Name, s.Email
	r.mu.Unlock()

	res, err := spotify.Parse(input)
	if err != nil {
		return err
	}
	if token == "" {
		return ErrNoConductor
	}

	switch res.Kind {
	case spotify.KindTrack:
		info, err := r.gw.TrackInfo(ctx, token, res.ID)
		if err != nil {
			return fmt.Errorf("looking up track: %w", err)
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		track := NewTrack(info, name, email, r.now())
		if err := r.queue.Add(track); err != nil {
			return err
		}
		r.history.Append(Event{
			Kind:      EventTrackAdded,
			Timestamp: r.now(),
			Name:      name,
			Email:     email,
			Track:     track,
		})
		r.persistQueueLocked()
		r.persistHistoryLocked()
		r.broadcastTracksLocked()
		r.broadcastHistoryLocked()
		return nil

	case spotify.KindPlaylist:
		if err := r.replaceFallback(ctx, token, res.ID); err != nil {
			return fmt.Errorf("replacing fallback playlist: %w", err)
		}
		return nil

	default:
		return fmt.Errorf("%w: %s links cannot be queued", spotify.ErrInvalidInput, res.Kind)
	}
}

// RemoveTrack deletes a track from the user queue by URI.
func (r *Room) RemoveTrack(sessionID, uri string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.queue.Remove(uri) == nil {
		return
	}
	r.persistQueueLocked()
	r.broadcastTracksLocked()
}

// DelayTrack swaps a user-queue track with its successor.
func (r *Room) DelayTrack(uri string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.queue.DelayOne(uri)
	r.persistQueueLocked()
	r.broadcastTracksLocked()
}

// JamTrack records a jam (or unjam) on the referenced track. Jamming a
// fallback track that is not currently playing promotes it into the
// user queue as if the jammer had submitted it. Jamming the currently
// playing track is always a plain jam, fallback or not.
func (r *Room) JamTrack(sessionID, uri string, unjam bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.sessions[sessionID]
	if s == nil {
		return ErrInvalidSession
	}
	now := r.now()

	var target *Track
	switch {
	case r.current != nil && r.current.URI == uri:
		target = r.current
	case r.queue.FindUser(uri) != nil:
		target = r.queue.FindUser(uri)
	default:
		fb := r.queue.FindFallback(uri)
		if fb == nil {
			return fmt.Errorf("no such track: %s", uri)
		}
		if unjam {
			return nil
		}
		// Promote: the fallback track becomes the jammer's submission.
		r.queue.RemoveFallback(uri)
		promoted := &Track{
			URI:            fb.URI,
			ID:             fb.ID,
			Name:           fb.Name,
			Artist:         fb.Artist,
			Album:          fb.Album,
			AlbumArtURL:    fb.AlbumArtURL,
			DurationMs:     fb.DurationMs,
			SubmitterName:  s.Name,
			SubmitterEmail: s.Email,
			SubmittedAt:    now,
		}
		promoted.Jam(s.Email)
		if err := r.queue.Add(promoted); err != nil {
			return err
		}
		r.history.Append(Event{Kind: EventJam, Timestamp: now, Name: s.Name, Email: s.Email, Track: promoted})
		r.persistQueueLocked()
		r.persistHistoryLocked()
		r.broadcastTracksLocked()
		r.broadcastHistoryLocked()
		return nil
	}

	kind := EventJam
	if unjam {
		target.Unjam(s.Email)
		kind = EventUnjam
	} else {
		target.Jam(s.Email)
	}
	r.history.Append(Event{Kind: kind, Timestamp: now, Name: s.Name, Email: s.Email, Track: target})
	r.persistQueueLocked()
	r.persistHistoryLocked()
	r.broadcastTracksLocked()
	if target == r.current {
		r.broadcastModeLocked()
	}
	r.broadcastHistoryLocked()
	return nil
}

// playTarget is one playback command destination.
type playTarget struct {
	sessionID string
	token     string
	conductor bool
}

// playTargetsLocked collects the conductor plus every follower that can
// receive playback commands.
func (r *Room) playTargetsLocked() []playTarget {
	var targets []playTarget
	if c := r.conductorLocked(); c != nil && c.HasToken() {
		targets = append(targets, playTarget{c.ID, c.AccessToken, true})
	}
	for _, s := range r.sessions {
		if s.ID == r.conductorID || !s.HasToken() || s.FollowMode != FollowModeFollow {
			continue
		}
		targets = append(targets, playTarget{s.ID, s.AccessToken, false})
	}
	return targets
}

// playOn commands playback of a URI on every target in parallel.
// Per-target failures are isolated: a follower without an active device
// gets the activation notice, an expired conductor token triggers a
// refresh, everything else is logged.
func (r *Room) playOn(ctx context.Context, targets []playTarget, uri string, positionMs int) {
	var wg sync.WaitGroup
	for _, tg := range targets {
		wg.Add(1)
		go func(tg playTarget) {
			defer wg.Done()
			err := r.gw.Play(ctx, tg.token, []string{uri}, positionMs)
			switch {
			case err == nil:
			case errors.Is(err, spotify.ErrNoActiveDevice):
				r.notifyActivate(tg.sessionID)
			case errors.Is(err, spotify.ErrUnauthorized) && tg.conductor:
				r.refreshConductorEffect()(ctx)
			default:
				log.Printf("room: play %s on session %s: %v", uri, tg.sessionID, err)
			}
		}(tg)
	}
	wg.Wait()
}

// pauseOn commands pause on every target in parallel.
func (r *Room) pauseOn(ctx context.Context, targets []playTarget) {
	var wg sync.WaitGroup
	for _, tg := range targets {
		wg.Add(1)
		go func(tg playTarget) {
			defer wg.Done()
			if err := r.gw.Pause(ctx, tg.token); err != nil && !errors.Is(err, spotify.ErrNoActiveDevice) {
				log.Printf("room: pause on session %s: %v", tg.sessionID, err)
			}
		}(tg)
	}
	wg.Wait()
}

// setAndStartLocked adopts a peeked track as current, arms the failure
// watch, and returns the effect that commands playback on the conductor
// and all followers. The track is NOT consumed from its queue tier until
// the loop observes it actually playing.
func (r *Room) setAndStartLocked(track *Track, isFallback bool) effect {
	now := r.now()
	r.current = track
	r.currentIsFallback = isFallback
	r.currentConsumed = false
	r.expectedURI = track.URI
	r.expectedSince = now
	r.lastChangeAt = now

	targets := r.playTargetsLocked()
	uri := track.URI
	r.broadcastTracksLocked()
	r.broadcastModeLocked()
	r.broadcastPlayTrackLocked()

	return func(ctx context.Context) {
		r.playOn(ctx, targets, uri, 0)
	}
}

// pushPlayHistoryLocked records the outgoing current track as a
// completed play.
func (r *Room) pushPlayHistoryLocked() {
	if r.current == nil {
		return
	}
	r.history.AddPlay(Play{
		Timestamp: r.now(),
		Track:     *r.current,
		StartedBy: r.current.SubmitterName,
	})
	r.broadcastPlayHistoryLocked()
}

// MasterPlay switches the room to playing. Conductor only.
func (r *Room) MasterPlay(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	if err := r.requireConductorLocked(sessionID); err != nil {
		r.mu.Unlock()
		return err
	}
	if r.mode == ModePlaying {
		r.mu.Unlock()
		return nil
	}

	var eff effect
	if r.current == nil {
		next, isFallback := r.queue.PeekNext()
		if next == nil {
			r.mu.Unlock()
			return errors.New("nothing to play")
		}
		r.mode = ModePlaying
		eff = r.setAndStartLocked(next, isFallback)
	} else {
		r.mode = ModePlaying
		r.lastChangeAt = r.now()
		targets := r.playTargetsLocked()
		uri, pos := r.current.URI, r.current.ProgressMs
		eff = func(ctx context.Context) { r.playOn(ctx, targets, uri, pos) }
	}
	r.broadcastModeLocked()
	r.mu.Unlock()

	eff(ctx)
	r.startLoop()
	return nil
}

// MasterPause switches the room to paused and stops the loop. Conductor
// only.
func (r *Room) MasterPause(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	if err := r.requireConductorLocked(sessionID); err != nil {
		r.mu.Unlock()
		return err
	}
	r.mode = ModePaused
	targets := r.playTargetsLocked()
	r.broadcastModeLocked()
	r.mu.Unlock()

	r.stopLoop()
	r.pauseOn(ctx, targets)
	return nil
}

// MasterSkip abandons the current track and starts the next nominated
// one. Conductor only.
func (r *Room) MasterSkip(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	if err := r.requireConductorLocked(sessionID); err != nil {
		r.mu.Unlock()
		return err
	}

	s := r.sessions[sessionID]
	now := r.now()
	r.lastSkipAt = now
	r.pushPlayHistoryLocked()
	r.history.Append(Event{
		Kind:      EventTrackSkip,
		Timestamp: now,
		Name:      s.Name,
		Email:     s.Email,
		Track:     r.current,
	})

	// A skipped nomination must not be re-peeked.
	if r.current != nil && !r.currentConsumed {
		r.queue.ConsumeNext(r.currentIsFallback)
		r.currentConsumed = true
	}

	var eff effect
	stopLoop := false
	if next, isFallback := r.queue.PeekNext(); next != nil {
		eff = r.setAndStartLocked(next, isFallback)
	} else {
		r.current = nil
		r.expectedURI = ""
		r.mode = ModePaused
		stopLoop = true
		r.broadcastTracksLocked()
		r.broadcastModeLocked()
	}
	r.persistQueueLocked()
	r.persistHistoryLocked()
	r.broadcastHistoryLocked()
	r.mu.Unlock()

	if stopLoop {
		r.stopLoop()
	}
	if eff != nil {
		eff(ctx)
	}
	return nil
}

// StartFallback force-nominates the head of the fallback queue and
// starts playing it.
func (r *Room) StartFallback(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	if s := r.sessions[sessionID]; s == nil {
		r.mu.Unlock()
		return ErrInvalidSession
	}
	if r.queue.FallbackLen() == 0 {
		r.mu.Unlock()
		return errors.New("fallback queue is empty")
	}

	if r.current != nil && r.currentConsumed {
		r.pushPlayHistoryLocked()
	}
	head := r.queue.fallback[0]
	r.mode = ModePlaying
	eff := r.setAndStartLocked(head, true)
	r.mu.Unlock()

	eff(ctx)
	r.startLoop()
	return nil
}

// SessionPlay opts the caller into follower mode and starts the current
// track on their own player.
func (r *Room) SessionPlay(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	s := r.sessions[sessionID]
	if s == nil {
		r.mu.Unlock()
		return ErrInvalidSession
	}
	s.FollowMode = FollowModeFollow
	r.sendToLocked(sessionID, r.sessionModeMessage(s))

	var eff effect
	if r.current != nil && s.HasToken() {
		token, uri, pos := s.AccessToken, r.current.URI, r.current.ProgressMs
		eff = func(ctx context.Context) {
			err := r.gw.Play(ctx, token, []string{uri}, pos)
			if errors.Is(err, spotify.ErrNoActiveDevice) {
				r.notifyActivate(sessionID)
			} else if err != nil {
				log.Printf("room: session_play for %s: %v", sessionID, err)
			}
		}
	}
	r.mu.Unlock()

	if eff != nil {
		eff(ctx)
	}
	return nil
}

// SessionPause opts the caller out of follower mode. Their own playback
// is left alone.
func (r *Room) SessionPause(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.sessions[sessionID]
	if s == nil {
		return ErrInvalidSession
	}
	s.FollowMode = FollowModePaused
	r.sendToLocked(sessionID, r.sessionModeMessage(s))
	return nil
}

// Airhorn fans an airhorn blast to every participant.
func (r *Room) Airhorn(sessionID, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.sessions[sessionID]
	if s == nil {
		return
	}
	if !validAirhorn(name) {
		name = Airhorns[0]
	}
	r.broadcastLocked(Message{Type: MsgPlayAirhorn, Data: AirhornPayload{Name: name, From: s.Name}})
	r.history.Append(Event{Kind: EventAirhorn, Timestamp: r.now(), Name: s.Name, Email: s.Email, Message: name})
	r.persistHistoryLocked()
	r.broadcastHistoryLocked()
}

func validAirhorn(name string) bool {
	for _, a := range Airhorns {
		if a == name {
			return true
		}
	}
	return false
}

// TakeMasterControl reassigns the conductor role to the caller, which
// must be allow-listed and hold provider credentials.
func (r *Room) TakeMasterControl(sessionID string) error {
	r.mu.Lock()
	s := r.sessions[sessionID]
	if s == nil {
		r.mu.Unlock()
		return ErrInvalidSession
	}
	if !s.HasToken() || !r.cfg.AllowsMasterControl(s.Email) {
		r.mu.Unlock()
		return ErrNotAllowed
	}
	r.conductorID = s.ID
	restart := r.mode == ModePlaying
	r.broadcastModeLocked()
	r.mu.Unlock()

	if restart {
		r.restartLoop()
	}
	return nil
}

// HistoryMessage appends a chat line to the ledger.
func (r *Room) HistoryMessage(sessionID, text string) {
	if text == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.sessions[sessionID]
	if s == nil {
		return
	}
	r.history.Append(Event{Kind: EventMessage, Timestamp: r.now(), Name: s.Name, Email: s.Email, Message: text})
	r.persistHistoryLocked()
	r.broadcastHistoryLocked()
}

// MasterRandomLiked fair-inserts a handful of the conductor's liked
// songs. Conductor only; returns how many made it past duplicate
// suppression.
func (r *Room) MasterRandomLiked(ctx context.Context, sessionID string) (int, error) {
	r.mu.Lock()
	if err := r.requireConductorLocked(sessionID); err != nil {
		r.mu.Unlock()
		return 0, err
	}
	s := r.sessions[sessionID]
	token, name, email := s.AccessToken, s.Name, s.Email
	r.mu.Unlock()

	infos, err := r.gw.RandomLiked(ctx, token, randomLikedCount)
	if err != nil {
		return 0, fmt.Errorf("fetching liked songs: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	added := 0
	for _, info := range infos {
		track := NewTrack(info, name, email, r.now())
		if err := r.queue.Add(track); err != nil {
			continue
		}
		r.history.Append(Event{Kind: EventTrackAdded, Timestamp: r.now(), Name: name, Email: email, Track: track})
		added++
	}
	if added > 0 {
		r.persistQueueLocked()
		r.persistHistoryLocked()
		r.broadcastTracksLocked()
		r.broadcastHistoryLocked()
	}
	return added, nil
}

// requireConductorLocked enforces that a master_* command comes from the
// conductor session.
func (r *Room) requireConductorLocked(sessionID string) error {
	s := r.sessions[sessionID]
	if s == nil {
		return ErrInvalidSession
	}
	if r.conductorID == "" && s.HasToken() {
		// Nobody is conducting yet; the first capable caller takes over.
		r.conductorID = s.ID
		return nil
	}
	if r.conductorID != sessionID {
		return ErrNotConductor
	}
	return nil
}
