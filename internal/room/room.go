package room

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jamsesh/jamsesh/internal/config"
	"github.com/jamsesh/jamsesh/internal/spotify"
)

// Mode is the room's global playback mode.
type Mode string

const (
	ModePlaying Mode = "playing"
	ModePaused  Mode = "paused"
)

const (
	// graceWindow suppresses drift correction and pause interpretation
	// after the server commands a track change or a manual skip.
	graceWindow = 3 * time.Second

	// failureWindow is how long a nominated track may stay unconfirmed
	// before the server declares playback failure.
	failureWindow = 5 * time.Second

	// endProgressRatio: a track that reached this share of its duration
	// before the player moved on is considered finished.
	endProgressRatio = 0.9

	// cleanupInterval is the cadence of the stale-session sweep.
	cleanupInterval = 30 * time.Second

	// credentialRefreshInterval is the cadence of the bulk token refresh.
	credentialRefreshInterval = 30 * time.Minute
)

var (
	// ErrInvalidSession is returned on login when the session is unknown
	// or carries no complete identity.
	ErrInvalidSession = errors.New("invalid session")

	// ErrNotConductor is returned when a conductor-only command comes
	// from another session.
	ErrNotConductor = errors.New("only the conductor may do that")

	// ErrNotAllowed is returned when take_master_control comes from a
	// session that is not allow-listed or holds no provider token.
	ErrNotAllowed = errors.New("not permitted")

	// ErrNoConductor is returned when an operation needs provider
	// credentials and no session can supply them.
	ErrNoConductor = errors.New("no conductor credentials available")
)

// Persister writes room state to durable storage. Implementations must
// not block for long; failures are logged and never abort a mutation.
type Persister interface {
	SaveQueue(tracks []*Track) error
	SaveSessions(sessions []*Session) error
	SaveHistory(events []Event) error
}

// effect is provider I/O deferred until the room mutex is released.
type effect func(ctx context.Context)

// Room is the authoritative state of the shared-listening session.
// One mutex serialises every mutation; provider calls never run under it.
type Room struct {
	cfg   *config.Config
	gw    spotify.Gateway
	store Persister

	mu       sync.Mutex
	queue    *Queue
	sessions map[string]*Session
	history  *History

	mode              Mode
	current           *Track
	currentIsFallback bool
	currentConsumed   bool
	conductorID       string
	lastChangeAt      time.Time
	lastSkipAt        time.Time
	lastSnapshot      *spotify.Playback
	expectedURI       string
	expectedSince     time.Time
	fallbackInfo      *spotify.PlaylistInfo

	loopCancel context.CancelFunc
	tickBusy   bool

	// now is swapped out by tests to control the clock.
	now func() time.Time
}

// New creates a Room with an empty queue and no sessions.
func New(cfg *config.Config, gw spotify.Gateway, store Persister) *Room {
	return &Room{
		cfg:      cfg,
		gw:       gw,
		store:    store,
		queue:    NewQueue(),
		sessions: make(map[string]*Session),
		history:  NewHistory(),
		mode:     ModePaused,
		now:      time.Now,
	}
}

// Start launches the background tasks: the stale-session sweep, the
// periodic credential refresh, and the fallback seeding. The
// reconciliation loop starts and stops with the playback mode.
func (r *Room) Start(ctx context.Context) {
	go r.runSweep(ctx)
	go r.runCredentialRefresh(ctx)
	go r.seedFallback(ctx)
}

// runSweep evicts sessions whose heartbeat went stale.
func (r *Room) runSweep(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.CleanupStale()
		}
	}
}

// CleanupStale evicts every session that has not sent a heartbeat within
// the configured timeout, logging a user_disconnected event for each.
func (r *Room) CleanupStale() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	evicted := false
	for id, s := range r.sessions {
		if now.Sub(s.LastHeartbeat) <= r.cfg.HeartbeatTimeout {
			continue
		}
		log.Printf("room: evicting stale session %s (%s)", id, s.Email)
		r.evictLocked(s)
		r.history.Append(Event{
			Kind:      EventUserDisconnected,
			Timestamp: now,
			Name:      s.Name,
			Email:     s.Email,
		})
		evicted = true
	}

	if evicted {
		r.persistSessionsLocked()
		r.persistHistoryLocked()
		r.broadcastSessionsLocked()
		r.broadcastHistoryLocked()
	}
}

// evictLocked removes a session from the registry and closes its
// transport. The conductor role is cleared if it pointed here.
func (r *Room) evictLocked(s *Session) {
	delete(r.sessions, s.ID)
	if s.Transport != nil {
		s.Transport.Close()
		s.Transport = nil
	}
	if r.conductorID == s.ID {
		r.conductorID = ""
	}
}

// conductorLocked returns the conductor session, or nil.
func (r *Room) conductorLocked() *Session {
	if r.conductorID == "" {
		return nil
	}
	return r.sessions[r.conductorID]
}

// conductorTokenLocked returns the conductor's access token, or the
// token of any provider-capable session as a fallback for metadata
// lookups. Empty when nobody is authenticated.
func (r *Room) conductorTokenLocked() string {
	if c := r.conductorLocked(); c != nil && c.HasToken() {
		return c.AccessToken
	}
	for _, s := range r.sessions {
		if s.HasToken() {
			return s.AccessToken
		}
	}
	return ""
}

// ensureConductorLocked assigns the conductor role to the first
// provider-capable session when the role is vacant. Returns an effect
// that adopts the new conductor's live playback, or nil.
func (r *Room) ensureConductorLocked() effect {
	if r.conductorID != "" {
		if c := r.conductorLocked(); c != nil && c.HasToken() {
			return nil
		}
		r.conductorID = ""
	}
	for _, s := range r.sessions {
		if s.HasToken() {
			r.conductorID = s.ID
			log.Printf("room: conductor assigned to %s (%s)", s.ID, s.Email)
			return r.adoptPlaybackEffect(s.AccessToken)
		}
	}
	return nil
}

// adoptPlaybackEffect reads the new conductor's real playback and makes
// it the room's observable initial state.
func (r *Room) adoptPlaybackEffect(token string) effect {
	return func(ctx context.Context) {
		pb, err := r.gw.CurrentPlayback(ctx, token)
		if err != nil {
			log.Printf("room: adopting conductor playback: %v", err)
			return
		}
		if pb.URI == "" {
			return
		}

		info, err := r.gw.TrackInfo(ctx, token, pb.ID)
		if err != nil {
			log.Printf("room: fetching adopted track %s: %v", pb.ID, err)
			return
		}

		r.mu.Lock()
		track := NewTrack(info, "", "", r.now())
		track.ProgressMs = pb.ProgressMs
		r.current = track
		r.currentIsFallback = false
		r.currentConsumed = true
		r.lastSnapshot = pb
		if pb.Playing {
			r.mode = ModePlaying
		} else {
			r.mode = ModePaused
		}
		startLoop := r.mode == ModePlaying
		r.broadcastModeLocked()
		r.mu.Unlock()

		if startLoop {
			r.startLoop()
		}
	}
}

// fallbackSeedInterval is the cadence of the fallback seeding check.
const fallbackSeedInterval = 5 * time.Second

// seedFallback keeps the fallback tier populated: the first fill waits
// for a provider-capable session to show up, and once playback drains
// the tier it is refilled from the same playlist.
func (r *Room) seedFallback(ctx context.Context) {
	res, err := spotify.Parse(r.cfg.FallbackPlaylist)
	if err != nil || res.Kind != spotify.KindPlaylist {
		log.Printf("room: invalid fallback playlist %q: %v", r.cfg.FallbackPlaylist, err)
		return
	}

	ticker := time.NewTicker(fallbackSeedInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refillFallback(ctx, res.ID)
		}
	}
}

// refillFallback reloads the fallback tier when it has drained. A
// playlist submitted by a participant supersedes the configured default.
// No-op while tracks remain or nobody holds provider credentials.
func (r *Room) refillFallback(ctx context.Context, defaultID string) {
	r.mu.Lock()
	needed := r.queue.FallbackLen() == 0
	token := r.conductorTokenLocked()
	playlistID := defaultID
	if r.fallbackInfo != nil {
		playlistID = r.fallbackInfo.ID
	}
	r.mu.Unlock()
	if !needed || token == "" {
		return
	}

	if err := r.replaceFallback(ctx, token, playlistID); err != nil {
		log.Printf("room: refilling fallback queue: %v", err)
	}
}

// replaceFallback validates a playlist and swaps it in as the fallback
// tier. The previous fallback is kept when validation or fetch fails.
func (r *Room) replaceFallback(ctx context.Context, token, playlistID string) error {
	info, err := r.gw.PlaylistInfo(ctx, token, playlistID)
	if err != nil {
		return err
	}
	items, err := r.gw.PlaylistTracks(ctx, token, playlistID)
	if err != nil {
		return err
	}

	now := r.now()
	tracks := make([]*Track, 0, len(items))
	for _, item := range items {
		t := NewTrack(item, "", FallbackEmail, now)
		t.SpotifyName = info.Name
		tracks = append(tracks, t)
	}

	r.mu.Lock()
	r.fallbackInfo = &info
	r.queue.SetFallback(tracks)
	r.broadcastTracksLocked()
	r.broadcastModeLocked()
	r.mu.Unlock()

	log.Printf("room: fallback queue seeded with %d tracks from %q", len(tracks), info.Name)
	return nil
}

// runCredentialRefresh refreshes every provider-capable session's tokens
// on a long cadence and re-persists the session file.
func (r *Room) runCredentialRefresh(ctx context.Context) {
	ticker := time.NewTicker(credentialRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RefreshAllCredentials(ctx)
		}
	}
}

// RefreshAllCredentials refreshes tokens for every session that holds a
// refresh token. Sessions whose refresh fails lose their credentials but
// stay registered.
func (r *Room) RefreshAllCredentials(ctx context.Context) {
	r.mu.Lock()
	type target struct {
		id      string
		refresh string
	}
	var targets []target
	for _, s := range r.sessions {
		if s.RefreshToken != "" {
			targets = append(targets, target{s.ID, s.RefreshToken})
		}
	}
	r.mu.Unlock()

	for _, tg := range targets {
		tok, err := r.gw.Refresh(ctx, tg.refresh)

		r.mu.Lock()
		s := r.sessions[tg.id]
		if s == nil {
			r.mu.Unlock()
			continue
		}
		if err != nil {
			log.Printf("room: refreshing credentials for %s: %v", s.Email, err)
			s.DropCredentials()
		} else {
			s.AccessToken = tok.AccessToken
			s.TokenExpiry = r.now().Add(time.Duration(tok.ExpiresIn) * time.Second)
			if tok.RefreshToken != "" {
				s.RefreshToken = tok.RefreshToken
			}
		}
		r.mu.Unlock()
	}

	r.mu.Lock()
	r.persistSessionsLocked()
	r.mu.Unlock()
}

// refreshConductorEffect refreshes the conductor's token after an
// unauthorized response. On failure the credentials are dropped and the
// conductor role re-assigned.
func (r *Room) refreshConductorEffect() effect {
	return func(ctx context.Context) {
		r.mu.Lock()
		c := r.conductorLocked()
		if c == nil || c.RefreshToken == "" {
			r.mu.Unlock()
			return
		}
		id, refresh := c.ID, c.RefreshToken
		r.mu.Unlock()

		tok, err := r.gw.Refresh(ctx, refresh)

		r.mu.Lock()
		defer r.mu.Unlock()
		s := r.sessions[id]
		if s == nil {
			return
		}
		if err != nil {
			log.Printf("room: conductor token refresh failed, dropping credentials: %v", err)
			s.DropCredentials()
			if eff := r.ensureConductorLocked(); eff != nil {
				go eff(context.Background())
			}
			r.broadcastModeLocked()
		} else {
			s.AccessToken = tok.AccessToken
			s.TokenExpiry = r.now().Add(time.Duration(tok.ExpiresIn) * time.Second)
			if tok.RefreshToken != "" {
				s.RefreshToken = tok.RefreshToken
			}
		}
		r.persistSessionsLocked()
	}
}

// inGraceLocked reports whether we are inside the commanded-change or
// manual-skip grace window.
func (r *Room) inGraceLocked(now time.Time) bool {
	return now.Sub(r.lastChangeAt) < graceWindow || now.Sub(r.lastSkipAt) < graceWindow
}

// persistQueueLocked, persistSessionsLocked, and persistHistoryLocked
// write state best-effort; failures never abort the mutation.
func (r *Room) persistQueueLocked() {
	if err := r.store.SaveQueue(r.queue.UserTracks()); err != nil {
		log.Printf("room: persisting queue: %v", err)
	}
}

func (r *Room) persistSessionsLocked() {
	var capable []*Session
	for _, s := range r.sessions {
		if s.HasToken() {
			capable = append(capable, s)
		}
	}
	if err := r.store.SaveSessions(capable); err != nil {
		log.Printf("room: persisting sessions: %v", err)
	}
}

func (r *Room) persistHistoryLocked() {
	if err := r.store.SaveHistory(r.history.All()); err != nil {
		log.Printf("room: persisting history: %v", err)
	}
}

// PersistAll writes every state file. Called on graceful shutdown.
func (r *Room) PersistAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var capable []*Session
	for _, s := range r.sessions {
		if s.HasToken() {
			capable = append(capable, s)
		}
	}
	return errors.Join(
		r.store.SaveQueue(r.queue.UserTracks()),
		r.store.SaveSessions(capable),
		r.store.SaveHistory(r.history.All()),
	)
}

// newSessionID mints an opaque session identifier.
func newSessionID() string {
	return uuid.NewString()
}

// findByEmailLocked returns the session with the given email, excluding
// the given session id. Case-insensitive.
func (r *Room) findByEmailLocked(email, excludeID string) *Session {
	ref := &Session{Email: email}
	for _, s := range r.sessions {
		if s.ID != excludeID && s.SameIdentity(ref) {
			return s
		}
	}
	return nil
}

// Snapshot accessors used by the transport edge and tests.

// Mode returns the room's global mode.
func (r *Room) Mode() Mode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode
}

// CurrentTrack returns a copy of the playing track, or nil.
func (r *Room) CurrentTrack() *Track {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return nil
	}
	c := *r.current
	return &c
}

// SessionLoggedIn reports whether the session exists and has a complete
// identity. Used by the GET /session endpoint.
func (r *Room) SessionLoggedIn(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[id]
	return s != nil && s.LoggedIn()
}
