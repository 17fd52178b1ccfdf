package room

import (
	"context"
	"log"
	"time"

	"github.com/jamsesh/jamsesh/internal/spotify"
)

// LoadedState is what the persistence layer recovered from disk.
type LoadedState struct {
	Queue    []*Track
	Sessions []*Session
	History  []Event
}

// Restore rebuilds room state from a persisted snapshot. Sessions come
// first so that queue migration can use their credentials: each
// provider-capable session gets a token refresh and is dropped when the
// refresh fails; queue entries missing album art are backfilled with the
// surviving credentials; history is trimmed into the ring.
func (r *Room) Restore(ctx context.Context, st LoadedState) {
	for _, s := range st.Sessions {
		if s.RefreshToken == "" {
			continue
		}
		tok, err := r.gw.Refresh(ctx, s.RefreshToken)
		if err != nil {
			log.Printf("room: dropping persisted session %s, refresh failed: %v", s.Email, err)
			continue
		}
		s.AccessToken = tok.AccessToken
		s.TokenExpiry = r.now().Add(time.Duration(tok.ExpiresIn) * time.Second)
		if tok.RefreshToken != "" {
			s.RefreshToken = tok.RefreshToken
		}
		s.Transport = nil
		s.LastHeartbeat = r.now()
		if s.FollowMode == "" {
			s.FollowMode = FollowModeFollow
		}

		r.mu.Lock()
		r.sessions[s.ID] = s
		r.mu.Unlock()
	}

	r.mu.Lock()
	token := r.conductorTokenLocked()
	r.mu.Unlock()

	for _, t := range st.Queue {
		if t.AlbumArtURL == "" && token != "" {
			info, err := r.gw.TrackInfo(ctx, token, spotify.IDFromURI(t.URI))
			if err != nil {
				log.Printf("room: backfilling art for %s: %v", t.URI, err)
			} else {
				t.AlbumArtURL = info.AlbumArtURL
				if t.Album == "" {
					t.Album = info.Album
				}
			}
		}
	}

	r.mu.Lock()
	r.queue.restoreUser(st.Queue)
	r.history.Restore(st.History)
	r.persistSessionsLocked()
	r.mu.Unlock()

	if len(st.Queue) > 0 || len(st.Sessions) > 0 {
		log.Printf("room: restored %d queued tracks, %d sessions, %d history events",
			len(st.Queue), len(st.Sessions), len(st.History))
	}
}
