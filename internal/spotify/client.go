// Package spotify wraps the Spotify Web API for the room server.
//
// All calls take an access token explicitly because the server acts on
// behalf of many users (the conductor and each follower) at once.
package spotify

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	api "github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"
)

// callTimeout bounds every outbound API call. Timeouts surface as
// transient errors; the reconciliation loop retries on its next tick.
const callTimeout = 5 * time.Second

// Gateway is the provider surface consumed by the room. It exists so the
// reconciliation loop and handlers can be tested against a fake provider.
type Gateway interface {
	TrackInfo(ctx context.Context, token, id string) (TrackInfo, error)
	PlaylistInfo(ctx context.Context, token, id string) (PlaylistInfo, error)
	PlaylistTracks(ctx context.Context, token, id string) ([]TrackInfo, error)
	Play(ctx context.Context, token string, uris []string, positionMs int) error
	Pause(ctx context.Context, token string) error
	CurrentPlayback(ctx context.Context, token string) (*Playback, error)
	RandomLiked(ctx context.Context, token string, n int) ([]TrackInfo, error)
	Refresh(ctx context.Context, refreshToken string) (Token, error)
}

// Client implements Gateway against the real Spotify Web API.
type Client struct {
	auth         *spotifyauth.Authenticator
	clientID     string
	clientSecret string
}

// New creates a Client for the given OAuth application.
func New(clientID, clientSecret, redirectURL string) *Client {
	auth := spotifyauth.New(
		spotifyauth.WithClientID(clientID),
		spotifyauth.WithClientSecret(clientSecret),
		spotifyauth.WithRedirectURL(redirectURL),
		spotifyauth.WithScopes(
			spotifyauth.ScopeUserReadEmail,
			spotifyauth.ScopeUserReadPrivate,
			spotifyauth.ScopeUserReadPlaybackState,
			spotifyauth.ScopeUserModifyPlaybackState,
			spotifyauth.ScopeUserLibraryRead,
		),
	)
	return &Client{
		auth:         auth,
		clientID:     clientID,
		clientSecret: clientSecret,
	}
}

var _ Gateway = (*Client)(nil)

// apiFor builds a per-call zmb3 client bound to one user's access token.
func (c *Client) apiFor(ctx context.Context, token string) *api.Client {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
	httpClient := oauth2.NewClient(ctx, src)
	httpClient.Timeout = callTimeout
	return api.New(httpClient)
}

// TrackInfo fetches display metadata for one track.
func (c *Client) TrackInfo(ctx context.Context, token, id string) (TrackInfo, error) {
	track, err := c.apiFor(ctx, token).GetTrack(ctx, api.ID(id))
	if err != nil {
		return TrackInfo{}, fmt.Errorf("fetching track %s: %w", id, mapError(err, false))
	}
	return convertFullTrack(track), nil
}

// PlaylistInfo fetches playlist metadata without its tracks.
func (c *Client) PlaylistInfo(ctx context.Context, token, id string) (PlaylistInfo, error) {
	pl, err := c.apiFor(ctx, token).GetPlaylist(ctx, api.ID(id))
	if err != nil {
		return PlaylistInfo{}, fmt.Errorf("fetching playlist %s: %w", id, mapError(err, false))
	}

	info := PlaylistInfo{
		ID:          pl.ID.String(),
		URI:         string(pl.URI),
		Name:        pl.Name,
		Description: pl.Description,
		Owner:       pl.Owner.DisplayName,
		TrackCount:  int(pl.Tracks.Total),
	}
	if len(pl.Images) > 0 {
		info.ImageURL = pl.Images[0].URL
	}
	return info, nil
}

const playlistPageSize = 100

// PlaylistTracks fetches every track of a playlist, paginating until a
// page comes back short. Episodes and unplayable entries are skipped.
func (c *Client) PlaylistTracks(ctx context.Context, token, id string) ([]TrackInfo, error) {
	client := c.apiFor(ctx, token)

	var tracks []TrackInfo
	for offset := 0; ; offset += playlistPageSize {
		page, err := client.GetPlaylistItems(ctx, api.ID(id),
			api.Limit(playlistPageSize), api.Offset(offset))
		if err != nil {
			return nil, fmt.Errorf("fetching playlist %s items at %d: %w", id, offset, mapError(err, false))
		}

		for i := range page.Items {
			if full := page.Items[i].Track.Track; full != nil && full.ID != "" {
				tracks = append(tracks, convertFullTrack(full))
			}
		}

		if len(page.Items) < playlistPageSize {
			break
		}
	}
	return tracks, nil
}

// Play starts playback of the given URIs on the user's active device.
func (c *Client) Play(ctx context.Context, token string, uris []string, positionMs int) error {
	ids := make([]api.URI, len(uris))
	for i, u := range uris {
		ids[i] = api.URI(u)
	}

	opts := &api.PlayOptions{URIs: ids, PositionMs: api.Numeric(positionMs)}
	if err := c.apiFor(ctx, token).PlayOpt(ctx, opts); err != nil {
		return fmt.Errorf("starting playback: %w", mapError(err, true))
	}
	return nil
}

// Pause stops playback on the user's active device.
func (c *Client) Pause(ctx context.Context, token string) error {
	if err := c.apiFor(ctx, token).Pause(ctx); err != nil {
		return fmt.Errorf("pausing playback: %w", mapError(err, true))
	}
	return nil
}

// CurrentPlayback reads the user's player state. Returns a snapshot with
// an empty URI when nothing is playing or the item is not a track
// (private session, local file, advertisement).
func (c *Client) CurrentPlayback(ctx context.Context, token string) (*Playback, error) {
	state, err := c.apiFor(ctx, token).PlayerState(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading player state: %w", mapError(err, false))
	}

	pb := &Playback{
		ProgressMs: int(state.Progress),
		Playing:    state.Playing,
	}
	if state.Item != nil {
		pb.URI = string(state.Item.URI)
		pb.ID = state.Item.ID.String()
		pb.Type = "track"
		pb.DurationMs = int(state.Item.Duration)
	}
	return pb, nil
}

// RandomLiked picks up to n tracks at random from the user's 50 most
// recently liked songs.
func (c *Client) RandomLiked(ctx context.Context, token string, n int) ([]TrackInfo, error) {
	page, err := c.apiFor(ctx, token).CurrentUsersTracks(ctx, api.Limit(50))
	if err != nil {
		return nil, fmt.Errorf("fetching liked songs: %w", mapError(err, false))
	}

	pool := make([]TrackInfo, 0, len(page.Tracks))
	for i := range page.Tracks {
		pool = append(pool, convertFullTrack(&page.Tracks[i].FullTrack))
	}

	rand.Shuffle(len(pool), func(i, j int) {
		pool[i], pool[j] = pool[j], pool[i]
	})
	if n < len(pool) {
		pool = pool[:n]
	}
	return pool, nil
}

// convertFullTrack flattens a zmb3 track into TrackInfo, joining artist
// names with ", ".
func convertFullTrack(track *api.FullTrack) TrackInfo {
	artists := make([]string, len(track.Artists))
	for i, a := range track.Artists {
		artists[i] = a.Name
	}

	info := TrackInfo{
		URI:        string(track.URI),
		ID:         track.ID.String(),
		Name:       track.Name,
		Artist:     strings.Join(artists, ", "),
		Album:      track.Album.Name,
		DurationMs: int(track.Duration),
	}
	if len(track.Album.Images) > 0 {
		info.AlbumArtURL = track.Album.Images[0].URL
	}
	return info
}
