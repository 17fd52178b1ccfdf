package spotify

// Kind classifies a parsed Spotify reference.
type Kind string

const (
	KindTrack    Kind = "track"
	KindPlaylist Kind = "playlist"
	KindAlbum    Kind = "album"
	KindArtist   Kind = "artist"
	KindEpisode  Kind = "episode"
	KindShow     Kind = "show"
)

// Resource is a parsed Spotify URL, URI, or bare ID.
type Resource struct {
	Kind Kind
	ID   string
	URI  string
}

// TrackInfo contains display metadata for one track.
type TrackInfo struct {
	URI         string
	ID          string
	Name        string
	Artist      string // Comma-separated artist names
	Album       string
	AlbumArtURL string
	DurationMs  int
}

// PlaylistInfo describes a playlist without its tracks.
type PlaylistInfo struct {
	ID          string
	URI         string
	Name        string
	Description string
	Owner       string
	TrackCount  int
	ImageURL    string
}

// Playback is a snapshot of a player's current state.
type Playback struct {
	URI        string
	ID         string
	Type       string
	ProgressMs int
	DurationMs int
	Playing    bool
}

// Token is a refreshed credential set. RefreshToken is empty when the
// provider did not rotate it.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int
}
