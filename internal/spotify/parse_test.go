package spotify

import (
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantKind Kind
		wantID   string
		wantURI  string
	}{
		{
			name:     "track URL",
			input:    "https://open.spotify.com/track/4uLU6hMCjMI75M1A2tKUQC",
			wantKind: KindTrack,
			wantID:   "4uLU6hMCjMI75M1A2tKUQC",
			wantURI:  "spotify:track:4uLU6hMCjMI75M1A2tKUQC",
		},
		{
			name:     "track URL with query string",
			input:    "https://open.spotify.com/track/4uLU6hMCjMI75M1A2tKUQC?si=abc123",
			wantKind: KindTrack,
			wantID:   "4uLU6hMCjMI75M1A2tKUQC",
			wantURI:  "spotify:track:4uLU6hMCjMI75M1A2tKUQC",
		},
		{
			name:     "track URL with locale segment",
			input:    "https://open.spotify.com/intl-de/track/4uLU6hMCjMI75M1A2tKUQC",
			wantKind: KindTrack,
			wantID:   "4uLU6hMCjMI75M1A2tKUQC",
			wantURI:  "spotify:track:4uLU6hMCjMI75M1A2tKUQC",
		},
		{
			name:     "URL without scheme",
			input:    "open.spotify.com/track/4uLU6hMCjMI75M1A2tKUQC",
			wantKind: KindTrack,
			wantID:   "4uLU6hMCjMI75M1A2tKUQC",
			wantURI:  "spotify:track:4uLU6hMCjMI75M1A2tKUQC",
		},
		{
			name:     "playlist URL",
			input:    "https://open.spotify.com/playlist/37i9dQZF1DXcBWIGoYBM5M",
			wantKind: KindPlaylist,
			wantID:   "37i9dQZF1DXcBWIGoYBM5M",
			wantURI:  "spotify:playlist:37i9dQZF1DXcBWIGoYBM5M",
		},
		{
			name:     "track URI",
			input:    "spotify:track:4uLU6hMCjMI75M1A2tKUQC",
			wantKind: KindTrack,
			wantID:   "4uLU6hMCjMI75M1A2tKUQC",
			wantURI:  "spotify:track:4uLU6hMCjMI75M1A2tKUQC",
		},
		{
			name:     "album URI",
			input:    "spotify:album:6dVIqQ8qmQ5GBnJ9shOYGE",
			wantKind: KindAlbum,
			wantID:   "6dVIqQ8qmQ5GBnJ9shOYGE",
			wantURI:  "spotify:album:6dVIqQ8qmQ5GBnJ9shOYGE",
		},
		{
			name:     "bare ID is a track",
			input:    "4uLU6hMCjMI75M1A2tKUQC",
			wantKind: KindTrack,
			wantID:   "4uLU6hMCjMI75M1A2tKUQC",
			wantURI:  "spotify:track:4uLU6hMCjMI75M1A2tKUQC",
		},
		{
			name:     "surrounding whitespace",
			input:    "  spotify:track:4uLU6hMCjMI75M1A2tKUQC\n",
			wantKind: KindTrack,
			wantID:   "4uLU6hMCjMI75M1A2tKUQC",
			wantURI:  "spotify:track:4uLU6hMCjMI75M1A2tKUQC",
		},
		{
			name:     "show URL",
			input:    "https://open.spotify.com/show/4rOoJ6Egrf8K2IrywzwOMk",
			wantKind: KindShow,
			wantID:   "4rOoJ6Egrf8K2IrywzwOMk",
			wantURI:  "spotify:show:4rOoJ6Egrf8K2IrywzwOMk",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if err != nil {
				t.Fatalf("Parse(%q) returned error: %v", tt.input, err)
			}
			if got.Kind != tt.wantKind {
				t.Errorf("Kind = %q, want %q", got.Kind, tt.wantKind)
			}
			if got.ID != tt.wantID {
				t.Errorf("ID = %q, want %q", got.ID, tt.wantID)
			}
			if got.URI != tt.wantURI {
				t.Errorf("URI = %q, want %q", got.URI, tt.wantURI)
			}
		})
	}
}

func TestParseInvalid(t *testing.T) {
	inputs := []string{
		"",
		"not a spotify thing",
		"https://example.com/track/4uLU6hMCjMI75M1A2tKUQC",
		"spotify:track:tooshort",
		"spotify:concert:4uLU6hMCjMI75M1A2tKUQC",
		"4uLU6hMCjMI75M1A2tKUQ",   // 21 chars
		"4uLU6hMCjMI75M1A2tKUQC1", // 23 chars
	}

	for _, input := range inputs {
		if _, err := Parse(input); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("Parse(%q) = %v, want ErrInvalidInput", input, err)
		}
	}
}

func TestIDFromURI(t *testing.T) {
	if got := IDFromURI("spotify:track:4uLU6hMCjMI75M1A2tKUQC"); got != "4uLU6hMCjMI75M1A2tKUQC" {
		t.Errorf("IDFromURI = %q", got)
	}
	if got := IDFromURI("justanid"); got != "justanid" {
		t.Errorf("IDFromURI passthrough = %q", got)
	}
}
