package spotify

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// Matches open.spotify.com links, with or without scheme, optional
	// /intl-xx/ locale segment, and trailing query string.
	urlRegex = regexp.MustCompile(`(?:https?://)?open\.spotify\.com/(?:intl-[a-z]{2}/)?(track|playlist|album|artist|episode|show)/([a-zA-Z0-9]{22})`)

	uriRegex = regexp.MustCompile(`^spotify:(track|playlist|album|artist|episode|show):([a-zA-Z0-9]{22})$`)

	bareIDRegex = regexp.MustCompile(`^[a-zA-Z0-9]{22}$`)
)

// Parse interprets a user-supplied Spotify reference. It accepts share URLs,
// spotify: URIs, and bare 22-character IDs (assumed to be tracks).
// Returns ErrInvalidInput when nothing matches.
func Parse(input string) (Resource, error) {
	input = strings.TrimSpace(input)

	if m := uriRegex.FindStringSubmatch(input); m != nil {
		return newResource(Kind(m[1]), m[2]), nil
	}
	if m := urlRegex.FindStringSubmatch(input); m != nil {
		return newResource(Kind(m[1]), m[2]), nil
	}
	if bareIDRegex.MatchString(input) {
		return newResource(KindTrack, input), nil
	}

	return Resource{}, fmt.Errorf("%w: %q", ErrInvalidInput, input)
}

// IDFromURI extracts the trailing ID from a spotify:kind:id URI.
// Returns the input unchanged when it does not look like a URI.
func IDFromURI(uri string) string {
	if i := strings.LastIndex(uri, ":"); i >= 0 {
		return uri[i+1:]
	}
	return uri
}

func newResource(kind Kind, id string) Resource {
	return Resource{
		Kind: kind,
		ID:   id,
		URI:  fmt.Sprintf("spotify:%s:%s", kind, id),
	}
}
