package spotify

import (
	"errors"
	"net/http"

	api "github.com/zmb3/spotify/v2"
)

var (
	// ErrInvalidInput is returned by Parse for unrecognisable references.
	ErrInvalidInput = errors.New("not a recognisable Spotify URL, URI, or ID")

	// ErrNoActiveDevice is returned by playback commands when the user has
	// no player available to receive them.
	ErrNoActiveDevice = errors.New("no active Spotify device")

	// ErrUnauthorized is returned when the access token is rejected.
	ErrUnauthorized = errors.New("spotify token unauthorized")

	// ErrNotFound is returned when the requested entity does not exist or
	// is not readable with the given credentials.
	ErrNotFound = errors.New("spotify entity not found")

	// ErrForbidden is returned when the entity exists but access is denied.
	ErrForbidden = errors.New("spotify access forbidden")
)

// mapError converts a zmb3 API error into one of the package sentinels.
// Playback endpoints report a missing device as 404, so playerEndpoint
// selects between ErrNoActiveDevice and ErrNotFound for that status.
// Unmapped errors (timeouts, 5xx, transport failures) pass through
// unchanged and are treated as transient by callers.
func mapError(err error, playerEndpoint bool) error {
	if err == nil {
		return nil
	}
	var apiErr api.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.Status {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		if playerEndpoint {
			return ErrNoActiveDevice
		}
		return ErrNotFound
	}
	return err
}
