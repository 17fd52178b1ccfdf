package spotify

import (
	"context"
	"fmt"
	"net/http"
	"time"

	api "github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"
)

// Identity is the authenticated user behind a token.
type Identity struct {
	Name  string
	Email string
}

// AuthURL builds the Spotify authorization URL. The state parameter is
// round-tripped through the provider and back to the callback.
func (c *Client) AuthURL(state string) string {
	return c.auth.AuthURL(state)
}

// Exchange completes the authorization-code grant using the callback
// request and fetches the authenticated user's identity.
func (c *Client) Exchange(ctx context.Context, state string, r *http.Request) (*oauth2.Token, Identity, error) {
	token, err := c.auth.Token(ctx, state, r)
	if err != nil {
		return nil, Identity{}, fmt.Errorf("exchanging code for token: %w", err)
	}

	user, err := api.New(c.auth.Client(ctx, token)).CurrentUser(ctx)
	if err != nil {
		return nil, Identity{}, fmt.Errorf("fetching user profile: %w", mapError(err, false))
	}

	return token, Identity{Name: user.DisplayName, Email: user.Email}, nil
}

// Refresh exchanges a refresh token for a fresh access token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (Token, error) {
	conf := &oauth2.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  spotifyauth.AuthURL,
			TokenURL: spotifyauth.TokenURL,
		},
	}

	tok, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return Token{}, fmt.Errorf("refreshing token: %w", err)
	}

	out := Token{
		AccessToken:  tok.AccessToken,
		ExpiresIn:    int(time.Until(tok.Expiry).Seconds()),
		RefreshToken: tok.RefreshToken,
	}
	// The provider only rotates refresh tokens occasionally; report a new
	// one only when it actually changed.
	if out.RefreshToken == refreshToken {
		out.RefreshToken = ""
	}
	return out, nil
}
