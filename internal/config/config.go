// Package config loads server configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultFallbackPlaylist seeds the fallback queue when FALLBACK_PLAYLIST is unset.
const DefaultFallbackPlaylist = "spotify:playlist:37i9dQZF1DXcBWIGoYBM5M"

// ErrMissingCredentials is returned when SPOTIFY_ID or SPOTIFY_SECRET is not set.
var ErrMissingCredentials = errors.New("missing SPOTIFY_ID or SPOTIFY_SECRET environment variable")

// Config holds all server settings.
type Config struct {
	Port             int
	PollInterval     time.Duration
	HeartbeatTimeout time.Duration
	MasterEmails     []string
	FallbackPlaylist string
	DataDir          string
	ClientID         string
	ClientSecret     string
	RedirectURL      string
	FrontendURL      string
	Debug            bool
}

// Load reads configuration from environment variables, applying defaults.
// Returns ErrMissingCredentials if the Spotify app credentials are absent.
func Load() (*Config, error) {
	clientID := os.Getenv("SPOTIFY_ID")
	clientSecret := os.Getenv("SPOTIFY_SECRET")
	if clientID == "" || clientSecret == "" {
		return nil, ErrMissingCredentials
	}

	port, err := intEnv("PORT", 8080)
	if err != nil {
		return nil, err
	}
	pollMs, err := intEnv("POLL_INTERVAL_MS", 1000)
	if err != nil {
		return nil, err
	}
	heartbeatMs, err := intEnv("HEARTBEAT_TIMEOUT_MS", 60000)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:             port,
		PollInterval:     time.Duration(pollMs) * time.Millisecond,
		HeartbeatTimeout: time.Duration(heartbeatMs) * time.Millisecond,
		MasterEmails:     splitEmails(os.Getenv("MASTER_EMAILS")),
		FallbackPlaylist: getenv("FALLBACK_PLAYLIST", DefaultFallbackPlaylist),
		DataDir:          getenv("DATA_DIR", "./data"),
		ClientID:         clientID,
		ClientSecret:     clientSecret,
		RedirectURL:      getenv("SPOTIFY_REDIRECT_URL", fmt.Sprintf("http://127.0.0.1:%d/callback", port)),
		FrontendURL:      getenv("FRONTEND_URL", fmt.Sprintf("http://127.0.0.1:%d", port)),
		Debug:            os.Getenv("DEBUG") == "true",
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	return cfg, nil
}

// AllowsMasterControl reports whether the given email is on the
// take_master_control allow-list. Comparison is case-insensitive.
func (c *Config) AllowsMasterControl(email string) bool {
	for _, e := range c.MasterEmails {
		if strings.EqualFold(e, email) {
			return true
		}
	}
	return false
}

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}

func intEnv(key string, def int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return def, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return n, nil
}

func splitEmails(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	emails := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			emails = append(emails, p)
		}
	}
	return emails
}
