package config

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func setCreds(t *testing.T) {
	t.Helper()
	t.Setenv("SPOTIFY_ID", "id")
	t.Setenv("SPOTIFY_SECRET", "secret")
	t.Setenv("DATA_DIR", filepath.Join(t.TempDir(), "data"))
}

func TestLoadDefaults(t *testing.T) {
	setCreds(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d", cfg.Port)
	}
	if cfg.PollInterval != time.Second {
		t.Errorf("PollInterval = %s", cfg.PollInterval)
	}
	if cfg.HeartbeatTimeout != time.Minute {
		t.Errorf("HeartbeatTimeout = %s", cfg.HeartbeatTimeout)
	}
	if cfg.FallbackPlaylist != DefaultFallbackPlaylist {
		t.Errorf("FallbackPlaylist = %s", cfg.FallbackPlaylist)
	}
	if len(cfg.MasterEmails) != 0 {
		t.Errorf("MasterEmails = %v", cfg.MasterEmails)
	}
}

func TestLoadMissingCredentials(t *testing.T) {
	t.Setenv("SPOTIFY_ID", "")
	t.Setenv("SPOTIFY_SECRET", "")

	if _, err := Load(); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("Load = %v, want ErrMissingCredentials", err)
	}
}

func TestLoadOverrides(t *testing.T) {
	setCreds(t)
	t.Setenv("PORT", "9000")
	t.Setenv("POLL_INTERVAL_MS", "250")
	t.Setenv("MASTER_EMAILS", "a@x, B@X ,,c@x")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9000 {
		t.Errorf("Port = %d", cfg.Port)
	}
	if cfg.PollInterval != 250*time.Millisecond {
		t.Errorf("PollInterval = %s", cfg.PollInterval)
	}
	if len(cfg.MasterEmails) != 3 {
		t.Fatalf("MasterEmails = %v", cfg.MasterEmails)
	}
}

func TestLoadBadInt(t *testing.T) {
	setCreds(t)
	t.Setenv("PORT", "not-a-number")

	if _, err := Load(); err == nil {
		t.Fatal("Load should reject a non-numeric PORT")
	}
}

func TestAllowsMasterControl(t *testing.T) {
	cfg := &Config{MasterEmails: []string{"Boss@Example.com"}}

	if !cfg.AllowsMasterControl("boss@example.com") {
		t.Error("comparison should be case-insensitive")
	}
	if cfg.AllowsMasterControl("other@example.com") {
		t.Error("unlisted email must not pass")
	}
	if (&Config{}).AllowsMasterControl("boss@example.com") {
		t.Error("empty allow-list admits nobody")
	}
}
