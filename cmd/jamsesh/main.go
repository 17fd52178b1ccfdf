// Command jamsesh runs the shared-listening room server.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jamsesh/jamsesh/internal/config"
	"github.com/jamsesh/jamsesh/internal/room"
	"github.com/jamsesh/jamsesh/internal/spotify"
	"github.com/jamsesh/jamsesh/internal/store"
	"github.com/jamsesh/jamsesh/internal/web"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	st, err := store.New(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("opening data directory: %w", err)
	}

	sp := spotify.New(cfg.ClientID, cfg.ClientSecret, cfg.RedirectURL)
	rm := room.New(cfg, sp, st)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Restore persisted state before accepting any client.
	loaded, err := st.Load()
	if err != nil {
		return fmt.Errorf("loading persisted state: %w", err)
	}
	rm.Restore(ctx, loaded)

	rm.Start(ctx)

	server := web.NewServer(cfg, rm, sp)
	return server.Run(func() {
		// One last write so a clean restart picks up where we left off.
		if err := rm.PersistAll(); err != nil {
			log.Printf("main: persisting on shutdown: %v", err)
		}
	})
}
