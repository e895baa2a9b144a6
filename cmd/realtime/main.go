package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/classlab/realtime/internal/directory"
	"github.com/classlab/realtime/internal/server"
	"github.com/classlab/realtime/pkg/config"
	"github.com/classlab/realtime/pkg/envelope"
	"github.com/classlab/realtime/pkg/logging"
)

func main() {
	logger := logging.New(logging.LevelInfo)
	slog.SetDefault(logger)

	cfg, err := config.Load(logger, "config")
	if err != nil {
		logger.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger = logging.New(logging.ParseLevel(cfg.LogLevel))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background())
	defer stop()

	store := seedStore(logger, cfg.Directory)
	app := server.NewApp(logger, ctx, cfg, store)
	if err := app.Run(); err != nil {
		logger.Error("Application run failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("Application shut down successfully.")
}

// seedStore builds the standalone in-memory directory from config. A real
// deployment swaps this for a client of the application store.
func seedStore(logger *slog.Logger, cfg config.DirectoryConfig) directory.Store {
	store := directory.NewMemoryStore()
	for _, u := range cfg.Users {
		store.AddUser(envelope.Identity{
			ID:          u.ID,
			DisplayName: u.DisplayName,
			Email:       u.Email,
			Role:        u.Role,
		})
	}
	for _, w := range cfg.Whiteboards {
		participants := make(map[string]envelope.Role, len(w.Participants))
		for userID, role := range w.Participants {
			participants[userID] = envelope.Role(role)
		}
		store.AddWhiteboard(directory.Whiteboard{
			ID:           w.ID,
			OwnerID:      w.OwnerID,
			IsPublic:     w.IsPublic,
			Participants: participants,
		})
	}
	for _, c := range cfg.Conversations {
		if len(c.Participants) != 2 {
			logger.Warn("Skipping conversation seed without exactly two participants", slog.String("id", c.ID))
			continue
		}
		store.AddConversation(c.ID, c.Participants[0], c.Participants[1])
	}
	logger.Info("Directory store seeded",
		slog.Int("users", len(cfg.Users)),
		slog.Int("whiteboards", len(cfg.Whiteboards)),
		slog.Int("conversations", len(cfg.Conversations)),
	)
	return store
}
