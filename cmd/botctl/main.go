// Command botctl is an operator tool for the bot's store.
//
// Usage:
//
//	botctl users                       list connected users and their channels
//	botctl sync-once [--user tg_123]   run one synchronization cycle (or one user)
//	botctl seal-tokens [--dry-run]     encrypt credentials still stored in plaintext
//	botctl render <elapsed> <duration> print the progress line for a position
//	botctl migrate [--down]            apply (or roll back one) Postgres migration
//
// Environment Variables:
//
//	STORE_BACKEND, DB_DSN, REDIS_URL: where credentials and bindings live
//	ENCRYPTION_KEY: base64 32-byte key (required by seal-tokens)
//	TELEGRAM_BOT_TOKEN, SPOTIFY_CLIENT_ID, SPOTIFY_CLIENT_SECRET: required by sync-once
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/addavriance/spotify-to-tg/config"
	"github.com/addavriance/spotify-to-tg/crypto"
	"github.com/addavriance/spotify-to-tg/db"
	"github.com/addavriance/spotify-to-tg/store"
)

func main() {
	_ = godotenv.Load()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "botctl",
		Short:        "Operate the Spotify to Telegram channel bot",
		SilenceUsage: true,
	}
	root.AddCommand(
		newUsersCommand(),
		newSyncOnceCommand(),
		newSealTokensCommand(),
		newRenderCommand(),
		newMigrateCommand(),
	)
	return root
}

// env bundles what every store-backed command needs.
type env struct {
	cfg   *config.Config
	kv    store.KV
	close func()
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	switch cfg.StoreBackend {
	case "memory":
		return nil, fmt.Errorf("STORE_BACKEND=memory has nothing to operate on")
	case "redis":
		kv, err := store.NewRedisKV(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return &env{cfg: cfg, kv: kv, close: func() { _ = kv.Close() }}, nil
	}
	database, err := db.Connect(cfg.DBDsn)
	if err != nil {
		return nil, err
	}
	if err := database.PingContext(ctx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &env{cfg: cfg, kv: db.NewKV(database), close: func() { _ = database.Close() }}, nil
}

// sealer returns the configured sealer, or nil when no key is set.
func (e *env) sealer() (crypto.Sealer, error) {
	if strings.TrimSpace(e.cfg.EncryptionKey) == "" {
		return nil, nil
	}
	s, err := crypto.NewAESSealer(e.cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("ENCRYPTION_KEY: %w", err)
	}
	return s, nil
}
