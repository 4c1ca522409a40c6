// Command spotify-to-tg mirrors each connected user's Spotify playback into a
// Telegram channel they own.
// It:
//   - Loads configuration and initializes structured logging.
//   - Opens the credential/binding store (Postgres with migrations, Redis, or memory).
//   - Starts the bot (webhook or long polling), the sync scheduler and the
//     OAuth token refresher.
//   - Exposes the HTTP surface: authorization flow, webhook, admin, /healthz, /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/addavriance/spotify-to-tg/artwork"
	"github.com/addavriance/spotify-to-tg/bot"
	"github.com/addavriance/spotify-to-tg/channelsync"
	"github.com/addavriance/spotify-to-tg/config"
	"github.com/addavriance/spotify-to-tg/crypto"
	"github.com/addavriance/spotify-to-tg/db"
	"github.com/addavriance/spotify-to-tg/nowplaying"
	"github.com/addavriance/spotify-to-tg/oauth"
	"github.com/addavriance/spotify-to-tg/poller"
	"github.com/addavriance/spotify-to-tg/server"
	"github.com/addavriance/spotify-to-tg/spotifyapi"
	"github.com/addavriance/spotify-to-tg/store"
	"github.com/addavriance/spotify-to-tg/telegram"
	"github.com/addavriance/spotify-to-tg/telemetry"
)

const (
	serviceName    = "spotify-to-tg"
	serviceVersion = "1.0.0"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	setupLogger()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateBotReady(); err != nil {
		slog.Error("bot is not configured", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing(telemetry.TracingConfigFromEnv(), serviceName, serviceVersion)
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open store", slog.String("backend", cfg.StoreBackend), slog.Any("err", err))
		os.Exit(1)
	}
	defer backend.close()

	var sealer crypto.Sealer
	if cfg.EncryptionKey != "" {
		s, err := crypto.NewAESSealer(cfg.EncryptionKey)
		if err != nil {
			slog.Error("invalid ENCRYPTION_KEY", slog.Any("err", err))
			os.Exit(1)
		}
		sealer = s
	} else {
		slog.Warn("ENCRYPTION_KEY not set - OAuth tokens are stored in plaintext")
	}
	creds := store.NewCredentialStore(backend.kv, sealer)
	channels := store.NewChannelStore(backend.kv)

	sp := spotifyapi.New(spotifyapi.Config{
		ClientID:     cfg.SpotifyClientID,
		ClientSecret: cfg.SpotifyClientSecret,
		RedirectURI:  cfg.SpotifyRedirectURI,
		Scopes:       strings.Fields(cfg.SpotifyScopes),
	})
	refresher := oauth.NewRefresher(creds, func(rctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
		tok, err := sp.Refresh(rctx, refreshToken)
		if err != nil {
			return "", "", time.Time{}, "", err
		}
		return tok.AccessToken, tok.RefreshToken, tok.Expiry, tok.Scope, nil
	})
	oauth.StartRefresher(ctx, refresher, cfg.RefreshInterval, cfg.RefreshWindow)
	snapshots := nowplaying.NewProvider(refresher, sp)

	tg, err := telegram.New(telegram.Options{Token: cfg.TelegramBotToken, RPS: cfg.TelegramRPS})
	if err != nil {
		slog.Error("telegram bot init failed", slog.Any("err", err))
		os.Exit(1)
	}
	botUsername := cfg.TelegramBotUsername
	if botUsername == "" {
		botUsername = tg.Username()
	}
	slog.Info("telegram bot ready", slog.String("username", tg.Username()))

	syncer := channelsync.New(tg, artwork.NewFetcher(nil), channels, channelsync.Options{
		Settle:    cfg.SettleDelay,
		IdleTitle: cfg.IdleTitle,
	})
	pl := poller.New(creds, snapshots, channels, syncer, poller.Options{
		UserDelay: cfg.UserDelay,
		KV:        backend.kv,
	})
	sched, err := poller.NewScheduler(pl, cfg.PollSchedule, cfg.PollFanout, cfg.PollStagger, nil)
	if err != nil {
		slog.Error("invalid POLL_SCHEDULE", slog.String("schedule", cfg.PollSchedule), slog.Any("err", err))
		os.Exit(1)
	}
	sched.Start()
	defer sched.Stop()

	router := bot.NewRouter(bot.Deps{
		Messenger:   tg,
		Credentials: creds,
		Channels:    channels,
		Snapshots:   snapshots,
		Binder:      pl,
		Syncer:      pl,
		PublicURL:   cfg.PublicURL,
		BotUsername: botUsername,
	})

	switch cfg.TelegramMode {
	case "polling":
		updates, err := tg.Updates(ctx)
		if err != nil {
			slog.Error("failed to start long polling", slog.Any("err", err))
			os.Exit(1)
		}
		go router.Poll(ctx, updates)
		slog.Info("receiving updates by long polling")
	default:
		hook := cfg.PublicURL + "/webhook"
		if cfg.TelegramWebhookSecret != "" {
			hook += "?secret=" + url.QueryEscape(cfg.TelegramWebhookSecret)
		}
		if err := tg.SetWebhook(ctx, hook); err != nil {
			// the server still starts so the webhook can be registered later
			slog.Error("failed to register webhook", slog.Any("err", err))
		} else {
			slog.Info("webhook registered", slog.String("url", cfg.PublicURL+"/webhook"))
		}
	}

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	go func() {
		err := server.Start(ctx, server.Deps{
			OAuth:         sp,
			Credentials:   creds,
			Snapshots:     snapshots,
			Cycles:        pl,
			Updates:       router,
			Notifier:      router,
			KV:            backend.kv,
			Ping:          backend.ping,
			Redis:         backend.rdb,
			WebhookSecret: cfg.TelegramWebhookSecret,
			BotUsername:   botUsername,
		}, cfg.HTTPAddr)
		if err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
			stop()
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
}

// setupLogger configures the default logger. Defaults: level=info, format=text.
func setupLogger() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		format = "text"
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", format))
}

type storeBackend struct {
	kv    store.KV
	ping  func(context.Context) error
	rdb   *redis.Client
	close func()
}

// openStore connects the configured backend. Postgres runs versioned
// migrations first and falls back to the embedded schema for databases that
// predate them.
func openStore(ctx context.Context, cfg *config.Config) (*storeBackend, error) {
	switch cfg.StoreBackend {
	case "memory":
		slog.Warn("using in-memory store - credentials and bindings are lost on restart")
		return &storeBackend{kv: store.NewMemoryKV(), close: func() {}}, nil
	case "redis":
		kv, err := store.NewRedisKV(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return &storeBackend{kv: kv, ping: kv.Ping, rdb: kv.RDB(), close: func() {
			if err := kv.Close(); err != nil {
				slog.Error("failed to close redis", slog.Any("err", err))
			}
		}}, nil
	}

	database, err := db.Connect(cfg.DBDsn)
	if err != nil {
		return nil, err
	}
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting fallback to embedded SQL",
			slog.Any("err", err),
			slog.String("component", "db_migrate"))
		if err := db.Migrate(ctx, database); err != nil {
			_ = database.Close()
			return nil, err
		}
	}
	kv := db.NewKV(database)
	backend := &storeBackend{kv: kv, ping: kv.Ping, close: func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}}

	// Redis can still back the distributed rate limiter next to Postgres.
	if os.Getenv("RATE_LIMIT_BACKEND") == "redis" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Warn("invalid REDIS_URL, using in-memory rate limiter", slog.Any("err", err))
			return backend, nil
		}
		rdb := redis.NewClient(opts)
		backend.rdb = rdb
		closeDB := backend.close
		backend.close = func() {
			closeDB()
			_ = rdb.Close()
		}
	}
	return backend, nil
}
