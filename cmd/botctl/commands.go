package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/addavriance/spotify-to-tg/artwork"
	"github.com/addavriance/spotify-to-tg/channelsync"
	"github.com/addavriance/spotify-to-tg/config"
	"github.com/addavriance/spotify-to-tg/crypto"
	"github.com/addavriance/spotify-to-tg/db"
	"github.com/addavriance/spotify-to-tg/nowplaying"
	"github.com/addavriance/spotify-to-tg/oauth"
	"github.com/addavriance/spotify-to-tg/poller"
	"github.com/addavriance/spotify-to-tg/progressbar"
	"github.com/addavriance/spotify-to-tg/spotifyapi"
	"github.com/addavriance/spotify-to-tg/store"
	"github.com/addavriance/spotify-to-tg/telegram"
)

func newUsersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "List connected users with their channel bindings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()
			sealer, err := e.sealer()
			if err != nil {
				return err
			}
			return listUsers(cmd.Context(), cmd.OutOrStdout(), store.NewCredentialStore(e.kv, sealer), store.NewChannelStore(e.kv), time.Now())
		},
	}
}

type credentialLister interface {
	Users(ctx context.Context) ([]string, error)
	Get(ctx context.Context, userID string) (store.Credential, error)
}

type bindingGetter interface {
	Get(ctx context.Context, userID string) (store.Binding, error)
}

func listUsers(ctx context.Context, w io.Writer, creds credentialLister, channels bindingGetter, now time.Time) error {
	users, err := creds.Users(ctx)
	if err != nil {
		return err
	}
	sort.Strings(users)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "USER\tTOKEN\tCHANNEL\tMESSAGE\tLAST TRACK")
	for _, u := range users {
		token := "ok"
		if c, err := creds.Get(ctx, u); err != nil {
			token = "unreadable"
		} else if c.Expired(now, 0) {
			token = "expired"
		}
		channel, message, track := "-", "-", "idle"
		b, err := channels.Get(ctx, u)
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			channel = "error"
		default:
			channel = "@" + b.Channel
			if b.MessageID != nil {
				message = strconv.Itoa(*b.MessageID)
			}
			if b.LastTrackID != nil {
				track = *b.LastTrackID
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", u, token, channel, message, track)
	}
	return tw.Flush()
}

func newSyncOnceCommand() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "sync-once",
		Short: "Run one synchronization cycle against Telegram now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.close()
			if err := e.cfg.ValidateBotReady(); err != nil {
				return err
			}
			p, err := buildPoller(e)
			if err != nil {
				return err
			}
			if userID != "" {
				if err := p.SyncUser(ctx, userID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "synced %s\n", userID)
				return nil
			}
			printReport(cmd.OutOrStdout(), p.RunCycle(ctx))
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "sync a single user id (e.g. tg_123)")
	return cmd
}

func buildPoller(e *env) (*poller.Poller, error) {
	sealer, err := e.sealer()
	if err != nil {
		return nil, err
	}
	creds := store.NewCredentialStore(e.kv, sealer)
	channels := store.NewChannelStore(e.kv)

	sp := spotifyapi.New(spotifyapi.Config{
		ClientID:     e.cfg.SpotifyClientID,
		ClientSecret: e.cfg.SpotifyClientSecret,
		RedirectURI:  e.cfg.SpotifyRedirectURI,
		Scopes:       strings.Fields(e.cfg.SpotifyScopes),
	})
	refresher := oauth.NewRefresher(creds, func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
		tok, err := sp.Refresh(ctx, refreshToken)
		if err != nil {
			return "", "", time.Time{}, "", err
		}
		return tok.AccessToken, tok.RefreshToken, tok.Expiry, tok.Scope, nil
	})

	tg, err := telegram.New(telegram.Options{Token: e.cfg.TelegramBotToken, RPS: e.cfg.TelegramRPS})
	if err != nil {
		return nil, err
	}
	syncer := channelsync.New(tg, artwork.NewFetcher(nil), channels, channelsync.Options{
		Settle:    e.cfg.SettleDelay,
		IdleTitle: e.cfg.IdleTitle,
	})
	return poller.New(creds, nowplaying.NewProvider(refresher, sp), channels, syncer, poller.Options{
		UserDelay: e.cfg.UserDelay,
		KV:        e.kv,
	}), nil
}

func printReport(w io.Writer, rep poller.CycleReport) {
	fmt.Fprintf(w, "users=%d synced=%d skipped=%d failed=%d duration=%s\n",
		rep.Users, rep.Synced, rep.Skipped, rep.Failed, rep.Duration.Round(time.Millisecond))
	if rep.Err != nil {
		fmt.Fprintf(w, "error: %v\n", rep.Err)
	}
}

func newSealTokensCommand() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "seal-tokens",
		Short: "Encrypt credentials that are still stored in plaintext",
		Long: "Rewrites every plaintext or legacy credential through the AES-GCM sealer.\n" +
			"Already sealed credentials are left alone, so the command is safe to re-run.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()
			sealer, err := e.sealer()
			if err != nil {
				return err
			}
			if sealer == nil {
				return errors.New("ENCRYPTION_KEY is required to seal tokens")
			}
			res, err := sealTokens(cmd.Context(), e.kv, sealer, dryRun)
			fmt.Fprintf(cmd.OutOrStdout(), "total=%d sealed=%d already=%d errors=%d dry_run=%t\n",
				res.Total, res.Sealed, res.Already, res.Errors, dryRun)
			return err
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be sealed without writing")
	return cmd
}

type sealResult struct {
	Total   int
	Sealed  int
	Already int
	Errors  int
}

// sealTokens reads every credential and writes plaintext ones back sealed.
func sealTokens(ctx context.Context, kv store.KV, sealer crypto.Sealer, dryRun bool) (sealResult, error) {
	creds := store.NewCredentialStore(kv, sealer)
	users, err := creds.Users(ctx)
	if err != nil {
		return sealResult{}, fmt.Errorf("list credentials: %w", err)
	}
	res := sealResult{Total: len(users)}
	for i, u := range users {
		log := slog.With(slog.String("user_id", u), slog.Int("index", i+1), slog.Int("total", len(users)))

		sealed, err := creds.Sealed(ctx, u)
		if err != nil {
			log.Error("failed to inspect credential", slog.Any("err", err))
			res.Errors++
			continue
		}
		if sealed {
			res.Already++
			continue
		}
		if dryRun {
			log.Info("would seal credential (dry-run)")
			res.Sealed++
			continue
		}
		c, err := creds.Get(ctx, u)
		if err == nil {
			err = creds.Put(ctx, u, c)
		}
		if err != nil {
			log.Error("failed to seal credential", slog.Any("err", err))
			res.Errors++
			continue
		}
		log.Info("sealed credential")
		res.Sealed++
	}
	if res.Errors > 0 {
		return res, fmt.Errorf("sealing completed with %d errors", res.Errors)
	}
	return res, nil
}

func newRenderCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "render <elapsed> <duration>",
		Short: "Print the progress line for a playback position",
		Long:  `Positions are Go durations ("1m30s") or plain milliseconds.`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			elapsed, err := parseMillis(args[0])
			if err != nil {
				return fmt.Errorf("elapsed: %w", err)
			}
			duration, err := parseMillis(args[1])
			if err != nil {
				return fmt.Errorf("duration: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), progressbar.Render(elapsed, duration))
			return nil
		},
	}
}

func parseMillis(s string) (int64, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ms, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	return d.Milliseconds(), nil
}

func newMigrateCommand() *cobra.Command {
	var down bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending Postgres migrations, or roll back the latest one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.StoreBackend != "postgres" {
				return fmt.Errorf("migrate needs STORE_BACKEND=postgres, got %q", cfg.StoreBackend)
			}
			database, err := db.Connect(cfg.DBDsn)
			if err != nil {
				return err
			}
			defer func() { _ = database.Close() }()

			if down {
				err = db.MigrateDown(database)
			} else {
				err = db.RunMigrations(database)
			}
			if err != nil {
				return err
			}
			version, dirty, err := db.GetMigrationVersion(database)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version=%d dirty=%t\n", version, dirty)
			return nil
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "roll back the most recent migration (drops stored data)")
	return cmd
}
