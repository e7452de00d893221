package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"askthemall/internal/config"
	"askthemall/internal/core"
	"askthemall/internal/metrics"
	"askthemall/internal/persistence"
	"askthemall/internal/providers/registry"
	"askthemall/internal/ratelimit"
	"askthemall/internal/storage/docstore"
	"askthemall/internal/storage/sqlstore"
	"askthemall/internal/telegram"
	"askthemall/internal/view"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setupLogger(cfg.Log.Level)
	log.Info().
		Str("app", cfg.AppName).
		Str("store", cfg.Store.Driver).
		Int("chat_bots", len(cfg.ChatBots)).
		Msg("starting askthemall")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	repos, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}
	defer closeStore()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect redis")
	}
	defer rdb.Close()

	m := metrics.Global()

	clients, err := registry.BuildAll(cfg.ChatBots, registry.BuildOptions{
		Providers:   cfg.Providers,
		HTTPClient:  &http.Client{Timeout: cfg.HTTP.ClientTimeout},
		MaxRetries:  cfg.HTTP.MaxRetries,
		BackoffBase: cfg.HTTP.BackoffBase,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build chat clients")
	}
	for _, c := range clients {
		log.Info().Str("chat_bot_id", c.ID()).Str("name", c.Name()).Msg("chat bot enabled")
	}

	policy := core.UnknownChatBotPlaceholder
	if cfg.UnknownChatBotPolicy == config.UnknownChatBotStrict {
		policy = core.UnknownChatBotStrict
	}
	model, err := core.New(ctx, core.Config{
		Repositories:    repos,
		Clients:         clients,
		Logger:          log.Logger.With().Str("component", "core").Logger(),
		Metrics:         m,
		UnknownChatBots: policy,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize model")
	}

	viewModel := view.New(view.Config{
		AppTitle: cfg.AppName,
		Model:    model,
		Logger:   log.Logger.With().Str("component", "view").Logger(),
		LiveTTL:  cfg.Redis.SessionTTL,
	})

	bot, err := gotgbot.NewBot(cfg.BotToken, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create telegram bot")
	}
	log.Info().Str("bot_username", bot.User.Username).Int64("bot_id", bot.User.Id).Msg("telegram bot initialized")

	errCh := make(chan error, 2)
	logTelegramErr := func(err error) {
		log.Error().Str("component", "telegram").Msg(sanitizeTelegramErr(err, cfg.BotToken))
	}

	dispatcher := ext.NewDispatcher(&ext.DispatcherOpts{
		MaxRoutines:      100,
		UnhandledErrFunc: logTelegramErr,
		Processor: telegram.Processor{
			Dedupe:         ratelimit.NewUpdateDeduplicator(rdb, "", cfg.Redis.UpdateTTL),
			Metrics:        m,
			Logger:         log.Logger,
			AllowedUserIDs: cfg.AllowedUserIDs,
		},
	})
	service := telegram.NewService(telegram.Config{
		View:        viewModel,
		Sessions:    view.NewRedisSessionStore(rdb, "", cfg.Redis.SessionTTL),
		RateLimiter: ratelimit.NewLimiter(rdb, "", cfg.Rate.PerHour),
		Logger:      log.Logger.With().Str("component", "telegram").Logger(),
		Metrics:     m,
	})
	service.Register(dispatcher)
	updater := ext.NewUpdater(dispatcher, &ext.UpdaterOpts{
		UnhandledErrFunc: logTelegramErr,
	})
	if err := updater.StartPolling(bot, &ext.PollingOpts{
		EnableWebhookDeletion: true,
		DropPendingUpdates:    true,
		GetUpdatesOpts: &gotgbot.GetUpdatesOpts{
			Timeout: 50,
			RequestOpts: &gotgbot.RequestOpts{
				Timeout: 60 * time.Second,
			},
		},
	}); err != nil {
		log.Fatal().Err(err).Msg("failed to start polling")
	}
	log.Info().Msg("polling started")

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.HTTP.HealthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle(cfg.HTTP.MetricsPath, promhttp.Handler())
	httpServer := &http.Server{
		Addr:              cfg.HTTP.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.HTTP.ListenAddr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("runtime error")
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := updater.Stop(); err != nil {
		log.Error().Err(err).Msg("failed to stop updater")
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to stop http server")
	}

	log.Info().Msg("stopped")
}

// openStore returns the repositories of the configured backend and a close func.
func openStore(ctx context.Context, cfg *config.Config) (persistence.Repositories, func(), error) {
	switch cfg.Store.Driver {
	case config.StoreOpenSearch:
		client, err := docstore.Open(docstore.Config{
			Addresses:   cfg.Store.OpenSearch.Addresses,
			Username:    cfg.Store.OpenSearch.Username,
			Password:    cfg.Store.OpenSearch.Password,
			IndexPrefix: cfg.Store.OpenSearch.IndexPrefix,
		})
		if err != nil {
			return persistence.Repositories{}, nil, err
		}
		if err := client.Ping(ctx); err != nil {
			return persistence.Repositories{}, nil, err
		}
		if cfg.Store.AutoMigrate {
			migration := docstore.NewMigration(client, log.Logger.With().Str("component", "docstore").Logger())
			if err := migration.Migrate(ctx); err != nil {
				return persistence.Repositories{}, nil, err
			}
		}
		return client.Repositories(), func() {}, nil

	default:
		store, err := sqlstore.Open(ctx, cfg.Store.Driver, cfg.Store.DSN, cfg.Store.AutoMigrate)
		if err != nil {
			return persistence.Repositories{}, nil, err
		}
		return store.Repositories(), func() { _ = store.Close() }, nil
	}
}

func setupLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLogLevel(level))
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func sanitizeTelegramErr(err error, token string) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if strings.TrimSpace(token) == "" {
		return msg
	}

	msg = strings.ReplaceAll(msg, token, "<redacted-token>")
	if idx := strings.Index(token, ":"); idx > 0 {
		botID := token[:idx]
		msg = strings.ReplaceAll(msg, "/bot"+botID+":", "/bot<redacted>:")
		msg = strings.ReplaceAll(msg, "bot"+botID+"/", "bot<redacted>/")
	}
	return msg
}
