package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"mytasks/internal/api"
	"mytasks/internal/auth"
	"mytasks/internal/config"
	"mytasks/internal/legacy"
	"mytasks/internal/logging"
	"mytasks/internal/notify"
	"mytasks/internal/reminder"
	"mytasks/internal/store"
	"mytasks/internal/sweeper"
	"mytasks/internal/tasks"
)

func main() {
	configPath := flag.String("config", "", "optional config file (yaml, json, toml or env)")
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	cfg, err := config.Read(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("read config")
	}

	logger, logCloser, err := logging.New(cfg.Env, cfg.LogLevel, cfg.LogFile)
	if err != nil {
		log.Fatal().Err(err).Msg("init logger")
	}
	defer logCloser.Close()
	log.Logger = logger
	logger.Info().Str("env", cfg.Env).Str("store", cfg.Store.Driver).Msg("starting mytasks")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		repo store.Repository
		db   *sql.DB
	)
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		pool, err := store.ConnectPostgres(ctx, cfg.Postgres.URL(), cfg.Postgres.ConnectTimeout, cfg.Postgres.PingTimeout)
		if err != nil {
			logger.Fatal().Err(err).Msg("connect postgres")
		}
		defer pool.Close()
		if err := store.EnsurePostgresSchema(ctx, pool); err != nil {
			logger.Fatal().Err(err).Msg("ensure schema")
		}
		repo = store.NewPostgresRepo(pool)
	default:
		dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)", cfg.Store.SQLitePath)
		db, err = sql.Open("sqlite", dsn)
		if err != nil {
			logger.Fatal().Err(err).Msg("open db")
		}
		defer db.Close()
		db.SetMaxOpenConns(1) // SQLite single writer
		if err := store.EnsureSchema(db); err != nil {
			logger.Fatal().Err(err).Msg("ensure schema")
		}
		repo = store.NewSQLiteRepo(db)
	}

	var kv legacy.KV
	switch cfg.Legacy.Backend {
	case config.BackendRedis:
		client, err := legacy.ConnectRedis(ctx, cfg.Legacy.RedisAddr, cfg.Legacy.RedisPassword, cfg.Legacy.RedisDB)
		if err != nil {
			logger.Fatal().Err(err).Msg("connect redis")
		}
		defer client.Close()
		kv = legacy.NewRedisKV(client)
	default:
		if err := legacy.EnsureSchema(db); err != nil {
			logger.Fatal().Err(err).Msg("ensure legacy schema")
		}
		kv = legacy.NewSQLiteKV(db)
	}
	legacyStore, err := legacy.NewStore(kv)
	if err != nil {
		logger.Fatal().Err(err).Msg("legacy store")
	}

	notifier, dispatcher := newNotifier(cfg.Notify, logger)

	inbox := reminder.NewInbox(cfg.Reminder.InboxSize)
	sched := reminder.New(
		logger.With().Str("component", "reminder").Logger(),
		repo, inbox, notifier,
		reminder.Options{
			DefaultDelay:  cfg.Reminder.DefaultDelay,
			LookupTimeout: cfg.Reminder.LookupTimeout,
		},
	)

	authSvc := auth.NewService(logger.With().Str("component", "auth").Logger(), repo, repo, auth.Config{
		Issuer:          cfg.JWT.Issuer,
		SigningKey:      []byte(cfg.JWT.SigningKey),
		AccessTokenTTL:  cfg.JWT.AccessTokenTTL,
		RefreshTokenTTL: cfg.JWT.RefreshTokenTTL,
	})
	taskSvc := tasks.NewService(
		logger.With().Str("component", "tasks").Logger(),
		repo, sched, inbox, notifier, legacyStore, cfg.Reminder.SnoozeDelay,
	)

	sweep, err := sweeper.NewService(logger.With().Str("component", "sweeper").Logger(), repo, cfg.Sweeper.Cron)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid sweeper cron expression")
	}
	if err := sweep.Start(); err != nil {
		logger.Fatal().Err(err).Msg("start sweeper")
	}

	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: api.NewServer(api.Options{
		Logger:    logger.With().Str("component", "api").Logger(),
		Auth:      authSvc,
		Tasks:     taskSvc,
		Reminders: sched,
		Debug:     cfg.HTTP.Debug,
	})}
	go func() {
		logger.Info().Str("addr", cfg.HTTP.Addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server")
		}
	}()

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	logger.Info().Msg("shutting down")
	cancel()
	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancelTimeout()
	_ = srv.Shutdown(ctxTimeout)
	sweep.Stop(ctxTimeout)
	sched.Stop()
	if dispatcher != nil {
		dispatcher.Wait()
	}
}

// newNotifier picks the system notification channel. Without a webhook or
// command, permission is denied and reminders stay in-app only.
func newNotifier(cfg config.NotifyConfig, logger zerolog.Logger) (notify.Notifier, *notify.Dispatcher) {
	var next notify.Notifier
	switch {
	case cfg.WebhookURL != "":
		next = notify.NewWebhook(cfg.WebhookURL, cfg.Timeout, nil)
	case cfg.Command != "":
		next = notify.ParseCommand(cfg.Command)
	default:
		return notify.Log{Logger: logger.With().Str("component", "notify").Logger()}, nil
	}
	d := notify.NewDispatcher(next, cfg.Workers, cfg.Timeout, logger.With().Str("component", "notify").Logger())
	return d, d
}
