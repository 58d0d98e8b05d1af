package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	gomongo "go.mongodb.org/mongo-driver/mongo"

	"github.com/importauto/leadline/internal/api"
	"github.com/importauto/leadline/internal/api/handler"
	"github.com/importauto/leadline/internal/api/middleware"
	"github.com/importauto/leadline/internal/core/ports"
	"github.com/importauto/leadline/internal/core/service"
	"github.com/importauto/leadline/internal/infrastructure/config"
	"github.com/importauto/leadline/internal/infrastructure/db/mongo"
	"github.com/importauto/leadline/internal/infrastructure/db/redis"
	"github.com/importauto/leadline/internal/infrastructure/db/sqlstore"
	"github.com/importauto/leadline/internal/infrastructure/gateway/telegram"
	"github.com/importauto/leadline/internal/infrastructure/gateway/whatsapp"
	"github.com/importauto/leadline/internal/infrastructure/memory"
	"github.com/importauto/leadline/internal/infrastructure/notify"
	"github.com/importauto/leadline/internal/infrastructure/queue"
	"github.com/importauto/leadline/internal/infrastructure/scheduler"
	"github.com/importauto/leadline/internal/security"
	"github.com/importauto/leadline/pkg/logger"
)

const (
	shutdownTimeout = 15 * time.Second
	dedupTTL        = 24 * time.Hour
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server",
		Long:  "Loads configuration from the environment (and .env when present), migrates the store and serves the webhook until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load(ctx)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			log := logger.Init(logger.Options{
				Level:   cfg.LogLevel,
				Pretty:  cfg.IsDevelopment(),
				File:    cfg.LogFile,
				Service: "leadline",
				Version: Version,
			})
			return runServe(ctx, cfg, log)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	a, err := buildApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	a.start(ctx)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Port).Str("platform", cfg.Platform).Msg("leadline listening")
		errCh <- a.echo.Start(":" + cfg.Port)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// app is the wired process: HTTP surface plus the background workers.
type app struct {
	echo       *echo.Echo
	store      *sqlstore.Store
	dispatcher *queue.Dispatcher
	scheduler  *scheduler.Scheduler
	closers    []func()
}

func (a *app) start(ctx context.Context) {
	a.dispatcher.Start(ctx)
	a.scheduler.Start(ctx)
}

// close releases connections in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func buildApp(ctx context.Context, cfg *config.Config, log zerolog.Logger) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	// --- Relational store ---
	db, err := sqlstore.Open(ctx, sqlstore.Options{
		Driver: cfg.Database.Driver,
		DSN:    cfg.Database.DSN,
		Debug:  cfg.LogLevel == "debug" || cfg.LogLevel == "trace",
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := sqlstore.AutoMigrate(db); err != nil {
		return nil, err
	}
	a.store = sqlstore.NewStore(db)

	// --- Redis (optional) ---
	var rdb *goredis.Client
	if cfg.Redis.Addr != "" {
		rdb, err = redis.Connect(ctx, redis.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = rdb.Close() })
	}

	var sessions ports.SessionStore = memory.NewSessionStore()
	if cfg.Operator.SessionBackend == config.SessionRedis {
		sessions = redis.NewSessionStore(rdb)
	}
	var dedup ports.DedupChecker = memory.NewDedupChecker(dedupTTL)
	if rdb != nil {
		dedup = redis.NewDedupChecker(rdb)
	}

	// --- MongoDB (optional) ---
	var mdb *gomongo.Database
	var submissions ports.FlowSubmissionRepository
	if cfg.Mongo.URI != "" {
		conn, err := mongo.Open(ctx, mongo.Config{URI: cfg.Mongo.URI, Database: cfg.Mongo.Database})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = conn.Close() })
		if err := mongo.EnsureIndexes(ctx, conn.DB); err != nil {
			return nil, err
		}
		mdb = conn.DB
		submissions = mongo.NewFlowSubmissionRepository(conn.DB)
	}

	// --- Outbound ---
	gateway, err := buildGateway(cfg, &http.Client{Timeout: cfg.Dispatch.Timeout})
	if err != nil {
		return nil, err
	}
	notifier, err := buildNotifier(cfg, log)
	if err != nil {
		return nil, err
	}

	// --- Encrypted forms ---
	var tokens *security.FlowTokens
	var tokenIssuer ports.FlowTokenIssuer
	if cfg.Flow.TokenSecret != "" {
		tokens = security.NewFlowTokens(cfg.Flow.TokenSecret, cfg.Flow.TokenTTL)
		tokenIssuer = tokens
	}
	cipher, err := buildFlowCipher(cfg)
	if err != nil {
		return nil, err
	}
	var flow ports.FlowService
	if cipher != nil && tokens != nil {
		flow = service.NewFlowService(tokens, submissions, log)
	} else if cipher != nil {
		log.Warn().Msg("FLOW_PRIVATE_KEY set without FLOW_TOKEN_SECRET; encrypted form requests will be rejected")
		cipher = nil
	}

	// --- Services ---
	replies := service.DefaultReplies()
	conversation := service.NewConversationService(a.store, gateway, notifier, tokenIssuer, replies, service.ConversationConfig{
		OperatorID:      cfg.Operator.ID,
		Platform:        cfg.Platform,
		FlowID:          cfg.Flow.ID,
		FlowScreen:      cfg.Flow.EntryScreen,
		DispatchTimeout: cfg.Dispatch.Timeout,
	}, log)
	operator := service.NewOperatorService(a.store, sessions, gateway, replies, cfg.Operator.Password, cfg.Dispatch.Timeout, log)
	a.dispatcher = queue.NewDispatcher(cfg.Serializer.Workers, log)
	inbound := service.NewInboundService(cfg.Operator.ID, conversation, operator, a.dispatcher, dedup, log)

	a.scheduler, err = scheduler.New(scheduler.DefaultGaugeSpec, a.store, a.dispatcher, log)
	if err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}

	// --- HTTP ---
	a.echo = api.NewRouter(api.RouterDeps{
		Log:     log,
		Webhook: handler.NewWebhookHandler(cfg.VerifyToken, cipher, flow, inbound, log),
		Signature: middleware.SignatureOptions{
			AppSecret:            cfg.AppSecret,
			AcceptTelegramSecret: cfg.Platform == config.PlatformTelegram,
			Log:                  log,
		},
		Store: a.store,
		Mongo: mdb,
		Redis: rdb,
	})
	return a, nil
}

func buildGateway(cfg *config.Config, client *http.Client) (ports.Gateway, error) {
	switch cfg.Platform {
	case config.PlatformTelegram:
		gw, err := telegram.NewGateway(cfg.Telegram.BotToken, cfg.Telegram.APIBase, client)
		if err != nil {
			return nil, fmt.Errorf("telegram gateway: %w", err)
		}
		return gw, nil
	default:
		return whatsapp.NewGateway(whatsapp.Config{
			Token:         cfg.WhatsApp.Token,
			PhoneNumberID: cfg.WhatsApp.PhoneNumberID,
			APIBase:       cfg.WhatsApp.APIBase,
		}, client), nil
	}
}

// buildNotifier returns nil when no external channel is configured.
func buildNotifier(cfg *config.Config, log zerolog.Logger) (ports.LeadNotifier, error) {
	multi := notify.NewMulti(log)
	if cfg.Notify.SlackToken != "" && cfg.Notify.SlackChannel != "" {
		s, err := notify.NewSlack(cfg.Notify.SlackToken, cfg.Notify.SlackChannel)
		if err != nil {
			return nil, fmt.Errorf("slack notifier: %w", err)
		}
		multi.Add("slack", s)
	}
	if cfg.Notify.DiscordToken != "" && cfg.Notify.DiscordChannel != "" {
		d, err := notify.NewDiscord(cfg.Notify.DiscordToken, cfg.Notify.DiscordChannel)
		if err != nil {
			return nil, fmt.Errorf("discord notifier: %w", err)
		}
		multi.Add("discord", d)
	}
	if multi.Len() == 0 {
		return nil, nil
	}
	return multi, nil
}

// buildFlowCipher returns nil when no form key is configured.
func buildFlowCipher(cfg *config.Config) (*security.FlowCipher, error) {
	if !cfg.FlowEnabled() {
		return nil, nil
	}
	raw, err := cfg.FlowPrivateKey()
	if err != nil {
		return nil, err
	}
	key, err := security.ParsePrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("flow private key: %w", err)
	}
	kdf, err := security.ParseKeyDerivation(cfg.Flow.KDF)
	if err != nil {
		return nil, err
	}
	return security.NewFlowCipher(key, kdf)
}
