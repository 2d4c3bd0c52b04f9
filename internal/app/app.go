// Package app assembles the bot's services from configuration.
// The API server and the ops CLI share it so both run the same wiring.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"techentry-bot/internal/audit"
	"techentry-bot/internal/auth"
	"techentry-bot/internal/config"
	"techentry-bot/internal/locks"
	"techentry-bot/internal/messagelog"
	"techentry-bot/internal/messaging"
	"techentry-bot/internal/notify"
	"techentry-bot/internal/outbound"
	"techentry-bot/internal/phone"
	"techentry-bot/internal/records"
	"techentry-bot/internal/reporting"
	"techentry-bot/internal/sheet"
	"techentry-bot/internal/workflow"
	"techentry-bot/pkg/utils"

	// database/sql drivers selected by STORE_DRIVER.
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"
)

// App holds the wired services. Close releases the connections it opened.
type App struct {
	Config   config.Config
	Location *time.Location

	DB    *sql.DB
	Redis *redis.Client

	Events        *records.Events
	Conversations *records.Conversations
	Contacts      *records.TechContacts
	Log           *messagelog.Service

	Sender     messaging.Sender
	Dispatcher *outbound.Dispatcher
	Scheduler  *outbound.Scheduler
	Engine     *workflow.Engine
	Reporting  *reporting.Service
	Audit      *audit.Service
	Auth       *auth.Manager
}

// Build opens the store, ensures table headers and wires every service.
func Build(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("timezone: %w", err)
	}
	a := &App{Config: cfg, Location: loc}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("auth init: %w", err)
	}
	a.Auth = authManager

	db, err := utils.OpenDB(ctx, cfg.Store.Driver, cfg.Store.DSN, utils.DBPoolConfig{MaxOpenConns: cfg.Store.MaxOpenConns})
	if err != nil {
		return nil, fmt.Errorf("store init: %w", err)
	}
	a.DB = db

	backend, err := sheet.NewSQLBackend(db, cfg.Store.Driver)
	if err != nil {
		a.Close()
		return nil, err
	}
	if err := backend.Migrate(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := records.EnsureSchema(ctx, backend); err != nil {
		a.Close()
		return nil, fmt.Errorf("records schema: %w", err)
	}

	a.Log = messagelog.NewService(backend)
	if err := a.Log.EnsureSchema(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("message log schema: %w", err)
	}
	auditRepo := audit.NewSheetRepo(backend)
	if err := auditRepo.EnsureSchema(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("audit schema: %w", err)
	}
	a.Audit = audit.NewService(auditRepo)

	a.Events = records.NewEvents(backend, loc)
	a.Conversations = records.NewConversations(backend)
	a.Contacts = records.NewTechContacts(backend, loc)

	var locker locks.Locker = locks.NewLocalLocker()
	if cfg.RedisEnabled() {
		rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("redis init: %w", err)
		}
		a.Redis = rdb
		locker = locks.NewRedisLocker(rdb)
	}

	var notifier notify.Notifier = notify.Nop{}
	if cfg.Slack.WebhookURL != "" {
		sn, err := notify.NewSlackNotifier(cfg.Slack.WebhookURL, nil)
		if err != nil {
			a.Close()
			return nil, err
		}
		notifier = sn
	}

	if cfg.TwilioEnabled() {
		tc, err := messaging.NewTwilioClient(messaging.TwilioConfig{
			AccountSID:     cfg.Twilio.AccountSID,
			AuthToken:      cfg.Twilio.AuthToken,
			From:           cfg.Twilio.From,
			APIBase:        cfg.Twilio.APIBase,
			StatusCallback: cfg.Twilio.StatusCallback,
		}, nil)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Sender = tc
	} else {
		log.Warn("twilio credentials not set, outbound messages are not delivered")
		a.Sender = messaging.NewDryRunSender()
	}

	window, err := outbound.NewWindow(cfg.Schedule.WindowStart, cfg.Schedule.WindowEnd, loc)
	if err != nil {
		a.Close()
		return nil, err
	}

	normalizer := phone.New(cfg.App.CountryCode)
	a.Dispatcher = outbound.NewDispatcher(a.Sender, a.Log, loc)
	a.Scheduler = outbound.NewScheduler(outbound.Config{
		Window:         window,
		DefaultLimit:   cfg.Schedule.DefaultSendLimit,
		MaxLimit:       cfg.Schedule.MaxSendLimit,
		StaleAfter:     cfg.Schedule.StaleAfter,
		EscalationLead: cfg.EscalationLead(),
	}, outbound.Deps{
		Events:     a.Events,
		Dispatcher: a.Dispatcher,
		Log:        a.Log,
		Normalizer: normalizer,
		Locker:     locker,
		Notifier:   notifier,
	})
	a.Engine = workflow.NewEngine(workflow.Deps{
		Events:        a.Events,
		Conversations: a.Conversations,
		Contacts:      a.Contacts,
		Log:           a.Log,
		Dispatcher:    a.Dispatcher,
		Locker:        locker,
		Normalizer:    normalizer,
		Lookback:      cfg.Lookback(),
	})
	a.Reporting = reporting.NewService(a.Events, a.Log)

	log.Info("services wired",
		"store", cfg.Store.Driver,
		"sender", a.Sender.Name(),
		"locker", fmt.Sprintf("%T", locker),
		"window", window.String(),
	)
	return a, nil
}

// Close releases the store and redis connections.
func (a *App) Close() {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.DB != nil {
		_ = a.DB.Close()
	}
}
