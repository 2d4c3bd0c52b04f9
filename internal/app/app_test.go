package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"techentry-bot/internal/config"
	"techentry-bot/internal/messaging"
	"techentry-bot/internal/reporting"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		App:   config.AppConfig{Env: "local", Port: 8080, Timezone: "Asia/Jerusalem", CountryCode: "972"},
		Store: config.StoreConfig{Driver: "sqlite", DSN: "file:" + filepath.Join(t.TempDir(), "bot.db")},
		Auth:  config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Hour},
		Schedule: config.ScheduleConfig{
			WindowStart: "09:00", WindowEnd: "17:00", LookbackHours: 72, StaleAfter: 48 * time.Hour,
			EscalationLeadDays: 10, DefaultSendLimit: 20, MaxSendLimit: 200,
		},
	}
}

func TestBuild_LocalDefaults(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := Build(context.Background(), testConfig(t), log)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer a.Close()

	if a.Sender.Name() != "dryrun" {
		t.Fatalf("expected dry-run sender without twilio credentials, got %s", a.Sender.Name())
	}
	if a.Redis != nil {
		t.Fatalf("expected no redis client without REDIS_ADDR")
	}
	if a.Location.String() != "Asia/Jerusalem" {
		t.Fatalf("unexpected location %s", a.Location)
	}

	ctx := context.Background()
	if err := a.Engine.HandleInbound(ctx, messaging.InboundForm{MessageSID: "SM1", From: "whatsapp:+972501111111", Body: "hello"}); err != nil {
		t.Fatalf("inbound: %v", err)
	}
	h, err := a.Log.History(ctx)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(h) != 1 || h[0].EventKey != "unknown" {
		t.Fatalf("expected one unattributed entry, got %+v", h)
	}

	sum, err := a.Reporting.Summary(ctx, reporting.SummaryRequest{})
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.Messages.Unattributed != 1 || sum.Events.Total != 0 {
		t.Fatalf("unexpected summary %+v", sum)
	}
}

func TestBuild_ReopensExistingStore(t *testing.T) {
	cfg := testConfig(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	a, err := Build(context.Background(), cfg, log)
	if err != nil {
		t.Fatalf("first build: %v", err)
	}
	a.Close()

	b, err := Build(context.Background(), cfg, log)
	if err != nil {
		t.Fatalf("second build: %v", err)
	}
	b.Close()
}

func TestBuild_RejectsBadTimezone(t *testing.T) {
	cfg := testConfig(t)
	cfg.App.Timezone = "Mars/Olympus"
	if _, err := Build(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil))); err == nil {
		t.Fatalf("expected timezone error")
	}
}
