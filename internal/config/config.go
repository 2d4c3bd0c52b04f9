package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	// Embedded zone database; containers often ship without one.
	_ "time/tzdata"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration required by the bot processes.
// All values come from env (or an env-file loaded by the process runner).
// It is built once at start-up and passed into constructors; no business
// logic reads raw environment variables.
type Config struct {
	App      AppConfig
	Store    StoreConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Twilio   TwilioConfig
	Schedule ScheduleConfig
	Slack    SlackConfig
}

type AppConfig struct {
	Env         string `envconfig:"APP_ENV"`
	Port        int    `envconfig:"APP_PORT" default:"8080"`
	Timezone    string `envconfig:"TIMEZONE" default:"Asia/Jerusalem"`
	CountryCode string `envconfig:"COUNTRY_CODE" default:"972"`
}

type StoreConfig struct {
	// Driver is "pgx" (postgres) or "sqlite".
	Driver       string `envconfig:"STORE_DRIVER" default:"sqlite"`
	DSN          string `envconfig:"STORE_DSN" default:"file:techbot.db"`
	MaxOpenConns int    `envconfig:"STORE_MAX_OPEN_CONNS"`
}

// RedisConfig is optional; an empty Addr selects the in-process locker.
type RedisConfig struct {
	Addr     string `envconfig:"REDIS_ADDR"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB"`
}

type AuthConfig struct {
	JWTSecret      string        `envconfig:"JWT_SECRET"`
	JWTIssuer      string        `envconfig:"JWT_ISSUER"`
	JWTAudience    string        `envconfig:"JWT_AUDIENCE"`
	AccessTokenTTL time.Duration `envconfig:"JWT_ACCESS_TTL" default:"12h"`
}

type TwilioConfig struct {
	AccountSID     string `envconfig:"TWILIO_ACCOUNT_SID"`
	AuthToken      string `envconfig:"TWILIO_AUTH_TOKEN"`
	From           string `envconfig:"TWILIO_WHATSAPP_FROM"`
	APIBase        string `envconfig:"TWILIO_API_BASE"`
	StatusCallback string `envconfig:"TWILIO_STATUS_CALLBACK_URL"`

	// PublicWebhookURL is the externally visible webhook URL used to check
	// signatures behind proxies. Empty means the request URL.
	PublicWebhookURL string `envconfig:"WEBHOOK_PUBLIC_URL"`
}

type ScheduleConfig struct {
	WindowStart        string        `envconfig:"SENDING_WINDOW_START" default:"09:00"`
	WindowEnd          string        `envconfig:"SENDING_WINDOW_END" default:"17:00"`
	LookbackHours      int           `envconfig:"INCOMING_LOOKBACK_HOURS" default:"72"`
	StaleAfter         time.Duration `envconfig:"FOLLOWUP_STALE_AFTER" default:"48h"`
	EscalationLeadDays int           `envconfig:"ESCALATION_LEAD_DAYS" default:"10"`
	DefaultSendLimit   int           `envconfig:"DEFAULT_SEND_LIMIT" default:"20"`
	MaxSendLimit       int           `envconfig:"MAX_SEND_LIMIT" default:"200"`

	// SweepInterval enables in-process periodic sweeps when positive.
	SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL" default:"0s"`
}

type SlackConfig struct {
	WebhookURL string `envconfig:"SLACK_WEBHOOK_URL"`
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	for _, spec := range []any{&c.App, &c.Store, &c.Redis, &c.Auth, &c.Twilio, &c.Schedule, &c.Slack} {
		if err := envconfig.Process("", spec); err != nil {
			parseErrs = append(parseErrs, err)
		}
	}
	c.App.Env = strings.TrimSpace(c.App.Env)
	c.Store.Driver = strings.TrimSpace(c.Store.Driver)

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	if _, err := time.LoadLocation(c.App.Timezone); err != nil || c.App.Timezone == "" {
		errs = append(errs, fmt.Errorf("TIMEZONE must be an IANA zone, got %q", c.App.Timezone))
	}
	if c.App.CountryCode == "" {
		errs = append(errs, errors.New("COUNTRY_CODE is required"))
	}

	switch c.Store.Driver {
	case "pgx", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be one of pgx, sqlite, got %q", c.Store.Driver))
	}
	if strings.TrimSpace(c.Store.DSN) == "" {
		errs = append(errs, errors.New("STORE_DSN is required"))
	}
	if c.IsProduction() && c.Store.Driver == "sqlite" {
		errs = append(errs, errors.New("STORE_DRIVER sqlite is not allowed in production"))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		errs = append(errs, fmt.Errorf("JWT_ACCESS_TTL must be positive, got %s", c.Auth.AccessTokenTTL))
	}

	// Credentials come as a set; without them the process runs in dry-run mode.
	if (c.Twilio.AccountSID == "") != (c.Twilio.AuthToken == "") {
		errs = append(errs, errors.New("TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN must be set together"))
	}
	if c.TwilioEnabled() && c.Twilio.From == "" {
		errs = append(errs, errors.New("TWILIO_WHATSAPP_FROM is required when Twilio is configured"))
	}
	if c.IsProduction() && !c.TwilioEnabled() {
		errs = append(errs, errors.New("Twilio credentials are required in production"))
	}

	start, errStart := parseClock(c.Schedule.WindowStart)
	if errStart != nil {
		errs = append(errs, fmt.Errorf("SENDING_WINDOW_START: %w", errStart))
	}
	end, errEnd := parseClock(c.Schedule.WindowEnd)
	if errEnd != nil {
		errs = append(errs, fmt.Errorf("SENDING_WINDOW_END: %w", errEnd))
	}
	if errStart == nil && errEnd == nil && end < start {
		errs = append(errs, errors.New("SENDING_WINDOW_END must not be before SENDING_WINDOW_START"))
	}
	if c.Schedule.LookbackHours <= 0 {
		errs = append(errs, fmt.Errorf("INCOMING_LOOKBACK_HOURS must be positive, got %d", c.Schedule.LookbackHours))
	}
	if c.Schedule.StaleAfter <= 0 {
		errs = append(errs, fmt.Errorf("FOLLOWUP_STALE_AFTER must be positive, got %s", c.Schedule.StaleAfter))
	}
	if c.Schedule.EscalationLeadDays <= 0 {
		errs = append(errs, fmt.Errorf("ESCALATION_LEAD_DAYS must be positive, got %d", c.Schedule.EscalationLeadDays))
	}
	if c.Schedule.DefaultSendLimit <= 0 || c.Schedule.DefaultSendLimit > c.Schedule.MaxSendLimit {
		errs = append(errs, fmt.Errorf("DEFAULT_SEND_LIMIT must be in 1..MAX_SEND_LIMIT, got %d (max %d)",
			c.Schedule.DefaultSendLimit, c.Schedule.MaxSendLimit))
	}
	if c.Schedule.SweepInterval < 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL must not be negative"))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

// Location is the zone of the sending window and stored timestamps.
func (c Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.App.Timezone)
}

func (c Config) TwilioEnabled() bool {
	return c.Twilio.AccountSID != "" && c.Twilio.AuthToken != ""
}

func (c Config) RedisEnabled() bool {
	return strings.TrimSpace(c.Redis.Addr) != ""
}

func (c Config) Lookback() time.Duration {
	return time.Duration(c.Schedule.LookbackHours) * time.Hour
}

func (c Config) EscalationLead() time.Duration {
	return time.Duration(c.Schedule.EscalationLeadDays) * 24 * time.Hour
}

// parseClock returns minutes since midnight for HH:MM.
func parseClock(v string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("want HH:MM, got %q", v)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
