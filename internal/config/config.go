package config

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	infisical "github.com/infisical/go-sdk"
)

// ErrMissingCredentials is returned by RequireTelegram when the bot token or
// chat id is not configured.
var ErrMissingCredentials = errors.New("TELEGRAM_TOKEN and CHAT_ID must be set")

type Config struct {
	TelegramToken string
	ChatID        string

	DebankAddress   string
	DebankChains    []string
	DebankAccessKey string
	DebankRetries   int
	DebankBrowser   bool

	MorphoVault   string
	MorphoChainID int

	Port            string
	DatabaseURL     string
	RedisURL        string
	RedisPassword   string
	FrontendOrigin  string
	LogLevel        string
	ReportHour      int
	ReportTimezone  string
	PollInterval    time.Duration
	ReportRetention time.Duration
}

func Load() Config {
	cfg := Config{
		TelegramToken: firstEnv("TELEGRAM_TOKEN", "TELEGRAM_BOT_TOKEN"),
		ChatID:        firstEnv("CHAT_ID", "TELEGRAM_CHAT_ID"),

		DebankAddress:   os.Getenv("DEBANK_ADDRESS"),
		DebankChains:    ParseChains(os.Getenv("DEBANK_CHAINS")),
		DebankAccessKey: os.Getenv("DEBANK_ACCESS_KEY"),
		DebankRetries:   envInt("DEBANK_RETRIES", 2),
		DebankBrowser:   envBool("DEBANK_BROWSER", false),

		MorphoVault:   os.Getenv("MORPHO_VAULT"),
		MorphoChainID: envInt("MORPHO_CHAIN_ID", 1),

		Port:            envOr("PORT", "8080"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RedisURL:        os.Getenv("REDIS_URL"),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		FrontendOrigin:  envOr("FRONTEND_ORIGIN", "*"),
		LogLevel:        envOr("LOG_LEVEL", "info"),
		ReportHour:      envInt("REPORT_HOUR", 8),
		ReportTimezone:  envOr("REPORT_TIMEZONE", "UTC"),
		PollInterval:    envDuration("POLL_INTERVAL", 15*time.Minute),
		ReportRetention: envDuration("REPORT_RETENTION", 90*24*time.Hour),
	}
	if cfg.ReportHour < 0 || cfg.ReportHour > 23 {
		slog.Warn("REPORT_HOUR out of range, using 8", "value", cfg.ReportHour)
		cfg.ReportHour = 8
	}

	// If Infisical credentials are available, fetch secrets from Infisical
	clientID := os.Getenv("INFISICAL_CLIENT_ID")
	clientSecret := os.Getenv("INFISICAL_CLIENT_SECRET")
	if clientID != "" && clientSecret != "" {
		loadFromInfisical(&cfg, clientID, clientSecret)
	}

	return cfg
}

// RequireTelegram reports whether the bot credentials are present.
func (c Config) RequireTelegram() error {
	if c.TelegramToken == "" || c.ChatID == "" {
		return ErrMissingCredentials
	}
	return nil
}

// Location resolves ReportTimezone, falling back to UTC.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.ReportTimezone)
	if err != nil {
		slog.Warn("invalid REPORT_TIMEZONE, using UTC", "value", c.ReportTimezone, "error", err)
		return time.UTC
	}
	return loc
}

// SlogLevel maps LogLevel to a slog level. Unknown values mean info.
func (c Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// ParseChains splits a comma-separated chain list, dropping blanks.
func ParseChains(s string) []string {
	var chains []string
	for _, c := range strings.Split(s, ",") {
		c = strings.ToLower(strings.TrimSpace(c))
		if c != "" {
			chains = append(chains, c)
		}
	}
	return chains
}

func loadFromInfisical(cfg *Config, clientID, clientSecret string) {
	siteURL := envOr("INFISICAL_SITE_URL",
		"http://infisical-infisical-standalone-infisical.infisical.svc.cluster.local:8080")
	projectID := os.Getenv("INFISICAL_PROJECT_ID")
	envSlug := envOr("INFISICAL_ENV", "prod")

	if projectID == "" {
		slog.Warn("INFISICAL_PROJECT_ID not set, skipping Infisical")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := infisical.NewInfisicalClient(ctx, infisical.Config{
		SiteUrl:          siteURL,
		AutoTokenRefresh: false,
	})

	_, err := client.Auth().UniversalAuthLogin(clientID, clientSecret)
	if err != nil {
		slog.Error("infisical auth failed", "error", err)
		return
	}

	secrets := map[string]*string{
		"TELEGRAM_TOKEN":    &cfg.TelegramToken,
		"CHAT_ID":           &cfg.ChatID,
		"DEBANK_ACCESS_KEY": &cfg.DebankAccessKey,
		"DATABASE_URL":      &cfg.DatabaseURL,
		"REDIS_PASSWORD":    &cfg.RedisPassword,
	}

	for key, target := range secrets {
		if *target != "" {
			continue // env var already set, skip
		}
		secret, err := client.Secrets().Retrieve(infisical.RetrieveSecretOptions{
			SecretKey:   key,
			Environment: envSlug,
			ProjectID:   projectID,
			SecretPath:  "/",
		})
		if err != nil {
			slog.Warn("failed to retrieve secret from infisical", "key", key, "error", err)
			continue
		}
		*target = secret.SecretValue
		slog.Info("loaded secret from infisical", "key", key)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// firstEnv returns the first non-empty value among keys.
func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		slog.Warn("invalid integer env var, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		slog.Warn("invalid boolean env var, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return b
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil || d <= 0 {
		slog.Warn("invalid duration env var, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return d
}
