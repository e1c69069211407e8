package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mmdatafocus/salesdesk_backend/utils"
)

// Settings is the typed view of the process environment.
type Settings struct {
	Port           string
	GoEnv          string
	SkipMigrations bool
	AllowedOrigins []string

	JwtSecret  string
	SessionTTL time.Duration

	LedgerBaseURL      string
	LedgerTenantID     string
	LedgerClientID     string
	LedgerClientSecret string
	LedgerTokenURL     string
	LedgerRefreshToken string
	LedgerAccessToken  string
	LedgerTimeout      time.Duration

	// PaymentSyncDelay is the pause after each ledger call during a payment poll.
	// 1s keeps a run at ~60 calls/min, the ledger's published ceiling.
	PaymentSyncDelay   time.Duration
	PaymentSyncLockTTL time.Duration
	FreshStatusOnLink  bool
	PubSubTopic        string
	PubSubPushToken    string
}

func LoadSettings() Settings {
	s := Settings{
		Port:           stringFromEnv("PORT", "8080"),
		GoEnv:          strings.TrimSpace(os.Getenv("GO_ENV")),
		SkipMigrations: boolFromEnv("SKIP_MIGRATIONS", false),
		AllowedOrigins: utils.SplitAndTrim(os.Getenv("CORS_ALLOWED_ORIGINS")),

		JwtSecret:  os.Getenv("JWT_SECRET"),
		SessionTTL: time.Duration(intFromEnv("SESSION_TTL_SECONDS", 8*60*60)) * time.Second,

		LedgerBaseURL:      stringFromEnv("LEDGER_BASE_URL", "https://api.xero.com/api.xro/2.0"),
		LedgerTenantID:     os.Getenv("LEDGER_TENANT_ID"),
		LedgerClientID:     os.Getenv("LEDGER_CLIENT_ID"),
		LedgerClientSecret: os.Getenv("LEDGER_CLIENT_SECRET"),
		LedgerTokenURL:     stringFromEnv("LEDGER_TOKEN_URL", "https://identity.xero.com/connect/token"),
		LedgerRefreshToken: os.Getenv("LEDGER_REFRESH_TOKEN"),
		LedgerAccessToken:  os.Getenv("LEDGER_ACCESS_TOKEN"),
		LedgerTimeout:      time.Duration(intFromEnv("LEDGER_TIMEOUT_SECONDS", 30)) * time.Second,

		PaymentSyncDelay:   time.Duration(intFromEnv("PAYMENT_SYNC_DELAY_MS", 1000)) * time.Millisecond,
		PaymentSyncLockTTL: time.Duration(intFromEnv("PAYMENT_SYNC_LOCK_TTL_SECONDS", 30*60)) * time.Second,
		FreshStatusOnLink:  boolFromEnv("LINK_FETCH_FRESH_STATUS", true),
		PubSubTopic:        os.Getenv("PUBSUB_PAYMENT_SYNC_TOPIC"),
		PubSubPushToken:    os.Getenv("PUBSUB_PUSH_TOKEN"),
	}
	return s
}

func (s Settings) IsProduction() bool {
	return s.GoEnv == "production"
}

// LedgerConfigured reports whether enough credentials exist to call the ledger.
func (s Settings) LedgerConfigured() bool {
	if s.LedgerAccessToken != "" {
		return true
	}
	return s.LedgerClientID != "" && s.LedgerRefreshToken != ""
}

func stringFromEnv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func boolFromEnv(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return def
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return v == "1" || v == "yes" || v == "y"
}
