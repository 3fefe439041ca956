package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const (
	DefaultDataDir               = "/var/lib/velto"
	DefaultRequestTimeoutSeconds = 120
	DefaultMaxOutputTokens       = 2048
	DefaultTemperature           = 0.7
)

// Config is the runtime configuration for the metering service.
type Config struct {
	DataDir     string
	ListenAddr  string
	MetricsAddr string // empty (METRICS_ADDR=off) disables the metrics listener
	LogLevel    string
	LogFormat   string // "auto", "json" or "console"

	AI      AIConfig
	Credits CreditsConfig
	Billing BillingConfig
	Auth    AuthConfig

	// RoutingFile points at an optional YAML file with model routing overrides.
	RoutingFile string

	// EnvOverrides records which settings came from the environment.
	EnvOverrides map[string]bool
}

// AIConfig holds completion provider settings.
type AIConfig struct {
	Provider              string // default provider: "openrouter" or "groq"
	OpenRouterAPIKey      string
	OpenRouterBaseURL     string
	GroqAPIKey            string
	GroqBaseURL           string
	RequestTimeoutSeconds int
	MaxOutputTokens       int
	Temperature           float64
}

// GetRequestTimeout returns the provider request timeout.
func (c *AIConfig) GetRequestTimeout() time.Duration {
	if c == nil || c.RequestTimeoutSeconds <= 0 {
		return DefaultRequestTimeoutSeconds * time.Second
	}
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// GetMaxOutputTokens returns the output token cap applied when a request sets none.
func (c *AIConfig) GetMaxOutputTokens() int {
	if c == nil || c.MaxOutputTokens <= 0 {
		return DefaultMaxOutputTokens
	}
	return c.MaxOutputTokens
}

// CreditsConfig holds ledger persistence settings.
type CreditsConfig struct {
	CacheDir            string // local per-identity snapshots
	DatabasePath        string // sqlite document store
	NotifyDebounce      time.Duration
	OutboxRetryInterval time.Duration
	OutboxMaxAttempts   int
	UsageRetentionDays  int
	SessionIdleTimeout  time.Duration // 0 keeps sessions until sign-out
}

// BillingConfig holds Stripe settings. Billing is disabled without a webhook secret.
type BillingConfig struct {
	StripeSecretKey     string
	StripeWebhookSecret string
	PriceTiers          map[string]string // Stripe price ID -> tier
	SuccessURL          string
	CancelURL           string
}

// Enabled reports whether Stripe webhooks can be verified.
func (b BillingConfig) Enabled() bool {
	return strings.TrimSpace(b.StripeWebhookSecret) != ""
}

// AuthConfig configures bearer-token identity. Without an issuer the
// X-User-ID header (or the anonymous identity) is trusted.
type AuthConfig struct {
	OIDCIssuer   string
	OIDCClientID string
	// AdminToken guards manual tier changes and service-wide usage reports.
	// Empty disables those endpoints.
	AdminToken string
}

// Enabled reports whether OIDC verification is configured.
func (a AuthConfig) Enabled() bool {
	return strings.TrimSpace(a.OIDCIssuer) != ""
}

// Default returns a Config populated with defaults rooted at dataDir.
func Default(dataDir string) *Config {
	if dataDir == "" {
		dataDir = DefaultDataDir
	}
	return &Config{
		DataDir:     dataDir,
		ListenAddr:  ":8080",
		MetricsAddr: ":9091",
		LogLevel:    "info",
		LogFormat:   "auto",
		AI: AIConfig{
			Provider:              "openrouter",
			RequestTimeoutSeconds: DefaultRequestTimeoutSeconds,
			MaxOutputTokens:       DefaultMaxOutputTokens,
			Temperature:           DefaultTemperature,
		},
		Credits: CreditsConfig{
			CacheDir:            filepath.Join(dataDir, "cache"),
			DatabasePath:        filepath.Join(dataDir, "velto.db"),
			NotifyDebounce:      100 * time.Millisecond,
			OutboxRetryInterval: 30 * time.Second,
			OutboxMaxAttempts:   10,
			UsageRetentionDays:  90,
			SessionIdleTimeout:  30 * time.Minute,
		},
		Billing: BillingConfig{
			PriceTiers: map[string]string{},
		},
		EnvOverrides: make(map[string]bool),
	}
}

// Load reads configuration from the environment. A .env file in the data
// directory is applied first, then one in the working directory.
func Load() (*Config, error) {
	dataDir := DefaultDataDir
	if dir := os.Getenv("VELTO_DATA_DIR"); dir != "" {
		dataDir = dir
	}

	envFile := filepath.Join(dataDir, ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			log.Warn().Err(err).Str("file", envFile).Msg("Failed to load .env file")
		} else {
			log.Info().Str("file", envFile).Msg("Loaded .env file for deployment overrides")
		}
	}
	if err := godotenv.Load(); err == nil {
		log.Info().Msg("Loaded configuration from .env in current directory")
	}

	cfg := Default(dataDir)
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	str := func(key string, dst *string, name string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
			c.EnvOverrides[name] = true
		}
	}
	integer := func(key string, dst *int, name string) error {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		*dst = n
		c.EnvOverrides[name] = true
		return nil
	}
	duration := func(key string, dst *time.Duration, name string) error {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			// Bare numbers are milliseconds.
			ms, convErr := strconv.Atoi(v)
			if convErr != nil {
				return fmt.Errorf("invalid %s %q: %w", key, v, err)
			}
			d = time.Duration(ms) * time.Millisecond
		}
		*dst = d
		c.EnvOverrides[name] = true
		return nil
	}

	str("LISTEN_ADDR", &c.ListenAddr, "listenAddr")
	if port := strings.TrimSpace(getenv("PORT")); port != "" && !c.EnvOverrides["listenAddr"] {
		c.ListenAddr = ":" + port
		c.EnvOverrides["listenAddr"] = true
	}
	str("METRICS_ADDR", &c.MetricsAddr, "metricsAddr")
	if strings.EqualFold(c.MetricsAddr, "off") {
		c.MetricsAddr = ""
	}
	str("LOG_LEVEL", &c.LogLevel, "logLevel")
	str("LOG_FORMAT", &c.LogFormat, "logFormat")
	str("ROUTING_FILE", &c.RoutingFile, "routingFile")

	str("AI_PROVIDER", &c.AI.Provider, "aiProvider")
	str("OPENROUTER_API_KEY", &c.AI.OpenRouterAPIKey, "openRouterAPIKey")
	str("OPENROUTER_BASE_URL", &c.AI.OpenRouterBaseURL, "openRouterBaseURL")
	str("GROQ_API_KEY", &c.AI.GroqAPIKey, "groqAPIKey")
	str("GROQ_BASE_URL", &c.AI.GroqBaseURL, "groqBaseURL")
	if err := integer("AI_REQUEST_TIMEOUT", &c.AI.RequestTimeoutSeconds, "aiRequestTimeout"); err != nil {
		return err
	}
	if err := integer("AI_MAX_OUTPUT_TOKENS", &c.AI.MaxOutputTokens, "aiMaxOutputTokens"); err != nil {
		return err
	}
	if v := strings.TrimSpace(getenv("AI_TEMPERATURE")); v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid AI_TEMPERATURE %q: %w", v, err)
		}
		c.AI.Temperature = t
		c.EnvOverrides["aiTemperature"] = true
	}

	str("CREDITS_CACHE_DIR", &c.Credits.CacheDir, "creditsCacheDir")
	str("CREDITS_DB_PATH", &c.Credits.DatabasePath, "creditsDatabasePath")
	if err := duration("CREDITS_NOTIFY_DEBOUNCE", &c.Credits.NotifyDebounce, "creditsNotifyDebounce"); err != nil {
		return err
	}
	if err := duration("CREDITS_OUTBOX_RETRY_INTERVAL", &c.Credits.OutboxRetryInterval, "creditsOutboxRetryInterval"); err != nil {
		return err
	}
	if err := integer("CREDITS_OUTBOX_MAX_ATTEMPTS", &c.Credits.OutboxMaxAttempts, "creditsOutboxMaxAttempts"); err != nil {
		return err
	}
	if err := duration("CREDITS_SESSION_IDLE_TIMEOUT", &c.Credits.SessionIdleTimeout, "creditsSessionIdleTimeout"); err != nil {
		return err
	}
	if err := integer("USAGE_RETENTION_DAYS", &c.Credits.UsageRetentionDays, "usageRetentionDays"); err != nil {
		return err
	}

	str("STRIPE_SECRET_KEY", &c.Billing.StripeSecretKey, "stripeSecretKey")
	str("STRIPE_WEBHOOK_SECRET", &c.Billing.StripeWebhookSecret, "stripeWebhookSecret")
	str("STRIPE_SUCCESS_URL", &c.Billing.SuccessURL, "stripeSuccessURL")
	str("STRIPE_CANCEL_URL", &c.Billing.CancelURL, "stripeCancelURL")
	if v := strings.TrimSpace(getenv("STRIPE_PRICE_TIERS")); v != "" {
		tiers, err := ParsePriceTiers(v)
		if err != nil {
			return err
		}
		c.Billing.PriceTiers = tiers
		c.EnvOverrides["stripePriceTiers"] = true
	}

	str("OIDC_ISSUER", &c.Auth.OIDCIssuer, "oidcIssuer")
	str("OIDC_CLIENT_ID", &c.Auth.OIDCClientID, "oidcClientID")
	str("ADMIN_TOKEN", &c.Auth.AdminToken, "adminToken")
	return nil
}

// ParsePriceTiers parses "price_abc=starter,price_def=ultra".
func ParsePriceTiers(raw string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		priceID, tier, ok := strings.Cut(pair, "=")
		priceID, tier = strings.TrimSpace(priceID), strings.ToLower(strings.TrimSpace(tier))
		if !ok || priceID == "" || tier == "" {
			return nil, fmt.Errorf("invalid STRIPE_PRICE_TIERS entry %q: want price_id=tier", pair)
		}
		out[priceID] = tier
	}
	return out, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.MetricsAddr != "" && c.MetricsAddr == c.ListenAddr {
		return fmt.Errorf("metrics address must differ from listen address %q", c.ListenAddr)
	}
	switch strings.ToLower(c.AI.Provider) {
	case "openrouter", "groq":
	default:
		return fmt.Errorf("unknown AI provider %q: want openrouter or groq", c.AI.Provider)
	}
	if c.AI.RequestTimeoutSeconds < 0 {
		return fmt.Errorf("AI request timeout must not be negative")
	}
	if c.AI.MaxOutputTokens < 0 {
		return fmt.Errorf("AI max output tokens must not be negative")
	}
	if c.AI.Temperature < 0 || c.AI.Temperature > 2 {
		return fmt.Errorf("AI temperature must be between 0 and 2, got %v", c.AI.Temperature)
	}
	if c.Credits.NotifyDebounce < 0 {
		return fmt.Errorf("credits notify debounce must not be negative")
	}
	if c.Credits.OutboxRetryInterval <= 0 {
		return fmt.Errorf("credits outbox retry interval must be positive")
	}
	if c.Credits.SessionIdleTimeout < 0 {
		return fmt.Errorf("credits session idle timeout must not be negative")
	}
	if c.Credits.OutboxMaxAttempts < 1 {
		return fmt.Errorf("credits outbox max attempts must be at least 1")
	}
	if c.Billing.Enabled() && len(c.Billing.PriceTiers) == 0 {
		log.Warn().Msg("Stripe webhook secret set but STRIPE_PRICE_TIERS is empty; paid events will not change tiers")
	}
	return nil
}
