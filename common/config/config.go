// Package config provides centralized configuration management for paywatch.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config is the master configuration struct for the payment engine.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	OpenSearch   OpenSearchConfig   `mapstructure:"opensearch"`
	NATS         NATSConfig         `mapstructure:"nats"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Ledger       LedgerConfig       `mapstructure:"ledger"`
	Payments     PaymentsConfig     `mapstructure:"payments"`
	Memo         MemoConfig         `mapstructure:"memo"`
	Validation   ValidationConfig   `mapstructure:"validation"`
	Fraud        FraudConfig        `mapstructure:"fraud"`
	Monitor      MonitorConfig      `mapstructure:"monitor"`
	Scanner      ScannerConfig      `mapstructure:"scanner"`
	Notification NotificationConfig `mapstructure:"notification"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	// Type is "postgres" or "memory". Memory is for local runs only: records
	// do not survive a restart.
	Type     string         `mapstructure:"type"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig holds PostgreSQL connection settings
type PostgresConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	MigrateOnStart  bool          `mapstructure:"migrate_on_start"`
}

// OpenSearchConfig holds the audit mirror connection settings
type OpenSearchConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	URL           string `mapstructure:"url"`
	Username      string `mapstructure:"username"`
	Password      string `mapstructure:"password"`
	TLSSkipVerify bool   `mapstructure:"tls_skip_verify"`
	Index         string `mapstructure:"index"`
}

// NATSConfig holds NATS message broker configuration
type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	Enabled       bool          `mapstructure:"enabled"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
}

// RedisConfig holds Redis configuration for the fraud history store
type RedisConfig struct {
	URL        string `mapstructure:"url"`
	Enabled    bool   `mapstructure:"enabled"`
	MaxRetries int    `mapstructure:"max_retries"`
	PoolSize   int    `mapstructure:"pool_size"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AuthConfig holds admin token configuration
type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	Issuer    string        `mapstructure:"issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// LedgerConfig describes the watched account and the indexer providers, in
// priority order.
type LedgerConfig struct {
	Account     string           `mapstructure:"account"`
	Testnet     bool             `mapstructure:"testnet"`
	FetchLimit  int              `mapstructure:"fetch_limit"`
	ClockSkew   time.Duration    `mapstructure:"clock_skew"`
	PrefixPairs []string         `mapstructure:"prefix_pairs"`
	Providers   []ProviderConfig `mapstructure:"providers"`
}

// ProviderConfig holds one ledger indexer endpoint.
type ProviderConfig struct {
	Name string `mapstructure:"name"`
	// Kind selects the extraction strategy: toncenter_v2, toncenter_v3 or tonapi.
	Kind          string        `mapstructure:"kind"`
	URL           string        `mapstructure:"url"`
	APIKey        string        `mapstructure:"api_key"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
}

// PaymentsConfig holds checkout defaults
type PaymentsConfig struct {
	Currency      string   `mapstructure:"currency"`
	Methods       []string `mapstructure:"methods"`
	MaxAmount     string   `mapstructure:"max_amount"`
	MemoAttempts  int      `mapstructure:"memo_attempts"`
	ResumeOnStart bool     `mapstructure:"resume_on_start"`
}

// MemoConfig holds the rendezvous code format
type MemoConfig struct {
	Pattern string `mapstructure:"pattern"`
	// Letters and Digits shape generated memos: Letters uppercase letters
	// followed by Digits digits. Generated memos must match Pattern.
	Letters int `mapstructure:"letters"`
	Digits  int `mapstructure:"digits"`
}

// ValidationConfig holds amount validation settings
type ValidationConfig struct {
	Tolerance string `mapstructure:"tolerance"`
}

// FraudConfig holds heuristic weights and thresholds
type FraudConfig struct {
	HistoryBackend      string        `mapstructure:"history_backend"`
	VelocityWindow      time.Duration `mapstructure:"velocity_window"`
	VelocityMax         int           `mapstructure:"velocity_max"`
	VelocityWeight      float64       `mapstructure:"velocity_weight"`
	FailureWindow       time.Duration `mapstructure:"failure_window"`
	FailureMax          int           `mapstructure:"failure_max"`
	FailureWeight       float64       `mapstructure:"failure_weight"`
	AmountWeight        float64       `mapstructure:"amount_weight"`
	MinAmount           string        `mapstructure:"min_amount"`
	MaxAmount           string        `mapstructure:"max_amount"`
	DenylistWeight      float64       `mapstructure:"denylist_weight"`
	DenylistTokens      []string      `mapstructure:"denylist_tokens"`
	DenylistSenders     []string      `mapstructure:"denylist_senders"`
	SuspiciousThreshold float64       `mapstructure:"suspicious_threshold"`
	ReviewThreshold     float64       `mapstructure:"review_threshold"`
}

// MonitorConfig holds Active Monitor settings
type MonitorConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Window       time.Duration `mapstructure:"window"`
	MaxRetries   int           `mapstructure:"max_retries"`
	FetchLimit   int           `mapstructure:"fetch_limit"`
}

// ScannerConfig holds Reconciliation Scanner settings
type ScannerConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Interval   time.Duration `mapstructure:"interval"`
	StaleGrace time.Duration `mapstructure:"stale_grace"`
	FetchLimit int           `mapstructure:"fetch_limit"`
}

// NotificationConfig holds outcome and alert delivery settings
type NotificationConfig struct {
	WebhookURL      string        `mapstructure:"webhook_url"`
	AdminWebhookURL string        `mapstructure:"admin_webhook_url"`
	Timeout         time.Duration `mapstructure:"timeout"`
	LogOutcomes     bool          `mapstructure:"log_outcomes"`
}

// Load reads configuration from path (if non-empty), otherwise from
// config.yaml in $PAYWATCH_CONFIG_DIR, the working directory or
// /etc/paywatch. Environment variables prefixed PAYWATCH_ override file values.
// Load does not call Validate; commands that run the engine do.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if dir := os.Getenv("PAYWATCH_CONFIG_DIR"); dir != "" {
			v.AddConfigPath(dir)
		}
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/paywatch")
	}

	v.SetEnvPrefix("PAYWATCH")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks values viper cannot type-check.
func (c *Config) Validate() error {
	var errs []error

	if c.Ledger.Account == "" {
		errs = append(errs, errors.New("ledger.account is required"))
	}
	if len(c.Ledger.Providers) == 0 {
		errs = append(errs, errors.New("ledger.providers must list at least one provider"))
	}
	for i, p := range c.Ledger.Providers {
		if p.URL == "" {
			errs = append(errs, fmt.Errorf("ledger.providers[%d].url is required", i))
		}
		switch p.Kind {
		case "toncenter_v2", "toncenter_v3", "tonapi":
		default:
			errs = append(errs, fmt.Errorf("ledger.providers[%d].kind %q is not supported", i, p.Kind))
		}
	}
	if len(c.Ledger.PrefixPairs)%2 != 0 {
		errs = append(errs, errors.New("ledger.prefix_pairs must hold an even number of prefixes"))
	}
	if _, err := regexp.Compile(c.Memo.Pattern); err != nil {
		errs = append(errs, fmt.Errorf("memo.pattern: %w", err))
	}
	if c.Memo.Letters < 0 || c.Memo.Digits < 0 || c.Memo.Letters+c.Memo.Digits == 0 {
		errs = append(errs, errors.New("memo.letters and memo.digits must describe a non-empty memo"))
	}
	for name, raw := range map[string]string{
		"validation.tolerance": c.Validation.Tolerance,
		"fraud.min_amount":     c.Fraud.MinAmount,
		"fraud.max_amount":     c.Fraud.MaxAmount,
		"payments.max_amount":  c.Payments.MaxAmount,
	} {
		if raw == "" {
			continue
		}
		if _, err := decimal.NewFromString(raw); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if c.Fraud.ReviewThreshold > c.Fraud.SuspiciousThreshold {
		errs = append(errs, errors.New("fraud.review_threshold must not exceed fraud.suspicious_threshold"))
	}
	if c.Monitor.PollInterval <= 0 || c.Scanner.Interval <= 0 {
		errs = append(errs, errors.New("monitor.poll_interval and scanner.interval must be positive"))
	}
	switch c.Database.Type {
	case "postgres", "memory":
	default:
		errs = append(errs, fmt.Errorf("database.type %q is not supported", c.Database.Type))
	}

	return errors.Join(errs...)
}

// ToleranceDecimal returns validation.tolerance, zero when unset.
func (c ValidationConfig) ToleranceDecimal() decimal.Decimal {
	return decimalOrZero(c.Tolerance)
}

// MinAmountDecimal returns fraud.min_amount, zero when unset.
func (c FraudConfig) MinAmountDecimal() decimal.Decimal {
	return decimalOrZero(c.MinAmount)
}

// MaxAmountDecimal returns fraud.max_amount, zero when unset.
func (c FraudConfig) MaxAmountDecimal() decimal.Decimal {
	return decimalOrZero(c.MaxAmount)
}

// MaxAmountDecimal returns payments.max_amount, zero when unset.
func (c PaymentsConfig) MaxAmountDecimal() decimal.Decimal {
	return decimalOrZero(c.MaxAmount)
}

// PrefixPairsList groups ledger.prefix_pairs into substitution pairs.
func (c LedgerConfig) PrefixPairsList() [][2]string {
	pairs := make([][2]string, 0, len(c.PrefixPairs)/2)
	for i := 0; i+1 < len(c.PrefixPairs); i += 2 {
		pairs = append(pairs, [2]string{c.PrefixPairs[i], c.PrefixPairs[i+1]})
	}
	return pairs
}

func decimalOrZero(raw string) decimal.Decimal {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// setDefaults sets all default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")

	v.SetDefault("database.type", "postgres")
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.database", "paywatch")
	v.SetDefault("database.postgres.user", "paywatch")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.sslmode", "disable")
	v.SetDefault("database.postgres.max_conns", 25)
	v.SetDefault("database.postgres.min_conns", 5)
	v.SetDefault("database.postgres.max_conn_lifetime", "1h")
	v.SetDefault("database.postgres.max_conn_idle_time", "30m")
	v.SetDefault("database.postgres.migrate_on_start", true)

	v.SetDefault("opensearch.enabled", false)
	v.SetDefault("opensearch.url", "https://localhost:9200")
	v.SetDefault("opensearch.username", "admin")
	v.SetDefault("opensearch.password", "admin")
	v.SetDefault("opensearch.tls_skip_verify", true)
	v.SetDefault("opensearch.index", "paywatch-audit")

	v.SetDefault("nats.url", "nats://nats:4222")
	v.SetDefault("nats.enabled", true)
	v.SetDefault("nats.max_reconnects", -1)
	v.SetDefault("nats.reconnect_wait", "2s")

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("auth.jwt_secret", "change-this-in-production")
	v.SetDefault("auth.issuer", "paywatch")
	v.SetDefault("auth.token_ttl", "1h")

	v.SetDefault("ledger.account", "")
	v.SetDefault("ledger.testnet", false)
	v.SetDefault("ledger.fetch_limit", 50)
	v.SetDefault("ledger.clock_skew", "2m")
	v.SetDefault("ledger.prefix_pairs", []string{"EQ", "UQ", "kQ", "0Q"})
	v.SetDefault("ledger.providers", []map[string]any{
		{"name": "toncenter", "kind": "toncenter_v2", "url": "https://toncenter.com/api/v2", "timeout": "10s", "rate_per_second": 1.0, "burst": 1},
		{"name": "tonapi", "kind": "tonapi", "url": "https://tonapi.io", "timeout": "10s", "rate_per_second": 1.0, "burst": 1},
	})

	v.SetDefault("payments.currency", "TON")
	v.SetDefault("payments.methods", []string{"ton", "credits"})
	v.SetDefault("payments.max_amount", "100000")
	v.SetDefault("payments.memo_attempts", 8)
	v.SetDefault("payments.resume_on_start", true)

	v.SetDefault("memo.pattern", `^[A-Z]{2}[0-9]{4}$`)
	v.SetDefault("memo.letters", 2)
	v.SetDefault("memo.digits", 4)

	v.SetDefault("validation.tolerance", "0.01")

	v.SetDefault("fraud.history_backend", "memory")
	v.SetDefault("fraud.velocity_window", "1h")
	v.SetDefault("fraud.velocity_max", 5)
	v.SetDefault("fraud.velocity_weight", 0.6)
	v.SetDefault("fraud.failure_window", "24h")
	v.SetDefault("fraud.failure_max", 3)
	v.SetDefault("fraud.failure_weight", 0.4)
	v.SetDefault("fraud.amount_weight", 0.3)
	v.SetDefault("fraud.min_amount", "0.1")
	v.SetDefault("fraud.max_amount", "10000")
	v.SetDefault("fraud.denylist_weight", 0.6)
	v.SetDefault("fraud.denylist_tokens", []string{})
	v.SetDefault("fraud.denylist_senders", []string{})
	v.SetDefault("fraud.suspicious_threshold", 0.5)
	v.SetDefault("fraud.review_threshold", 0.25)

	v.SetDefault("monitor.poll_interval", "30s")
	v.SetDefault("monitor.window", "30m")
	v.SetDefault("monitor.max_retries", 3)
	v.SetDefault("monitor.fetch_limit", 20)

	v.SetDefault("scanner.enabled", true)
	v.SetDefault("scanner.interval", "20s")
	v.SetDefault("scanner.stale_grace", "5m")
	v.SetDefault("scanner.fetch_limit", 100)

	v.SetDefault("notification.webhook_url", "")
	v.SetDefault("notification.admin_webhook_url", "")
	v.SetDefault("notification.timeout", "10s")
	v.SetDefault("notification.log_outcomes", true)
}

// defaultCLIDir returns $PAYWATCH_CLI_DIR or ~/.paywatch.
func defaultCLIDir() (string, error) {
	if dir := os.Getenv("PAYWATCH_CLI_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine home directory: %w", err)
	}
	return filepath.Join(home, ".paywatch"), nil
}
