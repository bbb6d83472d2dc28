package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	defaultEnvFile             = ".env"
	defaultPort                = "8080"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 75 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultSecurityEnvironment = "local"
	defaultDatabaseDriver      = "mysql"
	defaultDatabaseMaxOpen     = 20
	defaultDatabaseMaxIdle     = 5
	defaultDatabaseMaxLifetime = 30 * time.Minute
	defaultTxTimeout           = 15 * time.Second
	defaultRedisDB             = 0
	defaultCurrency            = "TRY"
	defaultPaymentProvider     = "bank"
	defaultBankStoreType       = "3d_pay_hosting"
	defaultBankTxnType         = "Auth"
	defaultBankLang            = "tr"
	defaultBankCurrencyCode    = "949"
	defaultMockSuccessRate     = 0.8
	defaultMockLatency         = 750 * time.Millisecond
	defaultSettingsTTL         = 5 * time.Minute
	defaultCacheBackend        = "memory"
	defaultHMACSignatureHeader = "X-Signature"
	defaultHMACTimestampHeader = "X-Signature-Timestamp"
	defaultHMACNonceHeader     = "X-Signature-Nonce"
	defaultHMACClockSkew       = 5 * time.Minute
	defaultHMACNonceTTL        = 5 * time.Minute
	defaultIdempotencyHeader   = "Idempotency-Key"
	defaultIdempotencyTTL      = 24 * time.Hour
	defaultIdempotencyInterval = time.Hour
	defaultIdempotencyBatch    = 200
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Firebase      FirebaseConfig
	Payments      PaymentsConfig
	Storefront    StorefrontConfig
	Settings      SettingsConfig
	Notifications NotificationConfig
	Security      SecurityConfig
	Idempotency   IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig selects the relational store. Driver is "mysql" or "sqlite".
type DatabaseConfig struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	TxTimeout       time.Duration
	AutoMigrate     bool
}

// RedisConfig configures the shared cache. An empty Addr disables Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether a Redis endpoint was configured.
func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
	// CheckRevoked rejects ID tokens revoked after issue.
	CheckRevoked bool
}

// PaymentsConfig groups gateway settings.
type PaymentsConfig struct {
	DefaultProvider string
	Currency        string
	Bank            BankConfig
	Mock            MockConfig
}

// BankConfig configures the bank-hosted payment page.
type BankConfig struct {
	Enabled      bool
	ClientID     string
	StoreKey     string
	GatewayURL   string
	OkURL        string
	FailURL      string
	StoreType    string
	TxnType      string
	Lang         string
	CurrencyCode string
}

// MockConfig configures the simulated gateway.
type MockConfig struct {
	Enabled     bool
	SuccessRate float64
	Latency     time.Duration
}

// StorefrontConfig holds public URLs used in redirects.
type StorefrontConfig struct {
	BaseURL      string
	PublicAPIURL string
	AdminEmail   string
}

// SettingsConfig controls the settings accessor cache.
type SettingsConfig struct {
	CacheTTL     time.Duration
	CacheBackend string
}

// NotificationConfig selects the Pub/Sub topic used for email notifications.
type NotificationConfig struct {
	ProjectID string
	Topic     string
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment string
	HMAC        HMACConfig
}

// HMACConfig captures request signing expectations for internal callers.
type HMACConfig struct {
	Secrets         map[string]string
	SignatureHeader string
	TimestampHeader string
	NonceHeader     string
	ClockSkew       time.Duration
	NonceTTL        time.Duration
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects explicit values. They take precedence over the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks config fields that must resolve to a non-empty secret,
// e.g. "Payments.Bank.StoreKey" or "Security.HMAC.Secrets[settings]".
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// Load assembles configuration from defaults, the .env file, the process
// environment and explicit overrides, then resolves secret references.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if value, ok := dotEnvValues[key]; ok {
			return value, true
		}
		return "", false
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Database: DatabaseConfig{
			Driver:          strings.ToLower(stringWithDefault(lookup, "API_DATABASE_DRIVER", defaultDatabaseDriver)),
			DSN:             stringWithDefault(lookup, "API_DATABASE_DSN", ""),
			MaxOpenConns:    intWithDefault(lookup, "API_DATABASE_MAX_OPEN_CONNS", defaultDatabaseMaxOpen),
			MaxIdleConns:    intWithDefault(lookup, "API_DATABASE_MAX_IDLE_CONNS", defaultDatabaseMaxIdle),
			ConnMaxLifetime: durationWithDefault(lookup, "API_DATABASE_CONN_MAX_LIFETIME", defaultDatabaseMaxLifetime),
			TxTimeout:       durationWithDefault(lookup, "API_DATABASE_TX_TIMEOUT", defaultTxTimeout),
			AutoMigrate:     boolWithDefault(lookup, "API_DATABASE_AUTO_MIGRATE", false),
		},
		Redis: RedisConfig{
			Addr:     stringWithDefault(lookup, "API_REDIS_ADDR", ""),
			Password: stringWithDefault(lookup, "API_REDIS_PASSWORD", ""),
			DB:       intWithDefault(lookup, "API_REDIS_DB", defaultRedisDB),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "API_FIREBASE_CREDENTIALS_FILE", ""),
			CheckRevoked:    boolWithDefault(lookup, "API_FIREBASE_CHECK_REVOKED", false),
		},
		Payments: PaymentsConfig{
			DefaultProvider: strings.ToLower(stringWithDefault(lookup, "API_PAYMENTS_DEFAULT_PROVIDER", defaultPaymentProvider)),
			Currency:        strings.ToUpper(stringWithDefault(lookup, "API_PAYMENTS_CURRENCY", defaultCurrency)),
			Bank: BankConfig{
				Enabled:      boolWithDefault(lookup, "API_PAYMENTS_BANK_ENABLED", true),
				ClientID:     stringWithDefault(lookup, "API_PAYMENTS_BANK_CLIENT_ID", ""),
				StoreKey:     stringWithDefault(lookup, "API_PAYMENTS_BANK_STORE_KEY", ""),
				GatewayURL:   stringWithDefault(lookup, "API_PAYMENTS_BANK_GATEWAY_URL", ""),
				OkURL:        stringWithDefault(lookup, "API_PAYMENTS_BANK_OK_URL", ""),
				FailURL:      stringWithDefault(lookup, "API_PAYMENTS_BANK_FAIL_URL", ""),
				StoreType:    stringWithDefault(lookup, "API_PAYMENTS_BANK_STORE_TYPE", defaultBankStoreType),
				TxnType:      stringWithDefault(lookup, "API_PAYMENTS_BANK_TXN_TYPE", defaultBankTxnType),
				Lang:         stringWithDefault(lookup, "API_PAYMENTS_BANK_LANG", defaultBankLang),
				CurrencyCode: stringWithDefault(lookup, "API_PAYMENTS_BANK_CURRENCY_CODE", defaultBankCurrencyCode),
			},
			Mock: MockConfig{
				Enabled:     boolWithDefault(lookup, "API_PAYMENTS_MOCK_ENABLED", false),
				SuccessRate: floatWithDefault(lookup, "API_PAYMENTS_MOCK_SUCCESS_RATE", defaultMockSuccessRate),
				Latency:     durationWithDefault(lookup, "API_PAYMENTS_MOCK_LATENCY", defaultMockLatency),
			},
		},
		Storefront: StorefrontConfig{
			BaseURL:      strings.TrimRight(stringWithDefault(lookup, "API_STOREFRONT_BASE_URL", ""), "/"),
			PublicAPIURL: strings.TrimRight(stringWithDefault(lookup, "API_STOREFRONT_PUBLIC_API_URL", ""), "/"),
			AdminEmail:   stringWithDefault(lookup, "API_STOREFRONT_ADMIN_EMAIL", ""),
		},
		Settings: SettingsConfig{
			CacheTTL:     durationWithDefault(lookup, "API_SETTINGS_CACHE_TTL", defaultSettingsTTL),
			CacheBackend: strings.ToLower(stringWithDefault(lookup, "API_SETTINGS_CACHE_BACKEND", defaultCacheBackend)),
		},
		Notifications: NotificationConfig{
			ProjectID: stringWithDefault(lookup, "API_NOTIFICATIONS_PROJECT_ID", ""),
			Topic:     stringWithDefault(lookup, "API_NOTIFICATIONS_TOPIC", ""),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(stringWithDefault(lookup, "API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
			HMAC: HMACConfig{
				Secrets:         mapWithDefault(lookup, "API_SECURITY_HMAC_SECRETS"),
				SignatureHeader: stringWithDefault(lookup, "API_SECURITY_HMAC_HEADER_SIGNATURE", defaultHMACSignatureHeader),
				TimestampHeader: stringWithDefault(lookup, "API_SECURITY_HMAC_HEADER_TIMESTAMP", defaultHMACTimestampHeader),
				NonceHeader:     stringWithDefault(lookup, "API_SECURITY_HMAC_HEADER_NONCE", defaultHMACNonceHeader),
				ClockSkew:       durationWithDefault(lookup, "API_SECURITY_HMAC_CLOCK_SKEW", defaultHMACClockSkew),
				NonceTTL:        durationWithDefault(lookup, "API_SECURITY_HMAC_NONCE_TTL", defaultHMACNonceTTL),
			},
		},
		Idempotency: IdempotencyConfig{
			Header:           stringWithDefault(lookup, "API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              durationWithDefault(lookup, "API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  durationWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: intWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatch),
		},
	}

	if cfg.Notifications.ProjectID == "" {
		cfg.Notifications.ProjectID = cfg.Firebase.ProjectID
	}

	resolved := make(map[string]string)
	for key, value := range cfg.Security.HMAC.Secrets {
		name := fmt.Sprintf("Security.HMAC.Secrets[%s]", key)
		secret, err := resolveSecret(ctx, value, options.secret)
		if err != nil {
			return Config{}, err
		}
		cfg.Security.HMAC.Secrets[key] = secret
		resolved[name] = strings.TrimSpace(secret)
	}

	secretFields := []struct {
		name  string
		field *string
	}{
		{"Database.DSN", &cfg.Database.DSN},
		{"Redis.Password", &cfg.Redis.Password},
		{"Payments.Bank.StoreKey", &cfg.Payments.Bank.StoreKey},
	}
	for _, target := range secretFields {
		secret, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = secret
		resolved[target.name] = strings.TrimSpace(secret)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		return Config{}, missing
	}

	return cfg, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	switch cfg.Database.Driver {
	case "mysql", "sqlite":
	default:
		missing = append(missing, "Database.Driver")
	}
	if strings.TrimSpace(cfg.Database.DSN) == "" {
		missing = append(missing, "Database.DSN")
	}
	if cfg.Firebase.ProjectID == "" {
		missing = append(missing, "Firebase.ProjectID")
	}
	if len(cfg.Payments.Currency) != 3 {
		missing = append(missing, "Payments.Currency")
	}
	if !cfg.Payments.Bank.Enabled && !cfg.Payments.Mock.Enabled {
		missing = append(missing, "Payments.Bank.Enabled")
	}
	if cfg.Payments.Bank.Enabled {
		bank := cfg.Payments.Bank
		if bank.ClientID == "" {
			missing = append(missing, "Payments.Bank.ClientID")
		}
		if bank.GatewayURL == "" {
			missing = append(missing, "Payments.Bank.GatewayURL")
		}
		if bank.OkURL == "" {
			missing = append(missing, "Payments.Bank.OkURL")
		}
		if bank.FailURL == "" {
			missing = append(missing, "Payments.Bank.FailURL")
		}
	}
	if cfg.Payments.Mock.Enabled {
		if cfg.Payments.Mock.SuccessRate < 0 || cfg.Payments.Mock.SuccessRate > 1 {
			missing = append(missing, "Payments.Mock.SuccessRate")
		}
		if cfg.Storefront.PublicAPIURL == "" {
			missing = append(missing, "Storefront.PublicAPIURL")
		}
	}
	switch cfg.Payments.DefaultProvider {
	case "bank":
		if !cfg.Payments.Bank.Enabled {
			missing = append(missing, "Payments.DefaultProvider")
		}
	case "mock":
		if !cfg.Payments.Mock.Enabled {
			missing = append(missing, "Payments.DefaultProvider")
		}
	default:
		missing = append(missing, "Payments.DefaultProvider")
	}
	if cfg.Storefront.BaseURL == "" {
		missing = append(missing, "Storefront.BaseURL")
	}
	if cfg.Settings.CacheTTL <= 0 {
		missing = append(missing, "Settings.CacheTTL")
	}
	switch cfg.Settings.CacheBackend {
	case "memory":
	case "redis":
		if !cfg.Redis.Enabled() {
			missing = append(missing, "Redis.Addr")
		}
	default:
		missing = append(missing, "Settings.CacheBackend")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		missing = append(missing, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		missing = append(missing, "Idempotency.TTL")
	}
	if cfg.Idempotency.CleanupBatchSize <= 0 {
		missing = append(missing, "Idempotency.CleanupBatchSize")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}
