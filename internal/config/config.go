// Package config loads and validates service configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every configuration key when read from the
// environment: storage.bucket_input becomes MINION_STORAGE_BUCKET_INPUT.
const EnvPrefix = "MINION"

// Config is the complete service configuration.
type Config struct {
	Port        int    `mapstructure:"port"`
	DatabaseURL string `mapstructure:"database_url"`

	Log       LogConfig       `mapstructure:"log"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Polling   PollingConfig   `mapstructure:"polling"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Password  PasswordConfig  `mapstructure:"password"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Pricing   PricingConfig   `mapstructure:"pricing"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`

	// CORSOrigins lists allowed browser origins. "*" allows any.
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// LogConfig selects the zap logger level and encoding.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// StorageConfig configures the object store and its buckets.
type StorageConfig struct {
	BucketInput     string `mapstructure:"bucket_input"`
	BucketReports   string `mapstructure:"bucket_reports"`
	BucketEnrichIn  string `mapstructure:"bucket_enrich_input"`
	BucketEnrich    string `mapstructure:"bucket_enrich"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	Profile         string `mapstructure:"profile"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
	PublicBaseURL   string `mapstructure:"public_base_url"`
}

// ProvidersConfig holds the endpoints of the external verification and
// enrichment services.
type ProvidersConfig struct {
	SMTPSubmitURL string        `mapstructure:"smtp_submit_url"`
	SMTPStatusURL string        `mapstructure:"smtp_status_url"`
	SMTPAPIKey    string        `mapstructure:"smtp_api_key"`
	OutlookURL    string        `mapstructure:"outlook_url"`
	GsuiteURL     string        `mapstructure:"gsuite_url"`
	EnrichURL     string        `mapstructure:"enrich_url"`
	HTTPTimeout   time.Duration `mapstructure:"http_timeout"`
}

// PollingConfig bounds how long a status request waits on the primary provider.
type PollingConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Interval    time.Duration `mapstructure:"interval"`
	ClaimTTL    time.Duration `mapstructure:"claim_ttl"`
}

// AdminConfig holds the bootstrap administrator credentials. PasswordHash is
// a bcrypt hash.
type AdminConfig struct {
	Email        string `mapstructure:"email"`
	PasswordHash string `mapstructure:"password_hash"`
}

// PricingConfig seeds the price book when it is empty.
type PricingConfig struct {
	VerifyCost          int `mapstructure:"verify_cost"`
	EnrichCost          int `mapstructure:"enrich_cost"`
	CreditPrice         int `mapstructure:"credit_price"`
	RegistrationCredits int `mapstructure:"registration_credits"`
}

// RateLimitConfig configures the per-client request limiter.
type RateLimitConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	DefaultLimit    int           `mapstructure:"default_limit"`
	DefaultWindow   time.Duration `mapstructure:"default_window"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	Whitelist       []string      `mapstructure:"whitelist"`
	Blacklist       []string      `mapstructure:"blacklist"`
}

// legacyEnv maps keys to the unprefixed variable names used by existing
// deployments.
var legacyEnv = map[string]string{
	"port":                      "PORT",
	"database_url":              "DATABASE_URL",
	"jwt.secret":                "JWT_SECRET",
	"jwt.expiration_hours":      "JWT_EXPIRATION_HOURS",
	"password.bcrypt_cost":      "BCRYPT_COST",
	"password.pepper":           "PASSWORD_PEPPER",
	"storage.region":            "AWS_REGION",
	"storage.access_key_id":     "AWS_ACCESS_KEY_ID",
	"storage.secret_access_key": "AWS_SECRET_ACCESS_KEY",
	"providers.smtp_api_key":    "MAILS_API_KEY",
	"ratelimit.enabled":         "RATE_LIMIT_ENABLED",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("database_url", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("storage.bucket_input", "verify")
	v.SetDefault("storage.bucket_reports", "verify")
	v.SetDefault("storage.bucket_enrich_input", "enrich-input")
	v.SetDefault("storage.bucket_enrich", "enrich-output")
	v.SetDefault("storage.region", "")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.profile", "")
	v.SetDefault("storage.access_key_id", "")
	v.SetDefault("storage.secret_access_key", "")
	v.SetDefault("storage.force_path_style", false)
	v.SetDefault("storage.public_base_url", "")

	v.SetDefault("providers.smtp_submit_url", "")
	v.SetDefault("providers.smtp_status_url", "")
	v.SetDefault("providers.smtp_api_key", "")
	v.SetDefault("providers.outlook_url", "")
	v.SetDefault("providers.gsuite_url", "")
	v.SetDefault("providers.enrich_url", "")
	v.SetDefault("providers.http_timeout", "30s")

	v.SetDefault("polling.max_attempts", 60)
	v.SetDefault("polling.interval", "5s")
	v.SetDefault("polling.claim_ttl", "15m")

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiration_hours", 24)
	v.SetDefault("password.bcrypt_cost", 12)
	v.SetDefault("password.pepper", "")
	v.SetDefault("admin.email", "")
	v.SetDefault("admin.password_hash", "")

	v.SetDefault("pricing.verify_cost", 1)
	v.SetDefault("pricing.enrich_cost", 5)
	v.SetDefault("pricing.credit_price", 1)
	v.SetDefault("pricing.registration_credits", 100)

	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.default_limit", 1000)
	v.SetDefault("ratelimit.default_window", "1m")
	v.SetDefault("ratelimit.cleanup_interval", "5m")
	v.SetDefault("ratelimit.whitelist", []string{})
	v.SetDefault("ratelimit.blacklist", []string{})

	v.SetDefault("cors_origins", []string{"*"})
}

// Load reads defaults, then the optional config file at path (YAML, JSON or
// TOML by extension), then the environment. The result is validated.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		if err := v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the configuration has usable values. It reports every
// problem found, not only the first.
func (c *Config) Validate() error {
	var errs []error

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("config error: 'port' out of range: %d", c.Port))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("config error: 'database_url' is required"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("config error: 'log.format' must be json or console, got %q", c.Log.Format))
	}
	if c.Storage.BucketInput == "" || c.Storage.BucketReports == "" || c.Storage.BucketEnrich == "" || c.Storage.BucketEnrichIn == "" {
		errs = append(errs, errors.New("config error: storage buckets must not be empty"))
	}
	if (c.Storage.AccessKeyID != "") != (c.Storage.SecretAccessKey != "") {
		errs = append(errs, errors.New("config error: storage access key and secret must be set together"))
	}
	for name, raw := range map[string]string{
		"providers.smtp_submit_url": c.Providers.SMTPSubmitURL,
		"providers.smtp_status_url": c.Providers.SMTPStatusURL,
		"providers.outlook_url":     c.Providers.OutlookURL,
		"providers.gsuite_url":      c.Providers.GsuiteURL,
		"providers.enrich_url":      c.Providers.EnrichURL,
		"storage.endpoint":          c.Storage.Endpoint,
		"storage.public_base_url":   c.Storage.PublicBaseURL,
	} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("config error: '%s' is not an absolute URL: %q", name, raw))
		}
	}
	if c.Polling.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("config error: 'polling.max_attempts' must be at least 1, got %d", c.Polling.MaxAttempts))
	}
	if c.Polling.Interval < 0 || c.Polling.ClaimTTL <= 0 {
		errs = append(errs, errors.New("config error: polling durations must be positive"))
	}
	if c.Pricing.VerifyCost <= 0 || c.Pricing.EnrichCost <= 0 || c.Pricing.CreditPrice <= 0 || c.Pricing.RegistrationCredits < 0 {
		errs = append(errs, errors.New("config error: pricing seed values must be positive"))
	}
	if err := c.JWT.normalize(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Password.normalize(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
