// Package config loads runtime configuration from defaults, an optional file,
// a .env file and KOI_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	envPrefix               = "KOI"
	defaultHTTPAddress      = "0.0.0.0:8080"
	defaultDatabaseDriver   = "sqlite"
	defaultDatabaseDSN      = "koi.db"
	defaultLogLevel         = "info"
	defaultCookieName       = "koi_session"
	defaultIssuer           = "koi-auth"
	defaultTokenTTLMinutes  = 720
	defaultRetentionDays    = 90
	defaultClientBaseURL    = "http://localhost:8080"
	defaultClientLocale     = "en"
	defaultLevelUpDelayMS   = 2500
	defaultToastDurationMS  = 4000
	defaultAllowedOriginAny = "*"
)

// ServerConfig captures runtime configuration for the API server.
type ServerConfig struct {
	HTTPAddress     string   `validate:"required"`
	DatabaseDriver  string   `validate:"required,oneof=sqlite postgres"`
	DatabaseDSN     string   `validate:"required"`
	LogLevel        string   `validate:"omitempty,oneof=debug info warn warning error"`
	SigningSecret   string   `validate:"required,min=8"`
	Issuer          string   `validate:"required"`
	CookieName      string   `validate:"required"`
	TokenTTLMinutes int      `validate:"gt=0"`
	RedisURL        string   `validate:"omitempty,url"`
	RetentionDays   int      `validate:"gte=0"`
	AdminEmails     []string `validate:"dive,email"`

	AllowedOrigins []string
	TokenTTL       time.Duration
}

// ClientConfig captures runtime configuration for the watch client.
type ClientConfig struct {
	BaseURL   string `validate:"required,url"`
	Token     string `validate:"required"`
	LogLevel  string `validate:"omitempty,oneof=debug info warn warning error"`
	LevelUpMS int    `validate:"gte=0"`
	ToastMS   int    `validate:"gt=0"`

	Locale        string
	LevelUpDelay  time.Duration
	ToastDuration time.Duration
}

var validate = validator.New()

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// LoadDotEnv loads variables from the given .env files when they exist.
func LoadDotEnv(paths ...string) {
	_ = godotenv.Load(paths...)
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.allowed_origins", []string{defaultAllowedOriginAny})
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.dsn", defaultDatabaseDSN)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.issuer", defaultIssuer)
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("redis.url", "")
	configViper.SetDefault("checkin.retention_days", defaultRetentionDays)
	configViper.SetDefault("admin.emails", []string{})
	configViper.SetDefault("client.base_url", defaultClientBaseURL)
	configViper.SetDefault("client.locale", defaultClientLocale)
	configViper.SetDefault("client.level_up_delay_ms", defaultLevelUpDelayMS)
	configViper.SetDefault("client.toast_duration_ms", defaultToastDurationMS)
}

// LoadServer parses server configuration from viper.
func LoadServer(configViper *viper.Viper) (ServerConfig, error) {
	cfg := ServerConfig{
		HTTPAddress:     configViper.GetString("http.address"),
		AllowedOrigins:  cleanList(configViper.GetStringSlice("http.allowed_origins")),
		DatabaseDriver:  strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabaseDSN:     strings.TrimSpace(configViper.GetString("database.dsn")),
		LogLevel:        strings.ToLower(strings.TrimSpace(configViper.GetString("log.level"))),
		SigningSecret:   configViper.GetString("auth.signing_secret"),
		Issuer:          strings.TrimSpace(configViper.GetString("auth.issuer")),
		CookieName:      strings.TrimSpace(configViper.GetString("auth.cookie_name")),
		TokenTTLMinutes: configViper.GetInt("auth.token_ttl_minutes"),
		RedisURL:        strings.TrimSpace(configViper.GetString("redis.url")),
		RetentionDays:   configViper.GetInt("checkin.retention_days"),
		AdminEmails:     cleanList(configViper.GetStringSlice("admin.emails")),
	}
	if err := validate.Struct(cfg); err != nil {
		return ServerConfig{}, formatValidationError(err)
	}
	cfg.TokenTTL = time.Duration(cfg.TokenTTLMinutes) * time.Minute
	return cfg, nil
}

// Retention is the check-in retention window; zero disables pruning.
func (c ServerConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// LoadClient parses watch client configuration from viper.
func LoadClient(configViper *viper.Viper) (ClientConfig, error) {
	cfg := ClientConfig{
		BaseURL:   strings.TrimRight(strings.TrimSpace(configViper.GetString("client.base_url")), "/"),
		Token:     strings.TrimSpace(configViper.GetString("client.token")),
		Locale:    strings.TrimSpace(configViper.GetString("client.locale")),
		LogLevel:  strings.ToLower(strings.TrimSpace(configViper.GetString("log.level"))),
		LevelUpMS: configViper.GetInt("client.level_up_delay_ms"),
		ToastMS:   configViper.GetInt("client.toast_duration_ms"),
	}
	if err := validate.Struct(cfg); err != nil {
		return ClientConfig{}, formatValidationError(err)
	}
	cfg.LevelUpDelay = time.Duration(cfg.LevelUpMS) * time.Millisecond
	cfg.ToastDuration = time.Duration(cfg.ToastMS) * time.Millisecond
	return cfg, nil
}

func cleanList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}

func formatValidationError(err error) error {
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	messages := make([]string, 0, len(validationErrors))
	for _, fieldError := range validationErrors {
		messages = append(messages, fmt.Sprintf("%s failed %q", configKey(fieldError.StructField()), fieldError.Tag()))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(messages, "; "))
}

func configKey(field string) string {
	if index := strings.IndexByte(field, '['); index >= 0 {
		field = field[:index]
	}
	keys := map[string]string{
		"HTTPAddress":     "http.address",
		"DatabaseDriver":  "database.driver",
		"DatabaseDSN":     "database.dsn",
		"LogLevel":        "log.level",
		"SigningSecret":   "auth.signing_secret",
		"Issuer":          "auth.issuer",
		"CookieName":      "auth.cookie_name",
		"TokenTTLMinutes": "auth.token_ttl_minutes",
		"RedisURL":        "redis.url",
		"RetentionDays":   "checkin.retention_days",
		"AdminEmails":     "admin.emails",
		"BaseURL":         "client.base_url",
		"Token":           "client.token",
		"LevelUpMS":       "client.level_up_delay_ms",
		"ToastMS":         "client.toast_duration_ms",
	}
	if key, ok := keys[field]; ok {
		return key
	}
	return field
}
