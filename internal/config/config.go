// Package config loads blog settings from config.yml, .env and the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const defaultJWTSecret = "your-secret-key-change-in-production"

// Config is every setting the blog reads at startup.
type Config struct {
	Port string `mapstructure:"PORT"`
	Env  string `mapstructure:"APP_ENV"`

	DBDriver   string `mapstructure:"DB_DRIVER"`
	DBPath     string `mapstructure:"DB_PATH"`
	DBHost     string `mapstructure:"DB_HOST"`
	DBPort     string `mapstructure:"DB_PORT"`
	DBUser     string `mapstructure:"DB_USER"`
	DBPassword string `mapstructure:"DB_PASSWORD"`
	DBName     string `mapstructure:"DB_NAME"`
	DBSSLMode  string `mapstructure:"DB_SSLMODE"`

	RedisURL string `mapstructure:"REDIS_URL"`

	JWTSecret           string `mapstructure:"JWT_SECRET"`
	JWTTTLMinutes       int    `mapstructure:"JWT_TTL_MINUTES"`
	SessionTTLMinutes   int    `mapstructure:"SESSION_TTL_MINUTES"`
	SessionCookieSecure bool   `mapstructure:"SESSION_COOKIE_SECURE"`

	BlogURLPrefix string `mapstructure:"BLOG_URL_PREFIX"`
	SiteURL       string `mapstructure:"SITE_URL"`
	SiteName      string `mapstructure:"SITE_NAME"`
	SiteKeywords  string `mapstructure:"SITE_KEYWORDS"`

	UploadDir               string `mapstructure:"UPLOAD_DIR"`
	UploadPrefix            string `mapstructure:"UPLOAD_PREFIX"`
	UploadAllowedExtensions string `mapstructure:"UPLOAD_ALLOWED_EXTENSIONS"`
	UploadMaxSizeMB         int    `mapstructure:"UPLOAD_MAX_SIZE_MB"`

	StorageTimeoutMS int `mapstructure:"STORAGE_TIMEOUT_MS"`

	EventsBackend string `mapstructure:"EVENTS_BACKEND"`
	NATSURL       string `mapstructure:"NATS_URL"`

	FeatureFlags     string `mapstructure:"FEATURE_FLAGS"`
	TracingEnabled   bool   `mapstructure:"TRACING_ENABLED"`
	TracingExporter  string `mapstructure:"TRACING_EXPORTER"`
	OTLPEndpoint     string `mapstructure:"OTLP_ENDPOINT"`
	AllowedOrigins   string `mapstructure:"ALLOWED_ORIGINS"`
	RateLimitEnabled bool   `mapstructure:"RATE_LIMIT_ENABLED"`

	DevAdminUsername string `mapstructure:"DEV_ADMIN_USERNAME"`
	DevAdminPassword string `mapstructure:"DEV_ADMIN_PASSWORD"`
}

// LoadConfig merges config.yml, config.<APP_ENV>.yml, .env and the process
// environment, in rising precedence, then validates the result.
func LoadConfig() (*Config, error) {
	loadEnvFile()

	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()

	// The base file is optional; environment variables and defaults cover everything.
	_ = viper.ReadInConfig()

	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	if env != "development" && env != "test" {
		viper.SetConfigName("config." + env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("required profile-specific config 'config.%s.yml' not found: %w", env, err)
		}
		slog.Info("Loaded profile-specific configuration", slog.String("file", "config."+env+".yml"))
	}

	setDefaults()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	config.normalize()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// loadEnvFile exports variables from a local .env file, looking in the working
// directory and then its parent. Variables already set in the environment win.
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}
	cwd, err := os.Getwd()
	if err != nil {
		return
	}
	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}
	_ = godotenv.Load(filepath.Join(parent, ".env"))
}

func setDefaults() {
	viper.SetDefault("PORT", "8080")
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("DB_DRIVER", "sqlite")
	viper.SetDefault("DB_PATH", "blog.db")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_USER", "user")
	viper.SetDefault("DB_PASSWORD", "password")
	viper.SetDefault("DB_NAME", "blogger")
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("REDIS_URL", "")
	viper.SetDefault("JWT_SECRET", defaultJWTSecret)
	viper.SetDefault("JWT_TTL_MINUTES", 60)
	viper.SetDefault("SESSION_TTL_MINUTES", 24*60)
	viper.SetDefault("SESSION_COOKIE_SECURE", false)
	viper.SetDefault("BLOG_URL_PREFIX", "/blog")
	viper.SetDefault("SITE_URL", "http://localhost:8080")
	viper.SetDefault("SITE_NAME", "Blogger")
	viper.SetDefault("SITE_KEYWORDS", "blog,go")
	viper.SetDefault("UPLOAD_DIR", "uploads")
	viper.SetDefault("UPLOAD_PREFIX", "/uploads")
	viper.SetDefault("UPLOAD_ALLOWED_EXTENSIONS", "png,jpg,jpeg,gif")
	viper.SetDefault("UPLOAD_MAX_SIZE_MB", 5)
	viper.SetDefault("STORAGE_TIMEOUT_MS", 3000)
	viper.SetDefault("EVENTS_BACKEND", "none")
	viper.SetDefault("NATS_URL", "nats://127.0.0.1:4222")
	viper.SetDefault("FEATURE_FLAGS", "")
	viper.SetDefault("TRACING_ENABLED", false)
	viper.SetDefault("TRACING_EXPORTER", "stdout")
	viper.SetDefault("OTLP_ENDPOINT", "localhost:4318")
	viper.SetDefault("ALLOWED_ORIGINS", "http://localhost:8080,http://127.0.0.1:8080")
	viper.SetDefault("RATE_LIMIT_ENABLED", true)
	viper.SetDefault("DEV_ADMIN_USERNAME", "")
	viper.SetDefault("DEV_ADMIN_PASSWORD", "")
}

func (c *Config) normalize() {
	c.DBSSLMode = strings.ToLower(strings.TrimSpace(c.DBSSLMode))
	c.DBDriver = strings.ToLower(strings.TrimSpace(c.DBDriver))
	c.EventsBackend = strings.ToLower(strings.TrimSpace(c.EventsBackend))
	c.BlogURLPrefix = "/" + strings.Trim(strings.TrimSpace(c.BlogURLPrefix), "/")
	c.UploadPrefix = "/" + strings.Trim(strings.TrimSpace(c.UploadPrefix), "/")
}

// IsProduction reports whether the config targets a production environment.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// StorageTimeout is the per-call deadline applied to storage operations.
func (c *Config) StorageTimeout() time.Duration {
	return time.Duration(c.StorageTimeoutMS) * time.Millisecond
}

// Keywords returns the site keywords as a list.
func (c *Config) Keywords() []string {
	return splitList(c.SiteKeywords)
}

// AllowedExtensions returns the lower-cased upload extension allow-list.
func (c *Config) AllowedExtensions() []string {
	exts := splitList(c.UploadAllowedExtensions)
	for i, e := range exts {
		exts[i] = strings.ToLower(strings.TrimPrefix(e, "."))
	}
	return exts
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate rejects missing settings, and in production also weak secrets and open CORS.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	switch c.DBDriver {
	case "sqlite":
		if c.DBPath == "" {
			return errors.New("DB_PATH is required for the sqlite driver")
		}
	case "postgres":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	switch c.EventsBackend {
	case "", "none", "redis", "nats":
	default:
		return fmt.Errorf("unsupported EVENTS_BACKEND %q", c.EventsBackend)
	}
	if c.EventsBackend == "redis" && c.RedisURL == "" {
		return errors.New("REDIS_URL is required when EVENTS_BACKEND is redis")
	}
	if c.StorageTimeoutMS <= 0 {
		return errors.New("STORAGE_TIMEOUT_MS must be positive")
	}
	if c.UploadMaxSizeMB <= 0 {
		return errors.New("UPLOAD_MAX_SIZE_MB must be positive")
	}
	if c.SessionTTLMinutes <= 0 || c.JWTTTLMinutes <= 0 {
		return errors.New("SESSION_TTL_MINUTES and JWT_TTL_MINUTES must be positive")
	}

	if c.IsProduction() {
		if c.JWTSecret == defaultJWTSecret {
			return errors.New("JWT_SECRET must be changed from the default value in production")
		}
		if len(c.JWTSecret) < 32 {
			return errors.New("JWT_SECRET must be at least 32 characters in production")
		}
		if c.DevAdminUsername != "" {
			return errors.New("DEV_ADMIN_USERNAME must not be set in production")
		}
		if c.DBDriver == "postgres" {
			if c.DBPassword == "password" || c.DBPassword == "" {
				return errors.New("a strong DB_PASSWORD is required in production")
			}
			if c.DBSSLMode == "disable" || c.DBSSLMode == "" {
				return errors.New("DB_SSLMODE must enable TLS in production")
			}
		}
		if !c.SessionCookieSecure {
			slog.Warn("SESSION_COOKIE_SECURE is false in production; session cookies will be sent over plain HTTP")
		}
		if c.AllowedOrigins == "*" {
			slog.Warn("ALLOWED_ORIGINS is set to '*' in production. This is insecure.")
		}
	} else if len(c.JWTSecret) < 32 {
		slog.Warn("JWT_SECRET is shorter than 32 characters. Consider using a stronger secret for production.")
	}

	return nil
}
