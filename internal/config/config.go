package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/matedash/authbridge/pkg/logger"
)

// Config holds application configuration
type Config struct {
	Server     ServerConfig
	MongoDB    MongoDBConfig
	Redis      RedisConfig
	Identity   IdentityConfig
	RateLimit  RateLimitConfig
	MinIO      MinIOConfig
	Onboarding OnboardingConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	Environment  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// IsProduction reports whether client errors should be kept out of the logs.
func (s ServerConfig) IsProduction() bool {
	return strings.EqualFold(s.Environment, "production")
}

type MongoDBConfig struct {
	URI      string
	Database string
	Timeout  time.Duration
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// Addr returns host:port, or "" when Redis is not configured.
func (r RedisConfig) Addr() string {
	if r.Host == "" {
		return ""
	}
	return r.Host + ":" + r.Port
}

// IdentityConfig points at the external identity provider.
type IdentityConfig struct {
	URL           string
	APIKey        string
	OIDCIssuer    string
	OIDCClientID  string
	Timeout       time.Duration
	AllowInsecure bool
}

type RateLimitConfig struct {
	Enabled       bool
	UseRedis      bool
	RPS           float64
	Burst         int
	WindowSeconds int
	// sign-in attempts allowed per email within SignInWindow
	SignInAttempts int
	SignInWindow   time.Duration
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	URLExpiry time.Duration
}

// OnboardingConfig names the client routes used by the onboarding gate.
type OnboardingConfig struct {
	WelcomeRoute string
	HomeRoute    string
}

// LoadConfig loads configuration from environment variables and an optional .env file
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("SERVER_PORT", "5001")
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_ENVIRONMENT", "development")
	v.SetDefault("MONGODB_DATABASE", "authbridge")
	v.SetDefault("MONGODB_TIMEOUT", 10)
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("IDENTITY_TIMEOUT", 10)
	v.SetDefault("RATE_LIMIT_ENABLED", true)
	v.SetDefault("RATE_LIMIT_USE_REDIS", true)
	v.SetDefault("RATE_LIMIT_RPS", 10)
	v.SetDefault("RATE_LIMIT_BURST", 20)
	v.SetDefault("RATE_LIMIT_WINDOW_SECONDS", 60)
	v.SetDefault("RATE_LIMIT_SIGNIN_ATTEMPTS", 5)
	v.SetDefault("RATE_LIMIT_SIGNIN_WINDOW_SECONDS", 900)
	v.SetDefault("MINIO_BUCKET", "avatars")
	v.SetDefault("MINIO_URL_EXPIRY_HOURS", 24*7)
	v.SetDefault("ONBOARDING_WELCOME_ROUTE", "/welcome")
	v.SetDefault("ONBOARDING_HOME_ROUTE", "/dashboard")

	cfg := &Config{
		Server: ServerConfig{
			Port:         v.GetString("SERVER_PORT"),
			Host:         v.GetString("SERVER_HOST"),
			Environment:  v.GetString("SERVER_ENVIRONMENT"),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		MongoDB: MongoDBConfig{
			URI:      v.GetString("MONGODB_URI"),
			Database: v.GetString("MONGODB_DATABASE"),
			Timeout:  time.Duration(v.GetInt("MONGODB_TIMEOUT")) * time.Second,
		},
		Redis: RedisConfig{
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetString("REDIS_PORT"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		Identity: IdentityConfig{
			URL:           strings.TrimRight(v.GetString("IDENTITY_URL"), "/"),
			APIKey:        v.GetString("IDENTITY_API_KEY"),
			OIDCIssuer:    v.GetString("IDENTITY_OIDC_ISSUER"),
			OIDCClientID:  v.GetString("IDENTITY_OIDC_CLIENT_ID"),
			Timeout:       time.Duration(v.GetInt("IDENTITY_TIMEOUT")) * time.Second,
			AllowInsecure: v.GetBool("ALLOW_INSECURE_TOKEN"),
		},
		RateLimit: RateLimitConfig{
			Enabled:        v.GetBool("RATE_LIMIT_ENABLED"),
			UseRedis:       v.GetBool("RATE_LIMIT_USE_REDIS"),
			RPS:            v.GetFloat64("RATE_LIMIT_RPS"),
			Burst:          v.GetInt("RATE_LIMIT_BURST"),
			WindowSeconds:  v.GetInt("RATE_LIMIT_WINDOW_SECONDS"),
			SignInAttempts: v.GetInt("RATE_LIMIT_SIGNIN_ATTEMPTS"),
			SignInWindow:   time.Duration(v.GetInt("RATE_LIMIT_SIGNIN_WINDOW_SECONDS")) * time.Second,
		},
		MinIO: MinIOConfig{
			Endpoint:  v.GetString("MINIO_ENDPOINT"),
			AccessKey: v.GetString("MINIO_ACCESS_KEY"),
			SecretKey: v.GetString("MINIO_SECRET_KEY"),
			UseSSL:    v.GetBool("MINIO_USE_SSL"),
			Bucket:    v.GetString("MINIO_BUCKET"),
			URLExpiry: time.Duration(v.GetInt("MINIO_URL_EXPIRY_HOURS")) * time.Hour,
		},
		Onboarding: OnboardingConfig{
			WelcomeRoute: v.GetString("ONBOARDING_WELCOME_ROUTE"),
			HomeRoute:    v.GetString("ONBOARDING_HOME_ROUTE"),
		},
	}

	if cfg.Identity.URL == "" {
		logger.Warn("IDENTITY_URL is not set; sign-in, refresh and token introspection will be unavailable")
	}
	if cfg.MongoDB.URI == "" {
		logger.Warn("MONGODB_URI is not set; profiles are kept in memory")
	}

	return cfg, nil
}
