package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	Server   ServerConfig
	Clerk    ClerkConfig
	Redis    RedisConfig
	Database DatabaseConfig
	LogLevel string
}

type ServerConfig struct {
	Port         string `validate:"required"`
	Host         string
	Environment  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Key selection strategies for picking the verification key out of the JWKS.
const (
	KeySelectionKID   = "kid"
	KeySelectionFirst = "first"
)

type ClerkConfig struct {
	FrontendAPIURL    string        `validate:"required,url"`
	APIURL            string        `validate:"required,url"`
	SecretKey         string        `validate:"required"`
	Issuer            string        `validate:"omitempty,url"`
	AuthorizedParties []string      `validate:"dive,required"`
	KeySelection      string        `validate:"oneof=kid first"`
	JWKSDiscovery     bool
	Leeway            time.Duration `validate:"gte=0"`
	UserInfoTTL       time.Duration `validate:"gt=0"`
	APIRPS            float64       `validate:"gt=0"`
	HTTPTimeout       time.Duration `validate:"gt=0"`
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type DatabaseConfig struct {
	Driver        string        `validate:"oneof=sqlite postgres mongo"`
	DSN           string        `validate:"required_unless=Driver mongo"`
	MongoURI      string        `validate:"required_if=Driver mongo"`
	MongoDatabase string
	Timeout       time.Duration `validate:"gt=0"`
}

// LoadConfig loads configuration from environment variables and .env file
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("SERVER_PORT", "8000")
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_ENVIRONMENT", "development")
	v.SetDefault("CLERK_API_URL", "https://api.clerk.com/v1")
	v.SetDefault("CLERK_KEY_SELECTION", KeySelectionKID)
	v.SetDefault("CLERK_JWKS_DISCOVERY", false)
	v.SetDefault("CLERK_LEEWAY", "0s")
	v.SetDefault("CLERK_USER_INFO_TTL", "24h")
	v.SetDefault("CLERK_API_RPS", 10)
	v.SetDefault("CLERK_HTTP_TIMEOUT", "10s")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("DB_DRIVER", "sqlite")
	v.SetDefault("DB_DSN", "file:pamahres.db?_pragma=busy_timeout(5000)")
	v.SetDefault("MONGODB_DATABASE", "pamahres")
	v.SetDefault("DB_TIMEOUT", 10)
	v.SetDefault("LOG_LEVEL", "info")

	cfg := &Config{
		Server: ServerConfig{
			Port:         v.GetString("SERVER_PORT"),
			Host:         v.GetString("SERVER_HOST"),
			Environment:  v.GetString("SERVER_ENVIRONMENT"),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Clerk: ClerkConfig{
			FrontendAPIURL:    strings.TrimRight(v.GetString("CLERK_FRONTEND_API_URL"), "/"),
			APIURL:            strings.TrimRight(v.GetString("CLERK_API_URL"), "/"),
			SecretKey:         v.GetString("CLERK_SECRET_KEY"),
			Issuer:            v.GetString("CLERK_ISSUER"),
			AuthorizedParties: splitList(v.GetString("CLERK_AUTHORIZED_PARTIES")),
			KeySelection:      strings.ToLower(v.GetString("CLERK_KEY_SELECTION")),
			JWKSDiscovery:     v.GetBool("CLERK_JWKS_DISCOVERY"),
			Leeway:            v.GetDuration("CLERK_LEEWAY"),
			UserInfoTTL:       v.GetDuration("CLERK_USER_INFO_TTL"),
			APIRPS:            v.GetFloat64("CLERK_API_RPS"),
			HTTPTimeout:       v.GetDuration("CLERK_HTTP_TIMEOUT"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetString("REDIS_PORT"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		Database: DatabaseConfig{
			Driver:        strings.ToLower(v.GetString("DB_DRIVER")),
			DSN:           v.GetString("DB_DSN"),
			MongoURI:      v.GetString("MONGODB_URI"),
			MongoDatabase: v.GetString("MONGODB_DATABASE"),
			Timeout:       time.Duration(v.GetInt("DB_TIMEOUT")) * time.Second,
		},
		LogLevel: v.GetString("LOG_LEVEL"),
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// RedisAddr returns host:port, or "" when Redis is not configured.
func (c RedisConfig) RedisAddr() string {
	if c.Host == "" {
		return ""
	}
	return c.Host + ":" + c.Port
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
