package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	libconfig "ridepass/libs/config"
)

// Config defines the backend configuration.
type Config struct {
	HTTP struct {
		Port string `yaml:"port" env:"BACKEND_HTTP_PORT"`
	} `yaml:"http"`
	Database struct {
		DSN string `yaml:"dsn" env:"BACKEND_POSTGRES_DSN"`
	} `yaml:"database"`
	Redis struct {
		Addr     string `yaml:"addr" env:"BACKEND_REDIS_ADDR"`
		Password string `yaml:"password" env:"BACKEND_REDIS_PASSWORD"`
		DB       int    `yaml:"db" env:"BACKEND_REDIS_DB"`
		TTL      int    `yaml:"ttlSeconds" env:"BACKEND_REDIS_TTL"`
	} `yaml:"redis"`
	Keys struct {
		PrivatePath string `yaml:"privatePath" env:"BACKEND_PRIVATE_KEY_PATH"`
		PublicPath  string `yaml:"publicPath" env:"BACKEND_PUBLIC_KEY_PATH"`
	} `yaml:"keys"`
	Credential struct {
		Issuer          string `yaml:"issuer" env:"BACKEND_CREDENTIAL_ISSUER"`
		ValiditySeconds int    `yaml:"validitySeconds" env:"BACKEND_CREDENTIAL_VALIDITY"`
	} `yaml:"credential"`
	Fare struct {
		PriceCents  int `yaml:"priceCents" env:"BACKEND_FARE_PRICE_CENTS"`
		DayCapCents int `yaml:"dayCapCents" env:"BACKEND_FARE_DAY_CAP_CENTS"`
	} `yaml:"fare"`
	Debug bool `yaml:"debug" env:"BACKEND_DEBUG_ENDPOINTS"`
}

// Load reads configuration via the shared helper and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.HTTP.Port = "3000"
	cfg.Credential.Issuer = "ridepass-backend"
	cfg.Credential.ValiditySeconds = 12 * 60 * 60
	cfg.Redis.TTL = 12 * 60 * 60

	if err := libconfig.Load(cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.Database.DSN) == "" {
		return nil, errors.New("config: database dsn required")
	}
	if strings.TrimSpace(cfg.Keys.PrivatePath) == "" || strings.TrimSpace(cfg.Keys.PublicPath) == "" {
		return nil, errors.New("config: signing key paths required")
	}
	return cfg, nil
}

// HTTPAddress returns :port style.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "3000"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}

// CredentialValidity returns the credential lifetime as a duration.
func (c *Config) CredentialValidity() time.Duration {
	return time.Duration(c.Credential.ValiditySeconds) * time.Second
}

// ActiveSessionTTL returns the cache TTL as a duration.
func (c *Config) ActiveSessionTTL() time.Duration {
	if c.Redis.TTL <= 0 {
		return 12 * time.Hour
	}
	return time.Duration(c.Redis.TTL) * time.Second
}
