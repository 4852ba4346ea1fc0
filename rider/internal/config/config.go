package config

import (
	"errors"
	"strings"
	"time"

	libconfig "ridepass/libs/config"
)

// Config defines the rider agent configuration.
type Config struct {
	Backend struct {
		BaseURL string `yaml:"baseUrl" env:"RIDER_BACKEND_URL"`
	} `yaml:"backend"`
	Radio struct {
		FeedURL string `yaml:"feedUrl" env:"RIDER_RADIO_FEED_URL"`
	} `yaml:"radio"`
	Beacon struct {
		Name          string `yaml:"name" env:"RIDER_BEACON_NAME"`
		RSSIThreshold int    `yaml:"rssiThreshold" env:"RIDER_RSSI_THRESHOLD"`
		StableSeconds int    `yaml:"stableSeconds" env:"RIDER_STABLE_SECONDS"`
		LossSeconds   int    `yaml:"lossSeconds" env:"RIDER_LOSS_SECONDS"`
		TickSeconds   int    `yaml:"tickSeconds" env:"RIDER_TICK_SECONDS"`
	} `yaml:"beacon"`
	Proof struct {
		SlotSeconds int `yaml:"slotSeconds" env:"RIDER_SLOT_SECONDS"`
	} `yaml:"proof"`
	Keystore struct {
		Dir string `yaml:"dir" env:"RIDER_KEYSTORE_DIR"`
	} `yaml:"keystore"`
}

// Load reads configuration via the shared helper.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.Backend.BaseURL = "http://localhost:3000"
	cfg.Radio.FeedURL = "ws://localhost:8090/observations"
	cfg.Beacon.Name = "BUS_4711"
	cfg.Beacon.RSSIThreshold = -65
	cfg.Beacon.StableSeconds = 10
	cfg.Beacon.LossSeconds = 20
	cfg.Beacon.TickSeconds = 1
	cfg.Proof.SlotSeconds = 30
	cfg.Keystore.Dir = ".ridepass"

	if err := libconfig.Load(cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.Backend.BaseURL) == "" {
		return nil, errors.New("config: backend base url required")
	}
	if strings.TrimSpace(cfg.Beacon.Name) == "" {
		return nil, errors.New("config: beacon name required")
	}
	return cfg, nil
}

// StableFor returns the stability window as a duration.
func (c *Config) StableFor() time.Duration {
	return time.Duration(c.Beacon.StableSeconds) * time.Second
}

// LossTimeout returns the loss timeout as a duration.
func (c *Config) LossTimeout() time.Duration {
	return time.Duration(c.Beacon.LossSeconds) * time.Second
}

// Tick returns the loss-check cadence as a duration.
func (c *Config) Tick() time.Duration {
	return time.Duration(c.Beacon.TickSeconds) * time.Second
}
