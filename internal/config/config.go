package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config aggregates every setting the wall server needs.
type Config struct {
	Server   ServerConfig
	Store    StoreConfig
	Upload   UploadConfig
	Wall     WallConfig
	LogLevel string
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	store, err := loadStoreConfig()
	if err != nil {
		return nil, err
	}

	upload, err := loadUploadConfig()
	if err != nil {
		return nil, err
	}

	wall, err := loadWallConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:   server,
		Store:    store,
		Upload:   upload,
		Wall:     wall,
		LogLevel: server.LogLevel,
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr      string
	PublicURL string
	LogLevel  string
}

type serverEnv struct {
	Port      string `envconfig:"PORT" default:"8080"`
	PublicURL string `envconfig:"PUBLIC_URL"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
}

func loadServerConfig() (ServerConfig, error) {
	var env serverEnv
	if err := envconfig.Process("", &env); err != nil {
		return ServerConfig{}, fmt.Errorf("server config: %w", err)
	}

	addr, err := normalizeAddr(env.Port)
	if err != nil {
		return ServerConfig{}, err
	}

	return ServerConfig{
		Addr:      addr,
		PublicURL: strings.TrimRight(strings.TrimSpace(env.PublicURL), "/"),
		LogLevel:  strings.ToLower(strings.TrimSpace(env.LogLevel)),
	}, nil
}

func normalizeAddr(port string) (string, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// ":8080" and "127.0.0.1:8080" are used as given.
		return port, nil
	}

	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}

	return ":" + port, nil
}

// StoreConfig selects the message store.
type StoreConfig struct {
	URI      string `envconfig:"MONGO_URI" required:"true"`
	Database string `envconfig:"MONGO_DATABASE" default:"messagewall"`
}

func loadStoreConfig() (StoreConfig, error) {
	var cfg StoreConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return StoreConfig{}, fmt.Errorf("store config: %w", err)
	}
	cfg.URI = strings.TrimSpace(cfg.URI)
	if cfg.URI == "" {
		return StoreConfig{}, fmt.Errorf("store config: MONGO_URI is empty")
	}
	return cfg, nil
}

// UploadConfig describes where photos go.
type UploadConfig struct {
	CloudinaryURL string        `envconfig:"CLOUDINARY_URL"`
	Folder        string        `envconfig:"CLOUDINARY_FOLDER" default:"messages"`
	Dir           string        `envconfig:"UPLOAD_DIR"`
	MaxWidth      uint          `envconfig:"UPLOAD_MAX_WIDTH" default:"1600"`
	Timeout       time.Duration `envconfig:"UPLOAD_TIMEOUT" default:"20s"`
}

// Enabled reports whether any uploader is configured.
func (c UploadConfig) Enabled() bool {
	return c.CloudinaryURL != "" || c.Dir != ""
}

func loadUploadConfig() (UploadConfig, error) {
	var cfg UploadConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return UploadConfig{}, fmt.Errorf("upload config: %w", err)
	}
	cfg.CloudinaryURL = strings.TrimSpace(cfg.CloudinaryURL)
	cfg.Dir = strings.TrimSpace(cfg.Dir)
	if cfg.Timeout <= 0 {
		return UploadConfig{}, fmt.Errorf("invalid UPLOAD_TIMEOUT value: %s", cfg.Timeout)
	}
	return cfg, nil
}

// WallConfig holds admission limits and client cadence.
type WallConfig struct {
	MaxMessageLength    int           `envconfig:"MAX_MESSAGE_LENGTH" default:"300"`
	MaxSenderNameLength int           `envconfig:"MAX_SENDER_NAME_LENGTH" default:"60"`
	MaxImageBytes       int64         `envconfig:"MAX_IMAGE_BYTES" default:"5242880"`
	RateLimitWindow     time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"60s"`
	LatestLimit         int           `envconfig:"LATEST_LIMIT" default:"0"`
	RotationInterval    time.Duration `envconfig:"ROTATION_INTERVAL" default:"15s"`
	ResyncInterval      time.Duration `envconfig:"RESYNC_INTERVAL" default:"15s"`
	HubBuffer           int           `envconfig:"HUB_BUFFER" default:"256"`
}

func loadWallConfig() (WallConfig, error) {
	var cfg WallConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return WallConfig{}, fmt.Errorf("wall config: %w", err)
	}

	switch {
	case cfg.MaxMessageLength < 1:
		return WallConfig{}, fmt.Errorf("invalid MAX_MESSAGE_LENGTH value: %d", cfg.MaxMessageLength)
	case cfg.MaxSenderNameLength < 1:
		return WallConfig{}, fmt.Errorf("invalid MAX_SENDER_NAME_LENGTH value: %d", cfg.MaxSenderNameLength)
	case cfg.MaxImageBytes < 1:
		return WallConfig{}, fmt.Errorf("invalid MAX_IMAGE_BYTES value: %d", cfg.MaxImageBytes)
	case cfg.RateLimitWindow <= 0:
		return WallConfig{}, fmt.Errorf("invalid RATE_LIMIT_WINDOW value: %s", cfg.RateLimitWindow)
	case cfg.LatestLimit < 0:
		return WallConfig{}, fmt.Errorf("invalid LATEST_LIMIT value: %d", cfg.LatestLimit)
	case cfg.RotationInterval <= 0 || cfg.ResyncInterval <= 0:
		return WallConfig{}, fmt.Errorf("rotation and resync intervals must be positive")
	}
	if cfg.HubBuffer < 1 {
		cfg.HubBuffer = 1
	}
	return cfg, nil
}
