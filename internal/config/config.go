package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	yaml "gopkg.in/yaml.v3"
)

// PathEnv names the environment variable consulted when Load gets no path.
const PathEnv = "COMPANION_CONFIG"

type LogConfig struct {
	Level     string `yaml:"level" env:"LOG_LEVEL"`
	Format    string `yaml:"format" env:"LOG_FORMAT"`
	File      string `yaml:"file" env:"LOG_FILE"`
	ToConsole bool   `yaml:"to_console" env:"LOG_TO_CONSOLE"`
	ToFile    bool   `yaml:"to_file" env:"LOG_TO_FILE"`
	Caller    bool   `yaml:"caller" env:"LOG_CALLER"`
}

type StorageConfig struct {
	Driver      string `yaml:"driver" env:"STORAGE_DRIVER"`
	SQLitePath  string `yaml:"sqlite_path" env:"SQLITE_PATH"`
	DatabaseURL string `yaml:"database_url" env:"DATABASE_URL"`
}

type SnapshotConfig struct {
	// RedisURL selects the Redis cache; empty keeps snapshots in memory.
	RedisURL string        `yaml:"redis_url" env:"REDIS_URL"`
	TTL      time.Duration `yaml:"ttl" env:"SNAPSHOT_TTL"`
	Wait     time.Duration `yaml:"wait" env:"SNAPSHOT_WAIT"`
	Poll     time.Duration `yaml:"poll" env:"SNAPSHOT_POLL"`
}

type FeedConfig struct {
	URL               string        `yaml:"url" env:"FEED_URL"`
	ReconnectAttempts int           `yaml:"reconnect_attempts" env:"FEED_RECONNECT_ATTEMPTS"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay" env:"FEED_RECONNECT_DELAY"`
	// ClientID is sent as X-Client-Id on the websocket handshake when set.
	ClientID string `yaml:"client_id" env:"FEED_CLIENT_ID"`
}

type NotifyConfig struct {
	// URL receives a POST per finalized match; empty disables delivery.
	URL     string        `yaml:"url" env:"NOTIFY_URL"`
	Timeout time.Duration `yaml:"timeout" env:"NOTIFY_TIMEOUT"`
	Retries int           `yaml:"retries" env:"NOTIFY_RETRIES"`
}

type APIConfig struct {
	// Addr is the listen address; empty disables the API. An empty
	// API_ADDR counts as unset, so disabling goes through the file.
	Addr string `yaml:"addr" env:"API_ADDR"`
}

type AppConfig struct {
	Log      LogConfig      `yaml:"log"`
	Storage  StorageConfig  `yaml:"storage"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Feed     FeedConfig     `yaml:"feed"`
	Notify   NotifyConfig   `yaml:"notify"`
	API      APIConfig      `yaml:"api"`
}

// Defaults returns the built-in configuration.
func Defaults() *AppConfig {
	return &AppConfig{
		Log: LogConfig{
			Level:     "info",
			Format:    "legacy",
			File:      "logs/companion.log",
			ToConsole: true,
			ToFile:    false,
		},
		Storage: StorageConfig{
			Driver:     "sqlite",
			SQLitePath: "data/companion.db",
		},
		Snapshot: SnapshotConfig{
			TTL:  5 * time.Minute,
			Wait: 5 * time.Second,
			Poll: 100 * time.Millisecond,
		},
		Feed: FeedConfig{
			URL:               "ws://127.0.0.1:7781/feed",
			ReconnectAttempts: 5,
			ReconnectDelay:    time.Second,
		},
		Notify: NotifyConfig{
			Timeout: 10 * time.Second,
			Retries: 3,
		},
		API: APIConfig{Addr: "127.0.0.1:7780"},
	}
}

// Load layers defaults, an optional YAML file, then environment variables.
// path falls back to $COMPANION_CONFIG; a missing file is not an error.
func Load(path string) (*AppConfig, error) {
	cfg := Defaults()

	if strings.TrimSpace(path) == "" {
		path = strings.TrimSpace(os.Getenv(PathEnv))
	}
	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	// env.Parse leaves unset variables alone, so file values survive.
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *AppConfig) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *AppConfig) normalize() {
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	c.Storage.SQLitePath = strings.TrimSpace(c.Storage.SQLitePath)
	c.Storage.DatabaseURL = strings.TrimSpace(c.Storage.DatabaseURL)
	c.Snapshot.RedisURL = strings.TrimSpace(c.Snapshot.RedisURL)
	c.Feed.URL = strings.TrimSpace(c.Feed.URL)
	c.Notify.URL = strings.TrimSpace(c.Notify.URL)
	c.API.Addr = strings.TrimSpace(c.API.Addr)
}

// Validate reports the first invalid setting.
func (c *AppConfig) Validate() error {
	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return errors.New("SQLITE_PATH is required for the sqlite driver")
		}
	case "postgres":
		if c.Storage.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unsupported STORAGE_DRIVER %q", c.Storage.Driver)
	}

	durations := []struct {
		name string
		v    time.Duration
	}{
		{"SNAPSHOT_TTL", c.Snapshot.TTL},
		{"SNAPSHOT_WAIT", c.Snapshot.Wait},
		{"SNAPSHOT_POLL", c.Snapshot.Poll},
		{"FEED_RECONNECT_DELAY", c.Feed.ReconnectDelay},
		{"NOTIFY_TIMEOUT", c.Notify.Timeout},
	}
	for _, d := range durations {
		if d.v <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, d.v)
		}
	}
	if c.Snapshot.Wait < c.Snapshot.Poll {
		return fmt.Errorf("SNAPSHOT_WAIT (%s) must not be shorter than SNAPSHOT_POLL (%s)", c.Snapshot.Wait, c.Snapshot.Poll)
	}
	if c.Feed.ReconnectAttempts < 0 {
		return fmt.Errorf("FEED_RECONNECT_ATTEMPTS must not be negative, got %d", c.Feed.ReconnectAttempts)
	}
	return nil
}
