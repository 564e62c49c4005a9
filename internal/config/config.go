// Package config loads botgate settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the full gateway and worker configuration.
type Config struct {
	Gateway    GatewayConfig
	Upstream   UpstreamConfig
	Redis      RedisConfig
	Queue      QueueConfig
	Worker     WorkerConfig
	Plugins    PluginConfig
	Permission PermissionConfig
}

// GatewayConfig holds the inbound WebSocket server settings.
type GatewayConfig struct {
	Host                string        `env:"GATEWAY_HOST"       envDefault:"0.0.0.0"`
	Port                int           `env:"GATEWAY_PORT"       envDefault:"8080"`
	AccessToken         string        `env:"ACCESS_TOKEN"`
	HeartbeatIntervalMS int           `env:"HEARTBEAT_INTERVAL" envDefault:"5000"`
	HeartbeatMissed     int           `env:"HEARTBEAT_MISSED"   envDefault:"3"`
	ActionTimeout       time.Duration `env:"ACTION_TIMEOUT"     envDefault:"30s"`
}

// HeartbeatInterval returns the heartbeat period.
func (g GatewayConfig) HeartbeatInterval() time.Duration {
	return time.Duration(g.HeartbeatIntervalMS) * time.Millisecond
}

// UpstreamConfig holds outbound link settings.
type UpstreamConfig struct {
	URLs           URLList       `env:"UPSTREAM_URLS"`
	URL            string        `env:"UPSTREAM_URL"` // legacy single URL
	Platform       string        `env:"UPSTREAM_PLATFORM" envDefault:"botgate"`
	SelfID         string        `env:"UPSTREAM_SELF_ID"`
	ReconnectDelay time.Duration `env:"RECONNECT_DELAY"   envDefault:"5s"`
}

// All returns every configured upstream URL, legacy URL last, without
// duplicates.
func (u UpstreamConfig) All() []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range append(append([]string(nil), u.URLs...), u.URL) {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// RedisConfig holds the durable store connection.
type RedisConfig struct {
	URL string `env:"REDIS_URL"`
}

// QueueConfig holds stream and consumer group settings.
type QueueConfig struct {
	StreamKey string        `env:"STREAM_KEY"       envDefault:"botgate:events"`
	MaxLen    int64         `env:"STREAM_MAXLEN"    envDefault:"10000"`
	PostTypes []string      `env:"QUEUE_POST_TYPES" envDefault:"message" envSeparator:","`
	Group     string        `env:"CONSUMER_GROUP"   envDefault:"botgate-workers"`
	Consumer  string        `env:"CONSUMER_NAME"`
	ClaimIdle time.Duration `env:"CLAIM_IDLE"       envDefault:"60s"`
}

// WorkerConfig holds queue worker settings.
type WorkerConfig struct {
	Concurrency int    `env:"WORKER_CONCURRENCY" envDefault:"1"`
	GatewayURL  string `env:"GATEWAY_URL"        envDefault:"ws://127.0.0.1:8080/ws"`
}

// PluginConfig holds plugin pipeline settings.
type PluginConfig struct {
	File     string        `env:"PLUGINS_FILE" envDefault:"plugins.yaml"`
	StateTTL time.Duration `env:"STATE_TTL"    envDefault:"300s"`
}

// PermissionConfig holds permission sync settings.
type PermissionConfig struct {
	DB           string        `env:"PERMISSIONS_DB"`
	SyncInterval time.Duration `env:"PERMISSIONS_SYNC_INTERVAL" envDefault:"60s"`
}

// URLList accepts a comma-separated list or a JSON array.
type URLList []string

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *URLList) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		*l = nil
		return nil
	}
	if strings.HasPrefix(s, "[") {
		var urls []string
		if err := json.Unmarshal([]byte(s), &urls); err != nil {
			return fmt.Errorf("invalid URL list: %w", err)
		}
		*l = urls
		return nil
	}
	var urls []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			urls = append(urls, part)
		}
	}
	*l = urls
	return nil
}

// Load reads envFile (if it exists; "" means ".env") into the process
// environment without overriding variables already set, then parses the
// environment.
func Load(envFile string) (Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", envFile, err)
	}
	return Parse()
}

// Parse reads the configuration from the environment only.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.Queue.Consumer == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "botgate"
		}
		cfg.Queue.Consumer = host
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the components cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		errs = append(errs, fmt.Errorf("GATEWAY_PORT %d out of range", c.Gateway.Port))
	}
	if c.Gateway.HeartbeatIntervalMS <= 0 {
		errs = append(errs, errors.New("HEARTBEAT_INTERVAL must be positive"))
	}
	if c.Gateway.HeartbeatMissed <= 0 {
		errs = append(errs, errors.New("HEARTBEAT_MISSED must be positive"))
	}
	if c.Gateway.ActionTimeout <= 0 {
		errs = append(errs, errors.New("ACTION_TIMEOUT must be positive"))
	}
	if c.Upstream.ReconnectDelay <= 0 {
		errs = append(errs, errors.New("RECONNECT_DELAY must be positive"))
	}
	if c.Worker.Concurrency <= 0 {
		errs = append(errs, errors.New("WORKER_CONCURRENCY must be at least 1"))
	}
	if c.Plugins.StateTTL <= 0 {
		errs = append(errs, errors.New("STATE_TTL must be positive"))
	}
	if c.Queue.MaxLen < 0 {
		errs = append(errs, errors.New("STREAM_MAXLEN must not be negative"))
	}
	return errors.Join(errs...)
}
