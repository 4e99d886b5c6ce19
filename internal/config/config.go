package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration. Values resolve in three
// layers: compiled-in defaults, an optional YAML file, then LIFELINE_*
// environment variables.
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	Storage    StorageConfig    `yaml:"storage"`
	Escalation EscalationConfig `yaml:"escalation"`
	NATS       NATSConfig       `yaml:"nats"`
	Log        LogConfig        `yaml:"log"`
}

type HTTPConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type WebSocketConfig struct {
	HeartbeatPeriod   time.Duration `yaml:"heartbeat_period"`
	WriteBufferSize   int           `yaml:"write_buffer_size"`
	MessagesPerMinute int           `yaml:"messages_per_minute"`
	RateBurst         int           `yaml:"rate_burst"`
}

type StorageConfig struct {
	Path string `yaml:"path"`
}

// EscalationConfig overrides the compiled-in phrase lists. Empty lists
// keep the defaults.
type EscalationConfig struct {
	RiskPhrases      []string `yaml:"risk_phrases"`
	ImminencePhrases []string `yaml:"imminence_phrases"`
}

type NATSConfig struct {
	// URL enables event publishing when non-empty.
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func defaults() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: 10 * time.Second,
		},
		WebSocket: WebSocketConfig{
			HeartbeatPeriod:   30 * time.Second,
			WriteBufferSize:   100,
			MessagesPerMinute: 100,
			RateBurst:         10,
		},
		Storage: StorageConfig{
			Path: "./lifeline.db",
		},
		NATS: NATSConfig{
			SubjectPrefix: "lifeline.events",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load resolves the configuration. path may be empty, in which case only
// defaults and environment variables apply; a named file that does not
// exist is an error.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.HTTP.Host, "LIFELINE_HTTP_HOST")
	setInt(&cfg.HTTP.Port, "LIFELINE_HTTP_PORT")
	setDuration(&cfg.HTTP.ShutdownTimeout, "LIFELINE_HTTP_SHUTDOWN_TIMEOUT")

	setDuration(&cfg.WebSocket.HeartbeatPeriod, "LIFELINE_WS_HEARTBEAT_PERIOD")
	setInt(&cfg.WebSocket.WriteBufferSize, "LIFELINE_WS_WRITE_BUFFER_SIZE")
	setInt(&cfg.WebSocket.MessagesPerMinute, "LIFELINE_WS_MESSAGES_PER_MINUTE")
	setInt(&cfg.WebSocket.RateBurst, "LIFELINE_WS_RATE_BURST")

	setString(&cfg.Storage.Path, "LIFELINE_STORAGE_PATH")

	setString(&cfg.NATS.URL, "LIFELINE_NATS_URL")
	setString(&cfg.NATS.SubjectPrefix, "LIFELINE_NATS_SUBJECT_PREFIX")

	setString(&cfg.Log.Level, "LIFELINE_LOG_LEVEL")
	setString(&cfg.Log.Format, "LIFELINE_LOG_FORMAT")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port %d out of range", c.HTTP.Port)
	}
	if c.WebSocket.HeartbeatPeriod < time.Second {
		return fmt.Errorf("websocket.heartbeat_period %s too short", c.WebSocket.HeartbeatPeriod)
	}
	if c.WebSocket.WriteBufferSize < 1 {
		return fmt.Errorf("websocket.write_buffer_size must be positive")
	}
	if c.WebSocket.MessagesPerMinute < 1 {
		return fmt.Errorf("websocket.messages_per_minute must be positive")
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format %q must be json or console", c.Log.Format)
	}
	return nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}
