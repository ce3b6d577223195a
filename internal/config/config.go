package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server   ServerConfig
	DB       DatabaseConfig
	Presence PresenceConfig
	Alerts   AlertConfig
	Stream   StreamConfig
	Telegram TelegramConfig
	ML       MLConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type DatabaseConfig struct {
	Path string
}

type PresenceConfig struct {
	Window time.Duration
}

type AlertConfig struct {
	Window          time.Duration
	Threshold       int
	DispatchWorkers int
	DispatchBuffer  int
	DispatchTimeout time.Duration
	HistoryLimit    int
}

type StreamConfig struct {
	BufferSize        int
	KeepAliveInterval time.Duration
}

type TelegramConfig struct {
	APIBase  string
	BotToken string
}

type MLConfig struct {
	Python  string
	Script  string
	Timeout time.Duration
}

type LoggingConfig struct {
	Level string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "localhost"),
			Port: getEnvInt("SERVER_PORT", 8080),
		},
		DB: DatabaseConfig{
			Path: getEnv("DB_PATH", "./data/caresync.db"),
		},
		Presence: PresenceConfig{
			Window: getEnvDuration("PRESENCE_WINDOW", 5*time.Minute),
		},
		Alerts: AlertConfig{
			Window:          getEnvDuration("ALERT_WINDOW", time.Minute),
			Threshold:       getEnvInt("ALERT_THRESHOLD", 3),
			DispatchWorkers: getEnvInt("ALERT_DISPATCH_WORKERS", 1),
			DispatchBuffer:  getEnvInt("ALERT_DISPATCH_BUFFER", 16),
			DispatchTimeout: getEnvDuration("ALERT_DISPATCH_TIMEOUT", 30*time.Second),
			HistoryLimit:    getEnvInt("ALERT_HISTORY_LIMIT", 50),
		},
		Stream: StreamConfig{
			BufferSize:        getEnvInt("STREAM_BUFFER_SIZE", 64),
			KeepAliveInterval: getEnvDuration("STREAM_KEEPALIVE_INTERVAL", 30*time.Second),
		},
		Telegram: TelegramConfig{
			APIBase:  getEnv("TELEGRAM_API_BASE", "https://api.telegram.org"),
			BotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		},
		ML: MLConfig{
			Python:  getEnv("ML_PYTHON", "python3"),
			Script:  getEnv("ML_SCRIPT", "./ml_train.py"),
			Timeout: getEnvDuration("ML_TIMEOUT", 2*time.Minute),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Presence.Window <= 0 {
		return fmt.Errorf("presence window must be positive")
	}
	if c.Alerts.Window <= 0 {
		return fmt.Errorf("alert window must be positive")
	}
	if c.Alerts.Threshold < 1 {
		return fmt.Errorf("alert threshold must be at least 1")
	}
	if c.Stream.BufferSize < 1 {
		return fmt.Errorf("stream buffer size must be at least 1")
	}
	if c.Stream.KeepAliveInterval < time.Second {
		return fmt.Errorf("stream keep-alive interval must be at least 1 second")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}
