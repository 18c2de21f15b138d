package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/viper"
)

// Config holds every setting of the chat client process.
type Config struct {
	Env      string `mapstructure:"APP_ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`
	Port     string `mapstructure:"PORT"`

	// Session supplied by the auth collaborator
	UserID    int    `mapstructure:"CHAT_USER_ID"`
	AuthToken string `mapstructure:"CHAT_AUTH_TOKEN"`

	APIURL string `mapstructure:"API_URL"`
	WSURL  string `mapstructure:"WS_URL"`

	// Direct history source; empty means REST
	HistoryDBDSN string `mapstructure:"HISTORY_DB_DSN"`

	ListPollInterval    time.Duration `mapstructure:"LIST_POLL_INTERVAL"`
	HistoryPollInterval time.Duration `mapstructure:"HISTORY_POLL_INTERVAL"`
	MatchWindow         time.Duration `mapstructure:"MATCH_WINDOW"`
	HTTPTimeout         time.Duration `mapstructure:"HTTP_TIMEOUT"`

	BridgeToken string `mapstructure:"BRIDGE_TOKEN"`
	DebugRoutes bool   `mapstructure:"DEBUG_ROUTES"`

	AMQPURL      string `mapstructure:"AMQP_URL"`
	AMQPExchange string `mapstructure:"AMQP_EXCHANGE"`
	OTLPEndpoint string `mapstructure:"OTLP_ENDPOINT"`

	// Upload: "http" posts to API_URL, "s3" writes to an S3/R2 bucket
	UploadBackend     string `mapstructure:"UPLOAD_BACKEND"`
	R2AccountID       string `mapstructure:"R2_ACCOUNT_ID"`
	R2AccessKeyID     string `mapstructure:"R2_ACCESS_KEY_ID"`
	R2SecretAccessKey string `mapstructure:"R2_SECRET_ACCESS_KEY"`
	R2BucketName      string `mapstructure:"R2_BUCKET_NAME"`
	R2PublicURL       string `mapstructure:"R2_PUBLIC_URL"`
}

var defaults = map[string]any{
	"APP_ENV":               "development",
	"LOG_LEVEL":             "info",
	"PORT":                  "8090",
	"CHAT_USER_ID":          0,
	"CHAT_AUTH_TOKEN":       "",
	"API_URL":               "http://localhost:8000",
	"WS_URL":                "ws://localhost:8000/chat/ws",
	"HISTORY_DB_DSN":        "",
	"LIST_POLL_INTERVAL":    time.Second,
	"HISTORY_POLL_INTERVAL": time.Second,
	"MATCH_WINDOW":          10 * time.Second,
	"HTTP_TIMEOUT":          10 * time.Second,
	"BRIDGE_TOKEN":          "",
	"DEBUG_ROUTES":          false,
	"AMQP_URL":              "",
	"AMQP_EXCHANGE":         "chat.events",
	"OTLP_ENDPOINT":         "",
	"UPLOAD_BACKEND":        "http",
	"R2_ACCOUNT_ID":         "",
	"R2_ACCESS_KEY_ID":      "",
	"R2_SECRET_ACCESS_KEY":  "",
	"R2_BUCKET_NAME":        "",
	"R2_PUBLIC_URL":         "",
}

// Load reads an optional env file and the process environment.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.ListPollInterval <= 0 || c.HistoryPollInterval <= 0 {
		return fmt.Errorf("poll intervals must be positive")
	}
	if c.MatchWindow < 0 {
		return fmt.Errorf("match window must not be negative")
	}
	switch c.UploadBackend {
	case "http", "s3":
	default:
		return fmt.Errorf("unknown upload backend %q", c.UploadBackend)
	}
	return nil
}
