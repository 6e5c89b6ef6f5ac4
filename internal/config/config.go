package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	AppPort  string `env:"APP_PORT" envDefault:"3000" validate:"required"`
	AppEnv   string `env:"APP_ENV" envDefault:"development" validate:"required,oneof=local development staging production"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`

	// StoreBackend selects DynamoDB or the in-process store. The memory
	// backend runs the stream dispatcher inside the API process.
	StoreBackend string `env:"STORE_BACKEND" envDefault:"dynamo" validate:"oneof=dynamo memory"`

	AWSRegion      string `env:"AWS_REGION" envDefault:"us-east-1"`
	AWSEndpointURL string `env:"AWS_ENDPOINT_URL"` // empty in prod, set to LocalStack URL in dev
	AWSAccessKeyID string `env:"AWS_ACCESS_KEY_ID"`
	AWSSecretKey   string `env:"AWS_SECRET_ACCESS_KEY"`

	DynamoTables DynamoTables

	Stream StreamConfig

	SigningSecret      string        `env:"SIGNING_SECRET,required" validate:"required,min=32"`
	LinkBaseURL        string        `env:"LINK_BASE_URL" envDefault:"http://localhost:3000" validate:"required,url"`
	ConfirmRedirectURL string        `env:"CONFIRM_REDIRECT_URL" validate:"omitempty,url"`
	DefaultTTL         time.Duration `env:"CONFIRMATION_DEFAULT_TTL" envDefault:"1h" validate:"gt=0"`

	Mailer MailerConfig

	CallbackTimeout  time.Duration `env:"CALLBACK_TIMEOUT" envDefault:"10s" validate:"gt=0"`
	CallbackTokenTTL time.Duration `env:"CALLBACK_TOKEN_TTL" envDefault:"5m" validate:"gt=0"`

	DeadLetterTopicARN string `env:"DEADLETTER_TOPIC_ARN"`
	DeadLetterBucket   string `env:"DEADLETTER_BUCKET"`

	ExpirySweepInterval time.Duration `env:"EXPIRY_SWEEP_INTERVAL" envDefault:"1m" validate:"gt=0"`

	MetricsPort    string   `env:"METRICS_PORT" envDefault:"9090"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envDefault:"*" envSeparator:","` // CORS allowed origins
}

// DynamoTables holds the DynamoDB table name for each entity.
type DynamoTables struct {
	Confirmations string `env:"DYNAMO_TABLE_CONFIRMATIONS" envDefault:"confirmation_requests" validate:"required"`
	Checkpoints   string `env:"DYNAMO_TABLE_STREAM_CHECKPOINTS" envDefault:"stream_checkpoints" validate:"required"`
}

// StreamConfig tunes change-feed consumption.
type StreamConfig struct {
	BatchSize     int           `env:"STREAM_BATCH_SIZE" envDefault:"5" validate:"min=1,max=1000"`
	PollInterval  time.Duration `env:"STREAM_POLL_INTERVAL" envDefault:"1s" validate:"gt=0"`
	MaxAttempts   int           `env:"STREAM_MAX_ATTEMPTS" envDefault:"10" validate:"min=1,max=100"`
	RetryDelay    time.Duration `env:"STREAM_RETRY_DELAY" envDefault:"200ms" validate:"gte=0"`
	MaxRetryDelay time.Duration `env:"STREAM_MAX_RETRY_DELAY" envDefault:"5s" validate:"gte=0"`
	// StartPosition is used for shards without a checkpoint.
	StartPosition string `env:"STREAM_START_POSITION" envDefault:"TRIM_HORIZON" validate:"oneof=TRIM_HORIZON LATEST"`
}

// MailerConfig selects and configures the outbound mail transport.
type MailerConfig struct {
	Kind         string `env:"MAILER" envDefault:"smtp" validate:"oneof=smtp resend log"`
	From         string `env:"MAIL_FROM" envDefault:"noreply@example.com" validate:"required"`
	SMTPHost     string `env:"SMTP_HOST" envDefault:"localhost"`
	SMTPPort     string `env:"SMTP_PORT" envDefault:"1025"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	ResendAPIKey string `env:"RESEND_API_KEY" validate:"required_if=Kind resend"`
}

// Load reads all configuration from environment variables and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SlogLevel maps LogLevel onto a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// IsLocal reports whether the process runs on a developer machine.
func (c *Config) IsLocal() bool {
	return c.AppEnv == "local"
}
