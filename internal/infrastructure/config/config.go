package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

const (
	PlatformWhatsApp = "whatsapp"
	PlatformTelegram = "telegram"

	SessionMemory = "memory"
	SessionRedis  = "redis"
)

type Config struct {
	Port     string `env:"PORT,      default=8080"`
	Env      string `env:"ENV,       default=development"`
	LogLevel string `env:"LOG_LEVEL, default=info"`
	LogFile  string `env:"LOG_FILE"`
	Platform string `env:"PLATFORM,  default=whatsapp"`

	// AppSecret signs every webhook body (X-Hub-Signature-256).
	AppSecret   string `env:"APP_SECRET"`
	VerifyToken string `env:"VERIFY_TOKEN"`

	Operator   OperatorConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Mongo      MongoConfig
	WhatsApp   WhatsAppConfig
	Telegram   TelegramConfig
	Flow       FlowConfig
	Dispatch   DispatchConfig
	Notify     NotifyConfig
	Serializer SerializerConfig
}

type OperatorConfig struct {
	ID       string `env:"OPERATOR_ID"`
	Password string `env:"OPERATOR_PASSWORD"`
	// SessionBackend is memory (lost on restart) or redis.
	SessionBackend string `env:"SESSION_BACKEND, default=memory"`
}

type DatabaseConfig struct {
	Driver string `env:"DB_DRIVER, default=sqlite"`
	DSN    string `env:"DB_DSN,    default=file:leadline.db?_busy_timeout=5000"`
}

type RedisConfig struct {
	// Addr is host:port or a redis:// URL.
	Addr     string `env:"REDIS_ADDR"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB,   default=0"`
}

type MongoConfig struct {
	URI      string `env:"MONGO_URI"`
	Database string `env:"MONGO_DB,  default=leadline"`
}

type WhatsAppConfig struct {
	Token         string `env:"WA_TOKEN"`
	PhoneNumberID string `env:"WA_PHONE_NUMBER_ID"`
	APIBase       string `env:"WA_API_BASE, default=https://graph.facebook.com/v21.0"`
}

type TelegramConfig struct {
	BotToken string `env:"TELEGRAM_BOT_TOKEN"`
	APIBase  string `env:"TELEGRAM_API_ENDPOINT, default=https://api.telegram.org/bot%s/%s"`
}

type FlowConfig struct {
	ID             string        `env:"FLOW_ID"`
	EntryScreen    string        `env:"FLOW_ENTRY_SCREEN, default=BUDGET"`
	PrivateKey     string        `env:"FLOW_PRIVATE_KEY"`
	PrivateKeyFile string        `env:"FLOW_PRIVATE_KEY_FILE"`
	KDF            string        `env:"FLOW_KDF,          default=raw"`
	TokenSecret    string        `env:"FLOW_TOKEN_SECRET"`
	TokenTTL       time.Duration `env:"FLOW_TOKEN_TTL,    default=24h"`
}

type DispatchConfig struct {
	Timeout time.Duration `env:"DISPATCH_TIMEOUT, default=10s"`
}

type NotifyConfig struct {
	SlackToken     string `env:"SLACK_TOKEN"`
	SlackChannel   string `env:"SLACK_CHANNEL"`
	DiscordToken   string `env:"DISCORD_TOKEN"`
	DiscordChannel string `env:"DISCORD_CHANNEL"`
}

type SerializerConfig struct {
	Workers int `env:"SERIALIZER_WORKERS, default=8"`
}

// Load reads an optional .env file and then the process environment.
func Load(ctx context.Context) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return LoadWith(ctx, envconfig.OsLookuper())
}

// LoadWith reads configuration from l using go-envconfig and validates it.
func LoadWith(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: l}); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}
	cfg.Platform = strings.ToLower(cfg.Platform)
	cfg.Operator.SessionBackend = strings.ToLower(cfg.Operator.SessionBackend)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDatabase reads only the database settings, for commands that do not
// talk to the messaging platform.
func LoadDatabase(ctx context.Context, l envconfig.Lookuper) (DatabaseConfig, error) {
	var cfg DatabaseConfig
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: l}); err != nil {
		return DatabaseConfig{}, fmt.Errorf("process env: %w", err)
	}
	return cfg, nil
}

// Validate checks the settings the webhook cannot run without.
func (c *Config) Validate() error {
	var errs []error
	switch c.Platform {
	case PlatformWhatsApp:
		if c.WhatsApp.Token == "" || c.WhatsApp.PhoneNumberID == "" {
			errs = append(errs, errors.New("WA_TOKEN and WA_PHONE_NUMBER_ID are required for whatsapp"))
		}
	case PlatformTelegram:
		if c.Telegram.BotToken == "" {
			errs = append(errs, errors.New("TELEGRAM_BOT_TOKEN is required for telegram"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown PLATFORM %q", c.Platform))
	}
	if c.AppSecret == "" {
		errs = append(errs, errors.New("APP_SECRET is required"))
	}
	if c.Operator.ID == "" {
		errs = append(errs, errors.New("OPERATOR_ID is required"))
	}
	if c.Operator.Password == "" {
		errs = append(errs, errors.New("OPERATOR_PASSWORD is required"))
	}
	switch c.Operator.SessionBackend {
	case SessionMemory:
	case SessionRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required for SESSION_BACKEND=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown SESSION_BACKEND %q", c.Operator.SessionBackend))
	}
	if c.Flow.ID != "" && c.Flow.TokenSecret == "" {
		errs = append(errs, errors.New("FLOW_TOKEN_SECRET is required when FLOW_ID is set"))
	}
	if c.Dispatch.Timeout <= 0 {
		errs = append(errs, errors.New("DISPATCH_TIMEOUT must be positive"))
	}
	return errors.Join(errs...)
}

// FlowEnabled reports whether the encrypted form endpoint has key material.
func (c *Config) FlowEnabled() bool {
	return c.Flow.PrivateKey != "" || c.Flow.PrivateKeyFile != ""
}

// FlowPrivateKey returns the configured key material, reading the file when set.
func (c *Config) FlowPrivateKey() (string, error) {
	if c.Flow.PrivateKey != "" {
		return c.Flow.PrivateKey, nil
	}
	b, err := os.ReadFile(c.Flow.PrivateKeyFile)
	if err != nil {
		return "", fmt.Errorf("read flow private key: %w", err)
	}
	return string(b), nil
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}
