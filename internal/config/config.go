package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/dkeye/ChatRelay/internal/domain"
)

type MessageRate struct {
	Limit    int           `mapstructure:"limit"`
	Interval time.Duration `mapstructure:"interval"`
}

type Database struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
}

type Redis struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

type Config struct {
	Mode         string        `mapstructure:"mode"`
	Port         int           `mapstructure:"port"`
	StaticPath   string        `mapstructure:"static_path"`
	ReadLimit    int64         `mapstructure:"read_limit"`
	PingPeriod   time.Duration `mapstructure:"ping_period"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Secret       string        `mapstructure:"secret"`
	LogLevel     string        `mapstructure:"log_level"`

	RoomID            string      `mapstructure:"room_id"`
	BroadcastCapacity int         `mapstructure:"broadcast_capacity"`
	LagPolicy         string      `mapstructure:"lag_policy"`
	MaxMessageLength  int         `mapstructure:"max_message_length"`
	MessageRate       MessageRate `mapstructure:"message_rate"`

	Store    string   `mapstructure:"store"`
	Database Database `mapstructure:"database"`
	Redis    Redis    `mapstructure:"redis"`
}

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("write_timeout", "10s")
	v.SetDefault("secret", "change-me")
	v.SetDefault("log_level", "info")

	v.SetDefault("room_id", string(domain.DefaultRoomID))
	v.SetDefault("broadcast_capacity", 100)
	v.SetDefault("lag_policy", "disconnect")
	v.SetDefault("max_message_length", 4096)
	v.SetDefault("message_rate.limit", 0)
	v.SetDefault("message_rate.interval", "1s")

	v.SetDefault("store", StoreMemory)
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.token_ttl", "10m")
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	v.SetConfigName("config." + env)
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		log.Warn().Str("module", "config").Str("env", env).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", v.ConfigFileUsed()).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).
		Str("static", cfg.StaticPath).Str("store", cfg.Store).Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Mode {
	case "debug", "release", "test":
	default:
		errs = append(errs, fmt.Errorf("mode: unknown %q", c.Mode))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port: %d out of range", c.Port))
	}
	if c.ReadLimit <= 0 {
		errs = append(errs, errors.New("read_limit: must be positive"))
	}
	if c.PingPeriod < 0 || c.WriteTimeout < 0 {
		errs = append(errs, errors.New("ping_period, write_timeout: must not be negative"))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if _, err := uuid.Parse(c.RoomID); err != nil {
		errs = append(errs, fmt.Errorf("room_id: %w", err))
	}
	if c.BroadcastCapacity <= 0 {
		errs = append(errs, errors.New("broadcast_capacity: must be positive"))
	}
	switch c.LagPolicy {
	case "disconnect", "resync":
	default:
		errs = append(errs, fmt.Errorf("lag_policy: unknown %q", c.LagPolicy))
	}
	if c.MaxMessageLength <= 0 {
		errs = append(errs, errors.New("max_message_length: must be positive"))
	}
	if c.MessageRate.Limit < 0 || (c.MessageRate.Limit > 0 && c.MessageRate.Interval <= 0) {
		errs = append(errs, errors.New("message_rate: limit must be >= 0 with a positive interval"))
	}
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("database.url: required for postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("store: unknown %q", c.Store))
	}
	if c.Redis.Addr != "" && c.Redis.TokenTTL <= 0 {
		errs = append(errs, errors.New("redis.token_ttl: must be positive"))
	}
	return errors.Join(errs...)
}
