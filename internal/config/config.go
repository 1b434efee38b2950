package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

var ErrUnknownStore = errors.New("unknown store backend")

type Config struct {
	LogLevel          string `yaml:"log-level" env:"TICTACTOE_LOG_LEVEL" env-default:"info"`
	HTTPPort          string `yaml:"http-port" env:"TICTACTOE_HTTP_PORT" env-default:"9090"`
	SocketPort        string `yaml:"socket-port" env:"TICTACTOE_SOCKET_PORT" env-default:"8080"`
	Store             string `yaml:"store" env:"TICTACTOE_STORE" env-default:"redis"`
	Redis             Redis  `yaml:"redis"`
	SQLiteStoragePath string `yaml:"sqlite-storage-path" env:"TICTACTOE_SQLITE_PATH" env-default:"./matches.db"`
}

type Redis struct {
	Host     string        `yaml:"host" env:"TICTACTOE_REDIS_HOST" env-default:"localhost"`
	Port     string        `yaml:"port" env:"TICTACTOE_REDIS_PORT" env-default:"6379"`
	MatchTTL time.Duration `yaml:"match-ttl" env:"TICTACTOE_REDIS_MATCH_TTL" env-default:"24h"`
}

// Load - reads the yaml file at path, overridden by environment variables.
func Load(path string) (*Config, error) {
	config := &Config{}

	if err := cleanenv.ReadConfig(path, config); err != nil {
		return nil, fmt.Errorf("unable to load config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// LoadEnv - builds the configuration from defaults and environment variables only.
func LoadEnv() (*Config, error) {
	config := &Config{}

	if err := cleanenv.ReadEnv(config); err != nil {
		return nil, fmt.Errorf("unable to read environment: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (that *Config) Validate() error {
	switch that.Store {
	case StoreRedis, StoreSQLite, StoreMemory:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStore, that.Store)
	}
}

func (that *Redis) GetRedisAddr() string {
	if that.Host == "" || that.Port == "" {
		return ""
	}

	return fmt.Sprintf("%s:%s", that.Host, that.Port)
}
