package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "PALCHAT"

// Config represents runtime configuration for the client and the scripted backend.
type Config struct {
	BasicConfig BasicConfig               `mapstructure:"basic_config"`
	Stream      StreamConfig              `mapstructure:"stream"`
	Databases   map[string]DatabaseConfig `mapstructure:"databases"`
	Redis       RedisConfig               `mapstructure:"redis"`
	Log         LogConfig                 `mapstructure:"log"`
}

type BasicConfig struct {
	// BaseURL is the agent backend the client talks to.
	BaseURL string `mapstructure:"base_url"`
	// UserID is handed to the identity collaborator; the core never reads it.
	UserID string `mapstructure:"user_id"`
	// ServerAddress is where serve-mock listens.
	ServerAddress string `mapstructure:"server_address"`
	Database      string `mapstructure:"database"`
}

type StreamConfig struct {
	InactivityTimeout time.Duration `mapstructure:"inactivity_timeout"`
	StatusMinDisplay  time.Duration `mapstructure:"status_min_display"`
}

type DatabaseConfig struct {
	DSN      string `mapstructure:"dsn"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"db_name"`
	Params   string `mapstructure:"params"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("basic_config.base_url", "http://127.0.0.1:8000")
	v.SetDefault("basic_config.server_address", ":8000")
	v.SetDefault("basic_config.database", "sqlite3")
	v.SetDefault("stream.inactivity_timeout", 30*time.Second)
	v.SetDefault("stream.status_min_display", 400*time.Millisecond)
	v.SetDefault("databases.sqlite3.dsn", "palchat.db")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration from the provided path. An empty path falls back to
// PALCHAT_CONFIG, then to a config.{yaml,json} in the working directory, then to
// defaults plus environment overrides.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv(envPrefix + "_CONFIG")
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	baseDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}
	if path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve config path: %w", err)
		}
		v.SetConfigFile(absPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", absPath, err)
		}
		baseDir = filepath.Dir(absPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(baseDir); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate(baseDir string) error {
	c.BasicConfig.BaseURL = strings.TrimRight(strings.TrimSpace(c.BasicConfig.BaseURL), "/")
	if c.BasicConfig.BaseURL == "" {
		return errors.New("basic_config.base_url must be configured")
	}
	if c.Stream.InactivityTimeout <= 0 {
		return errors.New("stream.inactivity_timeout must be positive")
	}
	// zero turns status pacing off
	if c.Stream.StatusMinDisplay < 0 {
		return errors.New("stream.status_min_display cannot be negative")
	}
	if sqliteCfg, ok := c.Databases["sqlite3"]; ok {
		dsn := sqliteCfg.DSN
		if dsn != "" && !strings.HasPrefix(dsn, "file:") && !filepath.IsAbs(dsn) {
			sqliteCfg.DSN = filepath.Join(baseDir, dsn)
			c.Databases["sqlite3"] = sqliteCfg
		}
	}
	return nil
}
