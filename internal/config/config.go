package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Storage  StorageConfig
	Download DownloadConfig
	Stats    StatsConfig
	Sweeper  SweeperConfig
	Log      LogConfig
}

type ServerConfig struct {
	Host string
	Port int
	Env  string
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxConns        int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type StorageConfig struct {
	BasePath string
}

type DownloadConfig struct {
	Concurrency int
	MaxRetries  int
	TileTimeout time.Duration
	BackoffBase time.Duration
	BackoffCap  time.Duration
	UserAgent   string
}

type StatsConfig struct {
	CacheTTL time.Duration
}

type SweeperConfig struct {
	Enabled  bool
	Interval time.Duration
}

type LogConfig struct {
	Level string
}

func Load() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: viper.GetString("API_HOST"),
			Port: viper.GetInt("API_PORT"),
			Env:  viper.GetString("API_ENV"),
		},
		Database: DatabaseConfig{
			Host:            viper.GetString("DB_HOST"),
			Port:            viper.GetInt("DB_PORT"),
			User:            viper.GetString("DB_USER"),
			Password:        viper.GetString("DB_PASSWORD"),
			DBName:          viper.GetString("DB_NAME"),
			SSLMode:         viper.GetString("DB_SSLMODE"),
			MaxConns:        viper.GetInt("DB_MAX_CONNS"),
			MaxIdleConns:    viper.GetInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetime: time.Duration(viper.GetInt("DB_CONN_MAX_LIFETIME")) * time.Second,
			ConnMaxIdleTime: time.Duration(viper.GetInt("DB_CONN_MAX_IDLE_TIME")) * time.Second,
		},
		Redis: RedisConfig{
			Host:     viper.GetString("REDIS_HOST"),
			Port:     viper.GetInt("REDIS_PORT"),
			Password: viper.GetString("REDIS_PASSWORD"),
			DB:       viper.GetInt("REDIS_DB"),
		},
		Storage: StorageConfig{
			BasePath: viper.GetString("STORAGE_BASE_PATH"),
		},
		Download: DownloadConfig{
			Concurrency: viper.GetInt("DOWNLOAD_CONCURRENCY"),
			MaxRetries:  viper.GetInt("DOWNLOAD_MAX_RETRIES"),
			TileTimeout: time.Duration(viper.GetInt("DOWNLOAD_TILE_TIMEOUT")) * time.Second,
			BackoffBase: time.Duration(viper.GetInt("DOWNLOAD_BACKOFF_BASE_MS")) * time.Millisecond,
			BackoffCap:  time.Duration(viper.GetInt("DOWNLOAD_BACKOFF_CAP_MS")) * time.Millisecond,
			UserAgent:   viper.GetString("DOWNLOAD_USER_AGENT"),
		},
		Stats: StatsConfig{
			CacheTTL: time.Duration(viper.GetInt("STATS_CACHE_TTL")) * time.Second,
		},
		Sweeper: SweeperConfig{
			Enabled:  viper.GetBool("SWEEPER_ENABLED"),
			Interval: time.Duration(viper.GetInt("SWEEPER_INTERVAL")) * time.Second,
		},
		Log: LogConfig{
			Level: viper.GetString("LOG_LEVEL"),
		},
	}

	// Set default values if not provided
	if cfg.Storage.BasePath == "" {
		cfg.Storage.BasePath = "./tile-cache"
	}
	if cfg.Download.Concurrency == 0 {
		cfg.Download.Concurrency = 4
	}
	if cfg.Download.MaxRetries == 0 {
		cfg.Download.MaxRetries = 3
	}
	if cfg.Download.TileTimeout == 0 {
		cfg.Download.TileTimeout = 15 * time.Second
	}
	if cfg.Download.BackoffBase == 0 {
		cfg.Download.BackoffBase = 500 * time.Millisecond
	}
	if cfg.Download.BackoffCap == 0 {
		cfg.Download.BackoffCap = 30 * time.Second
	}
	if cfg.Download.UserAgent == "" {
		cfg.Download.UserAgent = "tilecache-microservice/1.0"
	}
	if cfg.Stats.CacheTTL == 0 {
		cfg.Stats.CacheTTL = 60 * time.Second
	}
	if cfg.Sweeper.Interval == 0 {
		cfg.Sweeper.Interval = 10 * time.Minute
	}

	return cfg, nil
}

func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) GetDatabaseDSN() string {
	return c.Database.DSN()
}

// DSN renders the keyword/value connection string for the pgx stdlib driver.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// SessionDefaults maps the download config onto per-session tuning.
func (c *Config) SessionDefaults() (concurrency, maxRetries int, tileTimeout, backoffBase, backoffCap time.Duration) {
	return c.Download.Concurrency, c.Download.MaxRetries, c.Download.TileTimeout, c.Download.BackoffBase, c.Download.BackoffCap
}
