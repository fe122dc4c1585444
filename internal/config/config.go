// Package config loads server settings from defaults, an optional TOML file
// and the environment, in that order of precedence (environment wins).
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"golang.org/x/xerrors"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Duration is a time.Duration that decodes from strings like "10m"
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

type DB struct {
	URL      string `toml:"url"`
	Host     string `toml:"host"`
	Port     string `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Name     string `toml:"name"`
	SSLMode  string `toml:"sslmode"`
}

// DSN returns URL when set, otherwise a postgres:// URL built from the parts
func (d DB) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   d.Host + ":" + d.Port,
		Path:   "/" + d.Name,
	}
	if d.SSLMode != "" {
		u.RawQuery = "sslmode=" + url.QueryEscape(d.SSLMode)
	}
	return u.String()
}

type Redis struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

type Config struct {
	Port      string `toml:"port"`
	Storage   string `toml:"storage"`
	LogLevel  string `toml:"log_level"`
	JWTSecret string `toml:"jwt_secret"`
	// Alerts enqueues listing events on Redis; without it notifications are
	// written in-process.
	Alerts             bool     `toml:"alerts"`
	WorkerConcurrency  int      `toml:"worker_concurrency"`
	RevealDuration     Duration `toml:"reveal_duration"`
	MaxAuctionDuration Duration `toml:"max_auction_duration"`
	EventLogSize       int      `toml:"event_log_size"`
	DB                 DB       `toml:"db"`
	Redis              Redis    `toml:"redis"`
}

// Default returns the settings used when nothing overrides them
func Default() Config {
	return Config{
		Port:               "8080",
		Storage:            StorageMemory,
		LogLevel:           "info",
		WorkerConcurrency:  5,
		RevealDuration:     Duration{10 * time.Minute},
		MaxAuctionDuration: Duration{30 * 24 * time.Hour},
		EventLogSize:       10000,
		DB: DB{
			Host:    "localhost",
			Port:    "5432",
			SSLMode: "disable",
		},
		Redis: Redis{Addr: "127.0.0.1:6379"},
	}
}

// Load reads .env when present, then CONFIG_FILE, then the environment
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, xerrors.Errorf("load .env: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config using getenv for every lookup
func FromEnv(getenv func(string) string) (Config, error) {
	cfg := Default()

	if path := getenv("CONFIG_FILE"); path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, xerrors.Errorf("decode %s: %w", path, err)
		}
	}

	str := func(name string, dst *string) {
		if v := getenv(name); v != "" {
			*dst = v
		}
	}
	str("PORT", &cfg.Port)
	str("STORAGE", &cfg.Storage)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("JWT_SECRET", &cfg.JWTSecret)
	str("DATABASE_URL", &cfg.DB.URL)
	str("DB_HOST", &cfg.DB.Host)
	str("DB_PORT", &cfg.DB.Port)
	str("DB_USER", &cfg.DB.User)
	str("DB_PASSWORD", &cfg.DB.Password)
	str("DB_NAME", &cfg.DB.Name)
	str("DB_SSLMODE", &cfg.DB.SSLMode)
	str("REDIS_PASSWORD", &cfg.Redis.Password)
	if v := getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	} else if host := getenv("REDIS_HOST"); host != "" {
		port := getenv("REDIS_PORT")
		if port == "" {
			port = "6379"
		}
		cfg.Redis.Addr = host + ":" + port
	}

	var err error
	parse := func(name string, fn func(string) error) {
		v := getenv(name)
		if v == "" || err != nil {
			return
		}
		if perr := fn(v); perr != nil {
			err = xerrors.Errorf("%s: %w", name, perr)
		}
	}
	parse("ALERTS_ENABLED", func(v string) (e error) { cfg.Alerts, e = strconv.ParseBool(v); return })
	parse("WORKER_CONCURRENCY", func(v string) (e error) { cfg.WorkerConcurrency, e = strconv.Atoi(v); return })
	parse("EVENT_LOG_SIZE", func(v string) (e error) { cfg.EventLogSize, e = strconv.Atoi(v); return })
	parse("REDIS_DB", func(v string) (e error) { cfg.Redis.DB, e = strconv.Atoi(v); return })
	parse("REVEAL_DURATION", cfg.RevealDuration.set)
	parse("MAX_AUCTION_DURATION", cfg.MaxAuctionDuration.set)
	if err != nil {
		return Config{}, err
	}

	return cfg, cfg.Validate()
}

func (d *Duration) set(v string) error { return d.UnmarshalText([]byte(v)) }

// Validate rejects settings the server cannot start with
func (c Config) Validate() error {
	switch c.Storage {
	case StorageMemory, StoragePostgres:
	default:
		return fmt.Errorf("unknown storage %q (want %s or %s)", c.Storage, StorageMemory, StoragePostgres)
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.RevealDuration.Duration <= 0 {
		return errors.New("reveal duration must be positive")
	}
	if c.MaxAuctionDuration.Duration < 0 {
		return errors.New("max auction duration must not be negative")
	}
	if c.Storage == StoragePostgres && c.DB.URL == "" && c.DB.Name == "" {
		return errors.New("postgres storage needs DATABASE_URL or DB_NAME")
	}
	return nil
}
