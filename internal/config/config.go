// Package config resolves cadlog settings from the environment.
//
// Values come from, in increasing precedence: built-in defaults, a .env file
// in the working directory, process environment variables, and finally the
// command-line flags applied by the CLI.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Backend names a shared store implementation.
type Backend string

const (
	BackendSQLite     Backend = "sqlite"
	BackendGormSQLite Backend = "gorm-sqlite"
	BackendPostgres   Backend = "postgres"
	BackendRedis      Backend = "redis"
)

// Backends lists every accepted backend.
var Backends = []Backend{BackendSQLite, BackendGormSQLite, BackendPostgres, BackendRedis}

// Environment variable names.
const (
	EnvStore     = "CADLOG_STORE"
	EnvDB        = "CADLOG_DB"
	EnvDSN       = "CADLOG_DSN"
	EnvRedisAddr = "CADLOG_REDIS_ADDR"
	EnvJob       = "CADLOG_JOB"
	EnvUser      = "CADLOG_USER"
	EnvUserName  = "CADLOG_USER_NAME"
	EnvLogLevel  = "CADLOG_LOG_LEVEL"
)

// Defaults.
const (
	DefaultDB        = "./cadlog.db"
	DefaultRedisAddr = "localhost:6379"
	DefaultJob       = "default"
)

// Config holds resolved settings.
type Config struct {
	Store     Backend
	DB        string // sqlite path, used by sqlite and gorm-sqlite
	DSN       string // postgres connection string
	RedisAddr string
	Job       string
	User      string
	UserName  string
	LogLevel  slog.Level
}

// Load reads .env from the working directory if present, then the process
// environment.
func Load() (Config, error) {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit dotenv path. A missing file is not an
// error. Variables already set in the environment win over the file.
func LoadFile(path string) (Config, error) {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", path, err)
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from a variable lookup function. The result is
// not validated: apply overrides first, then call Validate.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	get := func(key, def string) string {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return def
	}

	cfg := Config{
		Store:     Backend(get(EnvStore, string(BackendSQLite))),
		DB:        get(EnvDB, DefaultDB),
		DSN:       get(EnvDSN, ""),
		RedisAddr: get(EnvRedisAddr, DefaultRedisAddr),
		Job:       get(EnvJob, DefaultJob),
		User:      get(EnvUser, currentUser(lookup)),
		UserName:  get(EnvUserName, ""),
	}

	level, err := ParseLevel(get(EnvLogLevel, "warn"))
	if err != nil {
		return Config{}, err
	}
	cfg.LogLevel = level
	return cfg, nil
}

func currentUser(lookup func(string) (string, bool)) string {
	if u, ok := lookup("USER"); ok && u != "" {
		return u
	}
	return "anonymous"
}

// Validate checks that the selected backend has what it needs.
func (c Config) Validate() error {
	switch c.Store {
	case BackendSQLite, BackendGormSQLite:
		if c.DB == "" {
			return fmt.Errorf("%s store requires a database path (%s)", c.Store, EnvDB)
		}
	case BackendPostgres:
		if c.DSN == "" {
			return fmt.Errorf("postgres store requires a DSN (%s)", EnvDSN)
		}
	case BackendRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("redis store requires an address (%s)", EnvRedisAddr)
		}
	default:
		return fmt.Errorf("unknown store %q (valid: %s)", c.Store, joinBackends())
	}
	if c.Job == "" {
		return errors.New("job must not be empty")
	}
	if c.User == "" {
		return errors.New("user must not be empty")
	}
	return nil
}

// DisplayName is UserName, falling back to User.
func (c Config) DisplayName() string {
	if c.UserName != "" {
		return c.UserName
	}
	return c.User
}

// ParseLevel accepts debug, info, warn and error.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

func joinBackends() string {
	names := make([]string, len(Backends))
	for i, b := range Backends {
		names[i] = string(b)
	}
	return strings.Join(names, ", ")
}
