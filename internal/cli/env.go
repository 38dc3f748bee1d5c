package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	gormlogger "gorm.io/gorm/logger"

	"github.com/roach88/cadlog/internal/config"
	"github.com/roach88/cadlog/internal/engine"
	"github.com/roach88/cadlog/internal/gormstore"
	"github.com/roach88/cadlog/internal/harness"
	"github.com/roach88/cadlog/internal/ir"
	"github.com/roach88/cadlog/internal/redisstore"
	"github.com/roach88/cadlog/internal/session"
	"github.com/roach88/cadlog/internal/store"
)

// backend is a shared store that also keeps drafts.
type backend interface {
	harness.Store
	Close() error
}

// env is what a command runs with once configuration is resolved.
type env struct {
	cfg    config.Config
	logger *slog.Logger
	out    *OutputFormatter
	store  backend
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	cmd := NewRootCommand()
	if err := cmd.Execute(); err != nil {
		var exitErr *ExitError
		if !errors.As(err, &exitErr) || !exitErr.Reported {
			fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
		}
		return GetExitCode(err)
	}
	return ExitSuccess
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// resolveConfig layers flags given on the command line over the
// environment and the dotenv file.
func (o *RootOptions) resolveConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.LoadFile(o.EnvFile)
	if err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	override := func(name string, dst *string, v string) {
		if flags.Changed(name) {
			*dst = v
		}
	}
	if flags.Changed("store") {
		cfg.Store = config.Backend(o.Store)
	}
	override("db", &cfg.DB, o.DB)
	override("dsn", &cfg.DSN, o.DSN)
	override("redis", &cfg.RedisAddr, o.Redis)
	override("job", &cfg.Job, o.Job)
	override("user", &cfg.User, o.User)
	override("user-name", &cfg.UserName, o.UserName)
	if o.Verbose {
		cfg.LogLevel = slog.LevelDebug
	}

	return cfg, cfg.Validate()
}

func openBackend(ctx context.Context, cfg config.Config) (backend, error) {
	gormLevel := gormlogger.Silent
	if cfg.LogLevel <= slog.LevelDebug {
		gormLevel = gormlogger.Info
	}

	switch cfg.Store {
	case config.BackendSQLite:
		return store.Open(cfg.DB)
	case config.BackendGormSQLite:
		return gormstore.OpenSQLite(cfg.DB, gormstore.WithLogLevel(gormLevel))
	case config.BackendPostgres:
		return gormstore.OpenPostgres(cfg.DSN, gormstore.WithLogLevel(gormLevel))
	case config.BackendRedis:
		return redisstore.Dial(ctx, cfg.RedisAddr)
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

// withStore resolves configuration, opens the shared store and runs fn
// with a context cancelled on SIGINT or SIGTERM.
func (o *RootOptions) withStore(cmd *cobra.Command, fn func(context.Context, *env) error) error {
	out := o.formatter(cmd)
	cfg, err := o.resolveConfig(cmd)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: cfg.LogLevel}))

	ctx, stop := signalContext(cmd.Context(), logger)
	defer stop()

	logger.Debug("opening store", "store", cfg.Store, "job", cfg.Job)
	st, err := openBackend(ctx, cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing store", "error", closeErr)
		}
	}()

	return fn(ctx, &env{cfg: cfg, logger: logger, out: out, store: st})
}

// withSession is withStore plus the user's session on the configured job.
func (o *RootOptions) withSession(cmd *cobra.Command, fn func(context.Context, *session.Session, *OutputFormatter) error) error {
	return o.withStore(cmd, func(ctx context.Context, e *env) error {
		ids := o.IDs
		if ids == nil {
			ids = engine.UUIDv7Generator{}
		}
		opts := []session.Option{
			session.WithLogger(e.logger),
			session.WithIDs(ids),
		}
		if o.Now != nil {
			opts = append(opts, session.WithClock(o.Now))
		}

		user := ir.User{ID: e.cfg.User, Name: e.cfg.DisplayName()}
		s, err := session.Open(ctx, e.store, e.store, e.cfg.Job, user, opts...)
		if err != nil {
			return e.out.Report(nil, err)
		}
		return fn(ctx, s, e.out)
	})
}

// signalContext returns a context cancelled when the process receives
// SIGINT or SIGTERM.
func signalContext(parent context.Context, logger *slog.Logger) (context.Context, func()) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}
