package cli

import (
	"fmt"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/cadlog/internal/config"
	"github.com/roach88/cadlog/internal/engine"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	EnvFile  string
	Store    string
	DB       string
	DSN      string
	Redis    string
	Job      string
	User     string
	UserName string

	// IDs overrides the id generator (for testing). If nil, UUIDv7 ids are used.
	IDs engine.IDGenerator

	// Now overrides the publish clock (for testing).
	Now func() time.Time
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the cadlog CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cadlog",
		Short: "cadlog - collaborative parametric editing history",
		Long: `cadlog keeps the ordered log of editing operations for a job.

Edits append operations; recall revises an earlier operation and recomputes
everything derived from it. Each user works in a local session whose
unpublished operations are kept as drafts until publish commits them as the
job's next revision.

Settings come from flags, CADLOG_* environment variables, or a .env file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	// Global flags
	pf := cmd.PersistentFlags()
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	pf.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	pf.StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file to read settings from")
	pf.StringVar(&opts.Store, "store", string(config.BackendSQLite), "shared store backend (sqlite|gorm-sqlite|postgres|redis)")
	pf.StringVar(&opts.DB, "db", config.DefaultDB, "path to SQLite database")
	pf.StringVar(&opts.DSN, "dsn", "", "postgres connection string")
	pf.StringVar(&opts.Redis, "redis", config.DefaultRedisAddr, "redis address")
	pf.StringVar(&opts.Job, "job", config.DefaultJob, "job id")
	pf.StringVarP(&opts.User, "user", "u", "", "user id (default $CADLOG_USER or $USER)")
	pf.StringVar(&opts.UserName, "user-name", "", "display name")

	cmd.AddCommand(NewEditCommand(opts))
	cmd.AddCommand(NewRecallCommand(opts))
	cmd.AddCommand(NewPredecessorsCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewUndoCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewPublishCommand(opts))
	cmd.AddCommand(NewRefreshCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewKindsCommand(opts))
	cmd.AddCommand(NewScenarioCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
