package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/roach88/cadlog/internal/ir"
	"github.com/roach88/cadlog/internal/kinds"
	"github.com/roach88/cadlog/internal/session"
)

// QueryOptions holds flags shared by the read-only commands.
type QueryOptions struct {
	*RootOptions
	TargetOp string
	From     int64
	Live     bool
}

// NewPredecessorsCommand creates the predecessors command.
func NewPredecessorsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "predecessors [feature-id]",
		Short: "List the operations a feature depends on",
		Long: `List the live operations a feature (or, with --target-op, an operation)
depends on, itself included, oldest first. Any of them can be revised with
"cadlog recall --op".`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := targetFrom(args, opts.TargetOp)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid target", err)
			}
			return opts.withSession(cmd, func(_ context.Context, s *session.Session, out *OutputFormatter) error {
				ops, err := s.Predecessors(target)
				if err != nil {
					return out.Report(nil, err)
				}
				return out.Success(opsView(ops))
			})
		},
	}

	cmd.Flags().StringVar(&opts.TargetOp, "target-op", "", "target an operation instead of a feature")
	return cmd
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List the operation log",
		Long: `List the job's operation log as seen by your session: published
operations followed by your unpublished ones, in sequence order. Superseded
and rolled back operations are included unless --live is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSession(cmd, func(_ context.Context, s *session.Session, out *OutputFormatter) error {
				ops := opsView{}
				for op := range s.History(opts.From) {
					if opts.Live && !op.Status.Live() {
						continue
					}
					ops = append(ops, op)
				}
				return out.Success(ops)
			})
		},
	}

	cmd.Flags().Int64Var(&opts.From, "from", 0, "first sequence number to list")
	cmd.Flags().BoolVar(&opts.Live, "live", false, "only operations that still contribute features")
	return cmd
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	return &cobra.Command{
		Use:   "status",
		Short: "Show the session and the job's revisions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSession(cmd, func(ctx context.Context, s *session.Session, out *OutputFormatter) error {
				revisions, err := s.Revisions(ctx)
				if err != nil {
					return out.Report(nil, err)
				}
				if revisions == nil {
					revisions = []ir.RevisionRecord{}
				}
				return out.Success(statusView{
					Job:       s.Job(),
					User:      s.User(),
					Features:  s.Features().Len(),
					Published: s.Ledger().LastPublishedRevision(),
					Revisions: revisions,
				})
			})
		},
	}
}

// NewKindsCommand creates the kinds command.
func NewKindsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "kinds",
		Short: "List the operation kinds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := kinds.NewCatalog()
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load kind catalog", err)
			}
			view := kindsView{}
			for _, name := range catalog.Names() {
				k, err := catalog.Lookup(name)
				if err != nil {
					return err
				}
				inputs := k.Inputs
				if inputs == nil {
					inputs = []string{}
				}
				view = append(view, kindView{Name: k.Name, Inputs: inputs})
			}
			return rootOpts.formatter(cmd).Success(view)
		},
	}
}
