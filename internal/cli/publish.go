package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/roach88/cadlog/internal/session"
)

// NewUndoCommand creates the undo command.
func NewUndoCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "undo",
		Short: "Roll back your latest unpublished operation",
		Long: `Roll back the most recent unpublished operation that nothing else reads.
Undoing a recall reinstates the operation it replaced. Published operations
cannot be undone; revise them with recall instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withSession(cmd, func(ctx context.Context, s *session.Session, out *OutputFormatter) error {
				resp, err := s.Run(ctx, session.CmdUndo, session.Request{})
				if err != nil {
					return out.Report(nil, err)
				}
				return out.Success(undoView{Undone: resp.Undone})
			})
		},
	}
}

// NewPublishCommand creates the publish command.
func NewPublishCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "publish",
		Short: "Commit your unpublished operations as the job's next revision",
		Long: `Commit your unpublished operations as the job's next revision.

Publishing succeeds only if nobody published since your session last loaded
the job. Otherwise it exits with status 3; run "cadlog refresh" to rebase
your operations on the new revision and publish again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withSession(cmd, func(ctx context.Context, s *session.Session, out *OutputFormatter) error {
				resp, err := s.Run(ctx, session.CmdPublish, session.Request{})
				if err != nil {
					return out.Report(nil, err)
				}
				return out.Success(newPublishView(resp.Publish))
			})
		},
	}
}

// NewRefreshCommand creates the refresh command.
func NewRefreshCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Reload published operations and rebase your drafts",
		Long: `Reload the job's published operations and replay your unpublished ones
after them, in their original order. Operations that no longer apply are
marked inconsistent; recalls of operations someone else replaced are
discarded.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withSession(cmd, func(ctx context.Context, s *session.Session, out *OutputFormatter) error {
				resp, err := s.Run(ctx, session.CmdRefresh, session.Request{})
				if err != nil {
					return out.Report(nil, err)
				}
				return out.Success(newRefreshView(resp.Refresh))
			})
		},
	}
}
