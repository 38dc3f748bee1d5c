package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/cadlog/internal/ir"
	"github.com/roach88/cadlog/internal/session"
)

// EditOptions holds flags for the edit command.
type EditOptions struct {
	*RootOptions
	Inputs     []string
	Params     []string
	ParamsJSON string
}

// NewEditCommand creates the edit command.
func NewEditCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EditOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "edit <kind>",
		Short: "Append a new operation",
		Long: `Append a new operation of the given kind to your session.

Coordinates are integer millimetres. The edit is checked against the kind's
schema and evaluated before anything is written; a refused edit leaves the
session unchanged. Run "cadlog kinds" for the catalog.

Examples:
  cadlog edit new_point -p x=0 -p y=0
  cadlog edit new_line -i <point-a> -i <point-b>
  cadlog edit subdivide_line -i <line> --params '{"parts":4}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEdit(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringArrayVarP(&opts.Inputs, "input", "i", nil, "input feature id (repeat in order)")
	cmd.Flags().StringArrayVarP(&opts.Params, "param", "p", nil, "parameter as key=value (repeatable)")
	cmd.Flags().StringVar(&opts.ParamsJSON, "params", "", "parameters as a JSON object")

	return cmd
}

func runEdit(opts *EditOptions, kind string, cmd *cobra.Command) error {
	params, err := parseParams(nil, opts.ParamsJSON, opts.Params)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid parameters", err)
	}

	return opts.withSession(cmd, func(ctx context.Context, s *session.Session, out *OutputFormatter) error {
		resp, err := s.Run(ctx, session.CmdEdit, session.Request{
			Kind:   kind,
			Inputs: toFeatureIDs(opts.Inputs),
			Params: params,
		})
		if err != nil {
			return out.Report(nil, err)
		}
		return out.Success(newEditView(resp.Edit))
	})
}

// RecallOptions holds flags for the recall command.
type RecallOptions struct {
	*RootOptions
	TargetOp          string
	Op                string
	Inputs            []string
	Params            []string
	ParamsJSON        string
	AcceptArityChange bool
}

// NewRecallCommand creates the recall command.
func NewRecallCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecallOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "recall [feature-id]",
		Short: "Revise an earlier operation and recompute what depends on it",
		Long: `Revise an earlier operation and recompute everything derived from it.

Point at a feature (or an operation with --target-op). By default the
operation that produced it is revised; --op picks any of its predecessors
(see "cadlog predecessors"). --param values are merged over the original
parameters; --params replaces them.

If a downstream operation can no longer be derived the recall still
commits: the affected operations are marked inconsistent and the command
exits with status 1.

Examples:
  cadlog recall <midpoint> --op <point-op> -p x=2000
  cadlog recall --target-op <subdivide-op> -p parts=3 --accept-arity-change`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecall(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.TargetOp, "target-op", "", "target an operation instead of a feature")
	cmd.Flags().StringVar(&opts.Op, "op", "", "predecessor operation to revise (default: the target's producer)")
	cmd.Flags().StringArrayVarP(&opts.Inputs, "input", "i", nil, "replace the operation's inputs (repeat in order)")
	cmd.Flags().StringArrayVarP(&opts.Params, "param", "p", nil, "parameter as key=value, merged over the original")
	cmd.Flags().StringVar(&opts.ParamsJSON, "params", "", "replacement parameters as a JSON object")
	cmd.Flags().BoolVar(&opts.AcceptArityChange, "accept-arity-change", false, "allow the revision to change the number of outputs")

	return cmd
}

func runRecall(opts *RecallOptions, args []string, cmd *cobra.Command) error {
	target, err := targetFrom(args, opts.TargetOp)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid target", err)
	}

	return opts.withSession(cmd, func(ctx context.Context, s *session.Session, out *OutputFormatter) error {
		req := session.Request{
			Target:            target,
			Op:                ir.OpID(opts.Op),
			Inputs:            toFeatureIDs(opts.Inputs),
			AcceptArityChange: opts.AcceptArityChange,
		}

		if opts.ParamsJSON != "" || len(opts.Params) > 0 {
			id := req.Op
			if id == "" {
				if id, err = s.Producer(target); err != nil {
					return out.Report(nil, err)
				}
			}
			orig, ok := s.Operation(id)
			if !ok {
				return out.Report(nil, &ir.EditError{Code: ir.ErrCodeNotFound, Message: "operation not in log", Op: id})
			}
			if req.Params, err = parseParams(orig.Params, opts.ParamsJSON, opts.Params); err != nil {
				return WrapExitError(ExitCommandError, "invalid parameters", err)
			}
		}

		resp, err := s.Run(ctx, session.CmdRecall, req)
		if err != nil {
			var committed any
			if resp.Edit != nil {
				committed = newEditView(resp.Edit)
			}
			return out.Report(committed, err)
		}
		if resp.Edit == nil {
			return fmt.Errorf("recall returned no result")
		}
		return out.Success(newEditView(resp.Edit))
	})
}
