package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/cadlog/internal/session"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	Output string
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the session's features as GeoJSON",
		Long: `Write every feature in your session as a GeoJSON FeatureCollection,
ordered by feature id. Coordinates are in metres. Each feature carries the
operation that produced it and its version.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSession(cmd, func(_ context.Context, s *session.Session, out *OutputFormatter) error {
				data, err := s.Features().FeatureCollection().MarshalJSON()
				if err != nil {
					return fmt.Errorf("encode GeoJSON: %w", err)
				}
				if opts.Output == "" || opts.Output == "-" {
					_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
					return err
				}
				if err := os.WriteFile(opts.Output, append(data, '\n'), 0o644); err != nil {
					return WrapExitError(ExitCommandError, "failed to write export", err)
				}
				out.VerboseLog("wrote %d features to %s", s.Features().Len(), opts.Output)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file (default stdout)")
	return cmd
}
