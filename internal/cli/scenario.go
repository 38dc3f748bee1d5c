package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/roach88/cadlog/internal/harness"
)

// ScenarioOptions holds flags for the scenario command.
type ScenarioOptions struct {
	*RootOptions
	Update bool   // regenerate golden files
	Filter string // scenario filter (glob pattern)
	Trace  bool   // print each trace
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string            `json:"name"`
	Job    string            `json:"job"`
	Pass   bool              `json:"pass"`
	Errors []string          `json:"errors,omitempty"`
	Trace  json.RawMessage   `json:"trace,omitempty"`
	States map[string]string `json:"states,omitempty"`
}

// ScenarioSummary holds the overall result.
type ScenarioSummary struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewScenarioCommand creates the scenario command.
func NewScenarioCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScenarioOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "scenario <file-or-dir>...",
		Short: "Run multi-user editing scenarios against the configured store",
		Long: `Run YAML editing scenarios against the configured store.

Each scenario runs under a fresh job id (or --job) so it can share a store
with real work. Ids and timestamps are deterministic, so a scenario's trace
is identical on every backend. When a golden file exists at
../golden/<name>.golden relative to the scenario file, the trace must match
it byte for byte.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, unreachable store, etc.)

Examples:
  cadlog scenario ./scenarios
  cadlog scenario ./scenarios --filter "publish_*"
  cadlog scenario ./scenarios --store gorm-sqlite --update
  cadlog scenario ./scenarios/recall_cascade.yaml --trace --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")
	cmd.Flags().BoolVar(&opts.Trace, "trace", false, "include each scenario's trace")

	return cmd
}

func runScenarios(opts *ScenarioOptions, paths []string, cmd *cobra.Command) error {
	var files []string
	for _, p := range paths {
		found, err := findScenarioFiles(p, opts.Filter)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to find scenarios", err)
		}
		files = append(files, found...)
	}

	return opts.withStore(cmd, func(ctx context.Context, e *env) error {
		summary := ScenarioSummary{
			Scenarios: make([]ScenarioResult, 0, len(files)),
			Total:     len(files),
		}
		for _, file := range files {
			res := runScenarioFile(ctx, opts, e, file, cmd)
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("scenario run interrupted: %w", err)
			}
			summary.Scenarios = append(summary.Scenarios, res)
			if res.Pass {
				summary.Passed++
			} else {
				summary.Failed++
			}
		}

		if opts.Format == "json" {
			return outputScenarioJSON(cmd.OutOrStdout(), summary)
		}
		return outputScenarioText(cmd.OutOrStdout(), summary)
	})
}

// findScenarioFiles returns path itself or, for a directory, every YAML
// file below it whose base name matches filter.
func findScenarioFiles(path, filter string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := filepath.Ext(p)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			matched, err := filepath.Match(filter, strings.TrimSuffix(d.Name(), ext))
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}
		files = append(files, p)
		return nil
	})
	return files, err
}

// runScenarioFile executes one scenario and reports it in text mode as it
// goes.
func runScenarioFile(ctx context.Context, opts *ScenarioOptions, e *env, file string, cmd *cobra.Command) ScenarioResult {
	w := cmd.OutOrStdout()
	fail := func(res ScenarioResult, errs ...string) ScenarioResult {
		res.Pass = false
		res.Errors = errs
		if opts.Format != "json" {
			fmt.Fprintf(w, "✗ %s\n", res.Name)
			for _, msg := range errs {
				fmt.Fprintf(w, "  %s\n", msg)
			}
		}
		return res
	}

	sc, err := harness.LoadScenario(file)
	if err != nil {
		return fail(ScenarioResult{Name: filepath.Base(file)}, fmt.Sprintf("load error: %v", err))
	}

	job := sc.Name + "-" + uuid.NewString()[:8]
	if cmd.Flags().Changed("job") {
		job = e.cfg.Job
	}
	res := ScenarioResult{Name: sc.Name, Job: job}

	result, err := harness.Run(ctx, sc, e.store, harness.WithJob(job), harness.WithLogger(e.logger.With("scenario", sc.Name)))
	if err != nil {
		return fail(res, fmt.Sprintf("execution error: %v", err))
	}
	res.States = result.Digests

	trace, err := harness.MarshalTrace(sc.Name, result)
	if err != nil {
		return fail(res, fmt.Sprintf("trace encoding error: %v", err))
	}
	if opts.Trace {
		res.Trace = trace
	}

	goldenPath := goldenFilePath(file, sc.Name)
	if opts.Update {
		if err := os.MkdirAll(filepath.Dir(goldenPath), 0o755); err != nil {
			return fail(res, fmt.Sprintf("golden update error: %v", err))
		}
		if err := os.WriteFile(goldenPath, trace, 0o644); err != nil {
			return fail(res, fmt.Sprintf("golden update error: %v", err))
		}
		e.logger.Debug("golden updated", "scenario", sc.Name, "path", goldenPath)
	} else if want, err := os.ReadFile(goldenPath); err == nil {
		if !bytes.Equal(want, trace) {
			result.AddError("trace does not match golden file (run with --update to regenerate)")
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fail(res, fmt.Sprintf("golden comparison error: %v", err))
	}

	if !result.Pass {
		return fail(res, result.Errors...)
	}
	res.Pass = true
	if opts.Format != "json" {
		fmt.Fprintf(w, "✓ %s\n", sc.Name)
		if opts.Trace {
			fmt.Fprintf(w, "  %s\n", trace)
		}
	}
	return res
}

// goldenFilePath places golden files in a golden/ directory next to the
// scenarios directory.
func goldenFilePath(scenarioFile, name string) string {
	return filepath.Join(filepath.Dir(filepath.Dir(scenarioFile)), "golden", name+".golden")
}

func outputScenarioJSON(w io.Writer, summary ScenarioSummary) error {
	response := CLIResponse{Status: "ok", Data: summary}
	if summary.Failed > 0 {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    "SCENARIO_FAILED",
			Message: fmt.Sprintf("%d scenario(s) failed", summary.Failed),
		}
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(response); err != nil {
		return err
	}
	return scenarioExit(summary)
}

func outputScenarioText(w io.Writer, summary ScenarioSummary) error {
	if summary.Total == 0 {
		fmt.Fprintln(w, "No scenarios found.")
		return nil
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Scenario Summary: %d passed, %d failed, %d total\n", summary.Passed, summary.Failed, summary.Total)
	if err := scenarioExit(summary); err != nil {
		return err
	}
	fmt.Fprintln(w, "✓ All scenarios passed")
	return nil
}

func scenarioExit(summary ScenarioSummary) error {
	if summary.Failed == 0 {
		return nil
	}
	return &ExitError{
		Code:     ExitFailure,
		Message:  fmt.Sprintf("%d scenario(s) failed", summary.Failed),
		Reported: true,
	}
}
