package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/mutrec/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Workers int // overrides each scenario's worker count when set
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run conformance scenarios",
		Long: `Run every scenario file under a directory.

Each scenario names a query file, the rows it must produce, or the
diagnostic it must fail with, and optional update steps checked against
the incremental result.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  mutrec test ./scenarios
  mutrec test ./scenarios --workers 8
  mutrec test ./scenarios --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().IntVarP(&opts.Workers, "workers", "w", 0, "run every scenario with this many workers")

	return cmd
}

func runTests(opts *TestOptions, dir string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	if opts.Workers < 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("workers must be non-negative, got %d", opts.Workers))
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	h := harness.New(
		harness.WithLogger(opts.logger()),
		harness.WithWorkers(opts.Workers),
	)
	result, err := h.RunDir(ctx, dir)
	if err != nil {
		var notFound *harness.DirNotFoundError
		if errors.As(err, &notFound) {
			_ = formatter.Error(ErrCodeNotFound, notFound.Error(), nil)
			return NewExitError(ExitCommandError, notFound.Error())
		}
		return WrapExitError(ExitCommandError, "failed to run scenarios", err)
	}

	if formatter.Format == "json" {
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		outputTestText(formatter, result)
	}

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenario(s) failed", result.Failed, result.TotalScenarios))
	}
	return nil
}

func outputTestText(f *OutputFormatter, result *harness.SuiteResult) {
	w := f.Writer
	if result.TotalScenarios == 0 {
		fmt.Fprintln(w, "No scenarios found.")
		return
	}
	for _, failure := range result.Failures {
		fmt.Fprintf(w, "✗ %s\n", failure.Scenario)
		f.VerboseLog("  %s", failure.Path)
		for _, e := range failure.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Results: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.TotalScenarios)
}
