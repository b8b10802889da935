package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// ExplainOptions holds flags for the explain command.
type ExplainOptions struct {
	*RootOptions
	Database string
}

// ExplainResult is the JSON payload of the explain command.
type ExplainResult struct {
	Plan        string `json:"plan"`
	Fingerprint string `json:"fingerprint"`
	Loops       int    `json:"loops"`
	Merged      int    `json:"merged"`
	Collapsed   int    `json:"collapsed"`
	Dropped     int    `json:"dropped"`
}

// NewExplainCommand creates the explain command.
func NewExplainCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExplainOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "explain <query.cue>",
		Short: "Print the optimized plan of a query",
		Long: `Print the optimized plan of a query in EXPLAIN text form.

Each recursive block appears as a "With Mutually Recursive" section
listing its bindings as "cte lN = ..." entries.

Examples:
  mutrec explain ./queries/reach.cue
  mutrec explain --db ./mutrec.db ./queries/reach.cue --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExplain(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database providing additional relations")

	return cmd
}

func runExplain(opts *ExplainOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	st, err := openStore(opts.Database)
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	if st != nil {
		defer st.Close()
	}

	lq, err := loadQuery(path, st, opts.logger())
	if err != nil {
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			_ = formatter.Error(loadErr.Code, loadErr.Message, nil)
			return WrapExitError(ExitCommandError, "failed to load query", err)
		}
		return formatter.Fail(ExitFailure, "query rejected", err)
	}

	text, err := lq.Prepared.Explain()
	if err != nil {
		return formatter.Fail(ExitFailure, "explain failed", err)
	}

	if formatter.Format == "json" {
		p := lq.Prepared.Plan
		return formatter.Success(ExplainResult{
			Plan:        text,
			Fingerprint: lq.Prepared.Fingerprint(),
			Loops:       len(lq.Prepared.Program.Loops),
			Merged:      p.Merged,
			Collapsed:   p.Collapsed,
			Dropped:     p.Dropped,
		})
	}

	fmt.Fprint(formatter.Writer, text)
	formatter.VerboseLog("fingerprint %s", lq.Prepared.Fingerprint())
	return nil
}
