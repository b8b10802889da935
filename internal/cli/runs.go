package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/roach88/mutrec/internal/store"
)

// RunsOptions holds flags for the runs command.
type RunsOptions struct {
	*RootOptions
	Database string
	Limit    int
}

// RunRecord is one recorded run in JSON output.
type RunRecord struct {
	ID          string  `json:"id"`
	Fingerprint string  `json:"fingerprint"`
	Seq         int64   `json:"seq"`
	Status      string  `json:"status"`
	Rounds      int64   `json:"rounds"`
	Rows        int64   `json:"rows"`
	Error       string  `json:"error,omitempty"`
	DurationMS  float64 `json:"duration_ms"`
}

// NewRunsCommand creates the runs command.
func NewRunsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List evaluations recorded in a database",
		Long: `List the evaluations "mutrec run --db" recorded, oldest first.

Example:
  mutrec runs --db ./mutrec.db --limit 20`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRuns(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 10, "maximum number of runs to list")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runRuns(opts *RunsOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	st, err := store.Open(opts.Database)
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	runs, err := st.Runs(ctx, opts.Limit)
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}

	if formatter.Format == "json" {
		records := make([]RunRecord, len(runs))
		for i, r := range runs {
			records[i] = RunRecord{
				ID:          r.ID,
				Fingerprint: r.Fingerprint,
				Seq:         r.Seq,
				Status:      r.Status,
				Rounds:      r.Rounds,
				Rows:        r.Rows,
				Error:       r.Error,
				DurationMS:  float64(r.Duration.Microseconds()) / 1000,
			}
		}
		return formatter.Success(records)
	}

	if len(runs) == 0 {
		fmt.Fprintln(formatter.Writer, "No runs recorded.")
		return nil
	}
	tw := tabwriter.NewWriter(formatter.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSEQ\tSTATUS\tROUNDS\tROWS\tDURATION")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\n",
			r.ID, r.Seq, r.Status,
			humanize.Comma(r.Rounds), humanize.Comma(r.Rows),
			r.Duration.Round(time.Microsecond))
	}
	return tw.Flush()
}
