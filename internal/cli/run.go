package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/roach88/mutrec/internal/config"
	"github.com/roach88/mutrec/internal/engine"
	"github.com/roach88/mutrec/internal/store"
	"github.com/roach88/mutrec/internal/zset"
)

const tracerName = "github.com/roach88/mutrec/internal/cli"

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database       string
	Workers        int
	Follow         bool
	MetricsAddr    string
	Trace          bool
	RecursionLimit int64
	MaxStateRows   int64

	// RunIDs allows overriding the run ID generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDs engine.RunIDGenerator
}

// RunResult is the JSON payload of one evaluation.
type RunResult struct {
	RunID       string      `json:"run_id"`
	Epoch       int64       `json:"epoch"`
	Seq         int64       `json:"seq"`
	Fingerprint string      `json:"fingerprint"`
	Columns     []string    `json:"columns"`
	Rows        [][]any     `json:"rows"`
	Changes     []ChangeOut `json:"changes,omitempty"`
	Rounds      int64       `json:"rounds"`
	Reused      int         `json:"reused"`
	DurationMS  float64     `json:"duration_ms"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <query.cue>",
		Short: "Evaluate a query",
		Long: `Evaluate a query and print its result.

Relations come from the tables declared in the query document and, with
--db, from a SQLite database filled by "mutrec ingest". With --follow the
command keeps the evaluation open, polls the database for new updates, and
prints the changes to the result after each batch.

Examples:
  mutrec run ./queries/count.cue
  mutrec run --db ./mutrec.db --workers 8 ./queries/reach.cue
  mutrec run --db ./mutrec.db --follow --metrics-addr :9090 ./queries/reach.cue`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database")
	cmd.Flags().IntVarP(&opts.Workers, "workers", "w", 0, "number of dataflow workers (default from config)")
	cmd.Flags().BoolVarP(&opts.Follow, "follow", "f", false, "keep running and apply new updates from the database")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().BoolVar(&opts.Trace, "trace", false, "write loop spans to stderr")
	cmd.Flags().Int64Var(&opts.RecursionLimit, "recursion-limit", 0, "limit for loops that declare none (default from config)")
	cmd.Flags().Int64Var(&opts.MaxStateRows, "max-state-rows", 0, "fail loops holding more rows than this (default from config)")

	return cmd
}

// settings merges flags over the loaded configuration.
func (o *RunOptions) settings(cmd *cobra.Command) *config.Config {
	cfg := *o.config()
	if cmd.Flags().Changed("workers") {
		cfg.Workers = o.Workers
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.MetricsAddr = o.MetricsAddr
	}
	if cmd.Flags().Changed("db") {
		cfg.Database = o.Database
	}
	if cmd.Flags().Changed("recursion-limit") {
		cfg.RecursionLimit = o.RecursionLimit
	}
	if cmd.Flags().Changed("max-state-rows") {
		cfg.MaxStateRows = o.MaxStateRows
	}
	return &cfg
}

func runQuery(opts *RunOptions, path string, cmd *cobra.Command) error {
	cfg := opts.settings(cmd)
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid settings", err)
	}
	if opts.Follow && cfg.Database == "" {
		return NewExitError(ExitCommandError, "--follow requires --db")
	}
	logger := opts.logger()
	formatter := opts.formatter(cmd)

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(cfg.Database)
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	if st != nil {
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing database", "error", closeErr)
			}
		}()
	}

	lq, err := loadQuery(path, st, logger)
	if err != nil {
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			_ = formatter.Error(loadErr.Code, loadErr.Message, nil)
			return WrapExitError(ExitCommandError, "failed to load query", err)
		}
		return formatter.Fail(ExitFailure, "query rejected", err)
	}

	reg := prometheus.NewRegistry()
	engOpts := []engine.Option{
		engine.WithWorkers(cfg.Workers),
		engine.WithLogger(logger),
		engine.WithMetrics(engine.NewMetrics(reg)),
		engine.WithRecursionLimit(cfg.RecursionLimit),
		engine.WithMaxStateRows(cfg.MaxStateRows),
	}
	if opts.RunIDs != nil {
		engOpts = append(engOpts, engine.WithRunIDGenerator(opts.RunIDs))
	}
	if opts.Trace {
		tp, err := newTracerProvider(formatter)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to set up tracing", err)
		}
		defer func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				logger.Error("error flushing traces", "error", err)
			}
		}()
		engOpts = append(engOpts, engine.WithTracer(tp.Tracer(tracerName)))
	}
	if cfg.MetricsAddr != "" {
		shutdown := serveMetrics(cfg.MetricsAddr, reg, logger)
		defer shutdown()
	}
	eng := engine.New(engOpts...)

	r := &runner{
		formatter: formatter,
		logger:    logger,
		store:     st,
		query:     lq,
	}

	if st != nil {
		if r.seq, err = st.LatestSeq(ctx); err != nil {
			return WrapExitError(ExitCommandError, "failed to read database", err)
		}
	}
	inputs, err := r.snapshot(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read inputs", err)
	}

	logger.Info("evaluating query",
		"file", path,
		"workers", cfg.Workers,
		"loops", len(lq.Prepared.Program.Loops),
		"seq", r.seq,
	)
	session := eng.NewSession(lq.Prepared.Program, inputs)
	if err := r.apply(ctx, session, nil, true); err != nil {
		return err
	}
	if !opts.Follow {
		return nil
	}

	return r.follow(ctx, session, cfg.PollInterval)
}

// runner carries the state of one run command across epochs.
type runner struct {
	formatter *OutputFormatter
	logger    *slog.Logger
	store     *store.Store
	query     *loadedQuery
	seq       int64
}

// snapshot reads every input of the program. Relations held by the store
// are read as of r.seq so that later polling resumes exactly after them.
func (r *runner) snapshot(ctx context.Context) (map[string]zset.Batch, error) {
	inputs := make(map[string]zset.Batch)
	for _, name := range r.query.Prepared.Program.Inputs {
		if _, inline := r.query.Inline.Relation(name); !inline && r.store != nil {
			b, err := r.store.SnapshotAt(ctx, name, r.seq)
			if err != nil {
				return nil, err
			}
			inputs[name] = b
			continue
		}
		b, err := r.query.Source.Snapshot(ctx, name)
		if err != nil {
			return nil, err
		}
		inputs[name] = b
	}
	return inputs, nil
}

// apply advances the session, records the run, and prints the outcome.
func (r *runner) apply(ctx context.Context, session *engine.Session, updates map[string]zset.Batch, initial bool) error {
	start := time.Now()
	res, err := session.Apply(ctx, updates)
	if err != nil {
		r.record(ctx, store.Run{
			ID:          uuid.Must(uuid.NewV7()).String(),
			Fingerprint: r.query.Prepared.Fingerprint(),
			Seq:         r.seq,
			Status:      "failed",
			Error:       err.Error(),
			Duration:    time.Since(start),
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return r.formatter.Fail(ExitFailure, "evaluation failed", err)
	}

	r.record(ctx, store.Run{
		ID:          res.Stats.RunID,
		Fingerprint: r.query.Prepared.Fingerprint(),
		Seq:         r.seq,
		Status:      "ok",
		Rounds:      res.Stats.Rounds,
		Rows:        zset.Count(res.Rows),
		Duration:    res.Stats.Duration,
	})
	r.logger.Debug("epoch complete",
		"run_id", res.Stats.RunID,
		"epoch", res.Epoch,
		"rounds", res.Stats.Rounds,
		"reused", res.Stats.Reused,
		"exchanged", res.Stats.ExchangedRows,
	)
	return r.print(res, initial)
}

func (r *runner) record(ctx context.Context, run store.Run) {
	if r.store == nil || run.ID == "" {
		return
	}
	if err := r.store.RecordRun(context.WithoutCancel(ctx), run); err != nil {
		r.logger.Warn("failed to record run", "run_id", run.ID, "error", err)
	}
}

func (r *runner) print(res *engine.Result, initial bool) error {
	f := r.formatter
	if f.Format == "json" {
		out := RunResult{
			RunID:       res.Stats.RunID,
			Epoch:       res.Epoch,
			Seq:         r.seq,
			Fingerprint: r.query.Prepared.Fingerprint(),
			Columns:     r.query.Prepared.Type.Names(),
			Rows:        rowsOut(res.Rows),
			Rounds:      res.Stats.Rounds,
			Reused:      res.Stats.Reused,
			DurationMS:  float64(res.Stats.Duration.Microseconds()) / 1000,
		}
		if !initial {
			out.Changes = changesOut(res.Changes)
		}
		return f.Success(out)
	}

	if initial {
		writeRows(f.Writer, res.Rows)
	} else {
		fmt.Fprintf(f.Writer, "-- epoch %d (seq %d)\n", res.Epoch, r.seq)
		writeChanges(f.Writer, res.Changes)
	}
	fmt.Fprintf(f.GetErrWriter(), "%s row(s), %s round(s), %s rows exchanged in %s\n",
		humanize.Comma(zset.Count(res.Rows)),
		humanize.Comma(res.Stats.Rounds),
		humanize.Comma(res.Stats.ExchangedRows),
		res.Stats.Duration.Round(time.Microsecond),
	)
	return nil
}

// follow polls the store for updates past r.seq and applies each poll's
// updates to the session as one epoch, until ctx is done.
func (r *runner) follow(ctx context.Context, session *engine.Session, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	inputs := make(map[string]bool, len(r.query.Prepared.Program.Inputs))
	for _, name := range r.query.Prepared.Program.Inputs {
		if _, inline := r.query.Inline.Relation(name); !inline {
			inputs[name] = true
		}
	}

	r.logger.Info("following updates", "seq", r.seq, "interval", interval)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("stopped following", "seq", r.seq)
			return nil
		case <-ticker.C:
		}

		changes, err := r.store.UpdatesSince(ctx, r.seq)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return WrapExitError(ExitCommandError, "failed to read updates", err)
		}
		if len(changes) == 0 {
			continue
		}

		updates := make(map[string]zset.Batch)
		last := r.seq
		for _, c := range changes {
			last = max(last, c.Seq)
			if inputs[c.Relation] {
				updates[c.Relation] = zset.Concat(updates[c.Relation], c.Updates)
			}
		}
		r.seq = last
		if len(updates) == 0 {
			r.logger.Debug("skipped updates to unread relations", "seq", last)
			continue
		}
		if err := r.apply(ctx, session, updates, false); err != nil {
			return err
		}
	}
}

func newTracerProvider(f *OutputFormatter) (*sdktrace.TracerProvider, error) {
	exp, err := stdouttrace.New(
		stdouttrace.WithWriter(f.GetErrWriter()),
		stdouttrace.WithPrettyPrint(),
	)
	if err != nil {
		return nil, err
	}
	return sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp)), nil
}

// serveMetrics serves reg on addr until the returned function is called.
func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
