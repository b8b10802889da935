package harness

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/mutrec/internal/catalog"
	"github.com/roach88/mutrec/internal/compiler"
	"github.com/roach88/mutrec/internal/engine"
	"github.com/roach88/mutrec/internal/logging"
	"github.com/roach88/mutrec/internal/testutil"
	"github.com/roach88/mutrec/internal/zset"
)

// Harness is the scenario execution engine.
// It runs scenarios with deterministic run identifiers and a fresh catalog.
type Harness struct {
	logger  *slog.Logger
	metrics *engine.Metrics
	workers int
}

// Option configures a Harness.
type Option func(*Harness)

// WithLogger sets the logger passed to every pipeline stage.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Harness) {
		h.logger = logger
	}
}

// WithMetrics records engine metrics for every scenario into m.
func WithMetrics(m *engine.Metrics) Option {
	return func(h *Harness) {
		h.metrics = m
	}
}

// WithWorkers overrides the worker count of every scenario.
func WithWorkers(n int) Option {
	return func(h *Harness) {
		h.workers = n
	}
}

// New creates a Harness. Logs are discarded unless WithLogger is given.
func New(opts ...Option) *Harness {
	h := &Harness{
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run executes a scenario with the default Harness.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	return New().Run(ctx, scenario)
}

// Run executes a test scenario and returns the result.
//
// Query failures are outcomes, compared against the scenario's expected
// error. The returned error is reserved for scenarios that cannot be run:
// unreadable golden files, malformed expected rows, updates to unknown
// relations.
//
// Execution flow:
//  1. Compile the query document and build its catalog
//  2. Resolve, plan and render the query
//  3. Evaluate it through a new engine session
//  4. Apply each update step and re-evaluate incrementally
func (h *Harness) Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	result := NewResult()
	workers := scenario.Workers
	if h.workers > 0 {
		workers = h.workers
	}
	if workers == 0 {
		workers = 1
	}

	doc, err := compiler.CompileQueryFile(scenario.Query)
	if err != nil {
		return h.failed(result, scenario, err), nil
	}
	cat, err := doc.Catalog()
	if err != nil {
		return h.failed(result, scenario, err), nil
	}
	prep, err := compiler.Prepare(doc.Query, cat, h.logger)
	if err != nil {
		return h.failed(result, scenario, err), nil
	}
	result.Fingerprint = prep.Fingerprint()
	if result.Explain, err = prep.Explain(); err != nil {
		return nil, fmt.Errorf("explain: %w", err)
	}

	inputs, err := snapshot(ctx, cat)
	if err != nil {
		return nil, err
	}
	opts := []engine.Option{
		engine.WithWorkers(workers),
		engine.WithLogger(h.logger),
		engine.WithRunIDGenerator(testutil.NewSequentialRunIDs(scenario.Name)),
	}
	if h.metrics != nil {
		opts = append(opts, engine.WithMetrics(h.metrics))
	}
	session := engine.New(opts...).NewSession(prep.Program, inputs)

	res, err := session.Apply(ctx, nil)
	if err != nil {
		return h.failed(result, scenario, err), nil
	}
	result.Rows = res.Rows
	result.Stats = res.Stats
	if err := h.check(result, "expect", scenario.Expect, res, nil); err != nil {
		return nil, err
	}

	for i, step := range scenario.Updates {
		field := fmt.Sprintf("updates[%d]", i)
		updates, err := stepUpdates(cat, step)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", field, err)
		}
		res, err := session.Apply(ctx, updates)
		sr := StepResult{Err: err}
		if err == nil {
			sr = StepResult{Epoch: res.Epoch, Rows: res.Rows, Changes: res.Changes, Stats: res.Stats}
		}
		result.Steps = append(result.Steps, sr)
		if err := h.check(result, field+".expect", step.Expect, res, err); err != nil {
			return nil, err
		}
	}

	h.logger.Debug("scenario finished",
		"scenario", scenario.Name,
		"pass", result.Pass,
		"steps", len(result.Steps),
	)
	return result, nil
}

// failed records a query error that stopped the scenario before evaluation
// finished.
func (h *Harness) failed(result *Result, scenario *Scenario, err error) *Result {
	result.Err = err
	result.addErrors(checkError("expect", scenario.Expect, err))
	h.logger.Debug("scenario query failed", "scenario", scenario.Name, "error", err)
	return result
}

// check applies one expectation to an evaluation outcome.
func (h *Harness) check(result *Result, field string, want Expect, res *engine.Result, evalErr error) error {
	result.addErrors(checkError(field, want, evalErr))
	if evalErr != nil {
		return nil
	}
	failures, err := checkRows(field, want.Rows, res.Rows)
	if err != nil {
		return err
	}
	result.addErrors(failures)
	result.addErrors(checkStats(field, want, res.Stats))
	failures, err = checkExplain(field, want.ExplainGolden, result.Explain)
	if err != nil {
		return err
	}
	result.addErrors(failures)
	return nil
}

// snapshot reads every catalog relation.
func snapshot(ctx context.Context, cat *catalog.Memory) (map[string]zset.Batch, error) {
	inputs := make(map[string]zset.Batch)
	for _, name := range cat.Names() {
		rows, err := cat.Snapshot(ctx, name)
		if err != nil {
			return nil, err
		}
		inputs[name] = rows
	}
	return inputs, nil
}

// stepUpdates converts the changes of one step to type-checked batches.
func stepUpdates(cat catalog.Catalog, step UpdateStep) (map[string]zset.Batch, error) {
	updates := make(map[string]zset.Batch)
	for _, c := range step.Changes {
		typ, ok := cat.Relation(c.Relation)
		if !ok {
			return nil, fmt.Errorf("relation %q does not exist", c.Relation)
		}
		inserts, err := toBatch(c.Insert)
		if err != nil {
			return nil, fmt.Errorf("%s insert: %w", c.Relation, err)
		}
		deletes, err := toBatch(c.Delete)
		if err != nil {
			return nil, fmt.Errorf("%s delete: %w", c.Relation, err)
		}
		batch := zset.Concat(inserts, zset.Negate(deletes))
		for _, u := range batch {
			if err := typ.Check(u.Row); err != nil {
				return nil, fmt.Errorf("relation %q: %w", c.Relation, err)
			}
		}
		updates[c.Relation] = zset.Concat(updates[c.Relation], batch)
	}
	return updates, nil
}
