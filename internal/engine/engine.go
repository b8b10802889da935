package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/mutrec/internal/plan"
	"github.com/roach88/mutrec/internal/render"
	"github.com/roach88/mutrec/internal/zset"
)

// DefaultWorkers is the number of workers a loop runs on.
const DefaultWorkers = 4

// tracerName identifies the engine's spans.
const tracerName = "github.com/roach88/mutrec/internal/engine"

// Engine evaluates rendered programs.
//
// Thread-safety model:
//   - Evaluate(): safe from any goroutine; evaluations share no state
//   - Session: one Apply at a time (serialized internally)
type Engine struct {
	workers int
	limit   int64
	quota   *RowQuota
	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer
	runIDs  RunIDGenerator
}

// Option allows configuration of engine parameters.
type Option func(*Engine)

// WithWorkers sets the number of workers a loop runs on. Each worker holds
// one shard of every binding state. A loop nested in a binding value runs on
// the workers of its enclosing loop.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMetrics records loop metrics into m.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithTracer sets the tracer loop spans are started on.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = t
	}
}

// WithRecursionLimit applies a recursion limit to loops that declare none.
// Such loops fail when they reach it.
func WithRecursionLimit(limit int64) Option {
	return func(e *Engine) {
		e.limit = limit
	}
}

// WithMaxStateRows bounds the rows a loop may hold across its bindings.
func WithMaxStateRows(rows int64) Option {
	return func(e *Engine) {
		e.quota = NewRowQuota(rows)
	}
}

// WithRunIDGenerator sets the generator of run identifiers.
func WithRunIDGenerator(g RunIDGenerator) Option {
	return func(e *Engine) {
		e.runIDs = g
	}
}

// New creates an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		workers: DefaultWorkers,
		logger:  slog.Default(),
		runIDs:  UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}
	return e
}

// Workers returns the configured worker count.
func (e *Engine) Workers() int { return e.workers }

// Stats summarizes one evaluation.
type Stats struct {
	RunID string
	// Loops lists every loop run, in completion order.
	Loops []LoopStats
	// Reused counts top-level loops served from a session cache.
	Reused        int
	Rounds        int64
	ExchangedRows int64
	Duration      time.Duration
}

// LoopStats summarizes one loop run.
type LoopStats struct {
	Index   int
	Depth   int
	Rounds  int64
	State   State
	AtLimit bool
	Rows    int64
}

// Evaluate runs prog against inputs and returns its consolidated result.
func (e *Engine) Evaluate(ctx context.Context, prog *render.Program, inputs render.Inputs) (zset.Batch, Stats, error) {
	r := &runner{engine: e}
	return r.evaluate(ctx, prog, inputs)
}

// runner drives the loops of one evaluation.
type runner struct {
	engine *Engine
	epoch  int64
	// reuse returns a cached result for a top-level loop.
	reuse func(*render.Loop) (zset.Batch, bool)
	// resume returns the states a top-level loop may start from instead of
	// its seeds.
	resume func(*render.Loop) (map[plan.LocalID]zset.Batch, bool)
	// keep records the result and converged states of a top-level loop.
	keep func(*render.Loop, zset.Batch, map[plan.LocalID]zset.Batch)

	mu    sync.Mutex
	stats Stats
}

func (r *runner) evaluate(ctx context.Context, prog *render.Program, inputs render.Inputs) (zset.Batch, Stats, error) {
	start := time.Now()
	r.stats = Stats{RunID: r.engine.runIDs.Generate()}
	logger := r.engine.logger.With("run_id", r.stats.RunID)
	logger.Debug("evaluation started", "loops", len(prog.Loops), "epoch", r.epoch)

	env := &render.Env{Ctx: ctx, Inputs: inputs, Loops: r}
	out, err := prog.Node.Eval(env)
	r.stats.Duration = time.Since(start)
	if err != nil {
		logger.Debug("evaluation failed", "error", err)
		return nil, r.stats, err
	}
	out = zset.Consolidate(out)
	logger.Info("evaluation finished",
		"rows", len(out),
		"rounds", r.stats.Rounds,
		"reused", r.stats.Reused,
		"duration", r.stats.Duration,
	)
	return out, r.stats, nil
}

// RunLoop implements render.LoopRunner. A loop reached inside a worker of
// another loop is stepped by that worker together with its peers.
func (r *runner) RunLoop(env *render.Env, def *render.Loop) (zset.Batch, error) {
	if ep, ok := env.Exchange.(*endpoint); ok {
		return r.runShared(env, ep, def)
	}

	top := def.Depth == 0 && def.Index >= 0
	if top && r.reuse != nil {
		if out, ok := r.reuse(def); ok {
			r.mu.Lock()
			r.stats.Reused++
			r.mu.Unlock()
			return out, nil
		}
	}

	workers := r.engine.workers
	ctx, span := r.engine.tracer.Start(env.Ctx, "engine.loop", trace.WithAttributes(
		attribute.Int("loop.index", def.Index),
		attribute.Int("loop.depth", def.Depth),
		attribute.Int("loop.bindings", len(def.Bindings)),
		attribute.Int("loop.workers", workers),
	))
	defer span.End()

	loop := r.engine.newLoop(env, def, workers, r.epoch)
	if top && r.resume != nil && loop.options.Limit == 0 {
		if states, ok := r.resume(def); ok {
			loop.resume(states)
			span.SetAttributes(attribute.Bool("loop.resumed", true))
		}
	}
	out, err := loop.Run(ctx)
	span.SetAttributes(
		attribute.Int64("loop.rounds", loop.Rounds()),
		attribute.String("loop.state", loop.State().String()),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	r.record(def, loop)

	if err != nil {
		return nil, err
	}
	if top && r.keep != nil {
		r.keep(def, out, loop.States())
	}
	return out, nil
}

// runShared steps a nested loop on the calling worker. Only the first worker
// records its stats, since every worker runs the same rounds.
func (r *runner) runShared(env *render.Env, ep *endpoint, def *render.Loop) (zset.Batch, error) {
	loop := r.engine.newSharedLoop(env, ep, def, r.epoch)
	out, err := loop.Run(env.Ctx)
	if ep.id == 0 {
		r.record(def, loop)
	}
	return out, err
}

func (r *runner) record(def *render.Loop, loop *Loop) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.Loops = append(r.stats.Loops, LoopStats{
		Index:   def.Index,
		Depth:   def.Depth,
		Rounds:  loop.Rounds(),
		State:   loop.State(),
		AtLimit: loop.AtLimit(),
		Rows:    loop.rows,
	})
	r.stats.Rounds += loop.Rounds()
	r.stats.ExchangedRows += loop.exchanged
}
