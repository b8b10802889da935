package engine

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/mutrec/internal/plan"
	"github.com/roach88/mutrec/internal/render"
	"github.com/roach88/mutrec/internal/zset"
)

// State is the lifecycle state of a loop.
type State int

const (
	// Running loops execute further rounds.
	Running State = iota
	// Converged loops reached a fixpoint (or their recursion limit, when
	// configured to return there). Terminal.
	Converged
	// Failed loops stopped on an error. Their state is discarded. Terminal.
	Failed
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Converged:
		return "converged"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// shard is one worker's part of a loop. It holds the rows of every binding
// state it owns and reaches the other workers only through its endpoint.
type shard struct {
	ep     *endpoint
	states map[plan.LocalID]zset.Batch
	// changed and rows are totals over all workers after the last round.
	changed int64
	rows    int64
}

// step runs one round on the shard. The seed round evaluates binding seeds
// against empty states; every other round evaluates binding values against
// the shard's own states.
func (s *shard) step(env *render.Env, def *render.Loop, seed bool) error {
	ctx := env.Ctx
	frame := s.states
	if seed {
		frame = def.EmptyStates()
	}
	in := env.WithFrame(render.NewFrame(env.Frame, frame))

	next := make(map[plan.LocalID]zset.Batch, len(def.Bindings))
	var changed, rows int64
	for _, b := range def.Bindings {
		node := b.Value
		if seed {
			node = b.Seed
		}
		var out zset.Batch
		if node != nil {
			var err error
			if out, err = node.Eval(in); err != nil {
				return err
			}
		}
		out, err := s.ep.Exchange(ctx, out, render.ByRow)
		if err != nil {
			return err
		}
		out = zset.Consolidate(out)
		if !zset.Equal(out, s.states[b.ID]) {
			changed++
		}
		next[b.ID] = out
		rows += int64(len(out))
	}
	s.states = next

	var err error
	if s.changed, err = s.ep.sum(ctx, changed); err != nil {
		return err
	}
	s.rows, err = s.ep.sum(ctx, rows)
	return err
}

// Loop is one evaluation of a rendered loop, stepped round by round.
//
// A loop started outside any worker coordinates its own fabric: each round
// runs one goroutine per shard and waits for all of them. A loop nested in a
// binding value runs on the worker that evaluates it, sharing the fabric of
// the enclosing loop, so every worker steps the nested loop together.
type Loop struct {
	def     *render.Loop
	env     *render.Env
	shards  []*shard
	fabric  *fabric
	shared  bool
	frames  []*render.Frame // enclosing frames, partitioned per shard
	options plan.LoopOptions
	quota   *RowQuota
	metrics *Metrics
	logger  *slog.Logger

	state     State
	at        Timestamp
	err       error
	atLimit   bool
	resumed   bool
	rows      int64
	exchanged int64
}

func (e *Engine) newLoop(env *render.Env, def *render.Loop, workers int, epoch int64) *Loop {
	l := e.loop(env, def, epoch)
	n := max(workers, 1)
	l.fabric = newFabric(n)
	for i := range n {
		l.shards = append(l.shards, &shard{ep: l.fabric.endpoint(i), states: def.EmptyStates()})
		l.frames = append(l.frames, env.Frame.Partition(i, n))
	}
	return l
}

// newSharedLoop creates a loop stepped by the worker behind ep, together with
// the same loop on every other worker of ep's fabric.
func (e *Engine) newSharedLoop(env *render.Env, ep *endpoint, def *render.Loop, epoch int64) *Loop {
	l := e.loop(env, def, epoch)
	l.shared = true
	l.shards = []*shard{{ep: ep, states: def.EmptyStates()}}
	return l
}

func (e *Engine) loop(env *render.Env, def *render.Loop, epoch int64) *Loop {
	options := def.Options
	if options.Limit == 0 && e.limit > 0 {
		options = plan.LoopOptions{Limit: e.limit}
	}
	return &Loop{
		def:     def,
		env:     env,
		options: options,
		quota:   e.quota,
		metrics: e.metrics,
		logger:  e.logger,
		at:      Timestamp{Epoch: epoch},
	}
}

// resume starts the loop from states instead of its seeds. The first round
// then evaluates binding values against them. Only valid before the first
// round, and only when every binding value is monotone and the states lie
// below the fixpoint.
func (l *Loop) resume(states map[plan.LocalID]zset.Batch) {
	n := len(l.shards)
	for _, b := range l.def.Bindings {
		for i, part := range zset.Shard(states[b.ID], n) {
			l.shards[i].states[b.ID] = zset.Consolidate(part)
		}
	}
	l.resumed = true
}

// lead reports whether this copy of the loop records metrics and logs.
func (l *Loop) lead() bool {
	return !l.shared || l.shards[0].ep.id == 0
}

// State returns the loop's current state.
func (l *Loop) State() State { return l.state }

// At returns the timestamp of the last completed round.
func (l *Loop) At() Timestamp { return l.at }

// Rounds returns the number of completed rounds.
func (l *Loop) Rounds() int64 { return l.at.Round }

// AtLimit reports whether the loop stopped at its recursion limit.
func (l *Loop) AtLimit() bool { return l.atLimit }

// Err returns the failure of a Failed loop.
func (l *Loop) Err() error { return l.err }

// States returns the binding states of the last completed round, merged
// over the shards this copy of the loop holds.
func (l *Loop) States() map[plan.LocalID]zset.Batch {
	if l.state == Failed {
		return nil
	}
	states := make(map[plan.LocalID]zset.Batch, len(l.def.Bindings))
	for _, b := range l.def.Bindings {
		parts := make([]zset.Batch, len(l.shards))
		for i, s := range l.shards {
			parts[i] = s.states[b.ID]
		}
		states[b.ID] = zset.Merge(parts...)
	}
	return states
}

// Run steps the loop until it is terminal and evaluates its result.
func (l *Loop) Run(ctx context.Context) (zset.Batch, error) {
	for {
		state, err := l.Step(ctx)
		if err != nil {
			return nil, err
		}
		if state == Converged {
			return l.Result(ctx)
		}
	}
}

// Step executes one round. The first round evaluates the binding seeds
// unless the loop was resumed; later rounds evaluate binding values against
// the previous round.
func (l *Loop) Step(ctx context.Context) (State, error) {
	if l.state != Running {
		return l.state, l.err
	}
	if err := ctx.Err(); err != nil {
		return l.fail(err)
	}

	start := time.Now()
	l.at.Round++
	seed := l.at.Round == 1 && !l.resumed
	if err := l.round(ctx, seed); err != nil {
		return l.fail(err)
	}
	lead := l.shards[0]
	l.rows = lead.rows
	var exchanged int64
	if !l.shared {
		exchanged = l.fabric.exchanged.Swap(0)
		l.exchanged += exchanged
	}
	if l.lead() {
		l.metrics.observeRound(time.Since(start), exchanged)
		l.logger.Debug("loop round",
			"loop", l.def.Index,
			"at", l.at.String(),
			"binding_deltas", lead.changed,
			"rows", l.rows,
		)
	}

	if err := l.quota.Check(l.def.Index, l.at.Round, l.rows); err != nil {
		return l.fail(err)
	}
	switch {
	case lead.changed == 0:
		l.finish(false)
	case l.options.Limit > 0 && l.at.Round >= l.options.Limit:
		if !l.options.ReturnAtLimit {
			return l.fail(newLimitError(l.options.Limit))
		}
		l.finish(true)
	}
	return l.state, nil
}

// round steps every shard once. A shared loop steps its single shard on the
// calling goroutine.
func (l *Loop) round(ctx context.Context, seed bool) error {
	if l.shared {
		env := *l.env
		env.Ctx = ctx
		return l.shards[0].step(&env, l.def, seed)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, s := range l.shards {
		env := *l.env
		env.Ctx = gctx
		env.Frame = l.frames[i]
		env.Exchange = s.ep
		g.Go(func() error {
			return s.step(&env, l.def, seed)
		})
	}
	return g.Wait()
}

// Result evaluates the loop body over the converged states. A shared loop
// returns only the rows its worker owns.
func (l *Loop) Result(ctx context.Context) (zset.Batch, error) {
	if l.state != Converged {
		return nil, l.err
	}
	env := *l.env
	env.Ctx = ctx
	out, err := l.def.Body.Eval(env.WithFrame(render.NewFrame(env.Frame, l.States())))
	if err != nil {
		return nil, err
	}
	return zset.Consolidate(out), nil
}

func (l *Loop) finish(atLimit bool) {
	l.state = Converged
	l.atLimit = atLimit
	if !l.lead() {
		return
	}
	l.metrics.observeEnd(Converged)
	l.logger.Debug("loop converged",
		"loop", l.def.Index,
		"depth", l.def.Depth,
		"rounds", l.at.Round,
		"rows", l.rows,
		"at_limit", atLimit,
	)
}

// fail moves the loop to Failed and discards all in-flight state.
func (l *Loop) fail(err error) (State, error) {
	l.state = Failed
	l.err = &RoundError{Loop: l.def.Index, At: l.at, Err: err}
	for _, s := range l.shards {
		s.states = nil
	}
	if !l.shared {
		l.fabric.close()
	}
	if l.lead() {
		l.metrics.observeEnd(Failed)
	}
	return l.state, l.err
}
