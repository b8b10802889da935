package engine

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/roach88/mutrec/internal/diag"
	"github.com/roach88/mutrec/internal/plan"
	"github.com/roach88/mutrec/internal/render"
	"github.com/roach88/mutrec/internal/zset"
)

// Session keeps a program's inputs and result across input changes.
//
// Each Apply advances the session epoch. Top-level loops whose inputs did
// not change reuse the result cached at the previous epoch. A monotone loop
// whose changed inputs only gained rows resumes from its previous converged
// states, which lie below the new fixpoint. Every other loop is recomputed
// from its seeds.
type Session struct {
	engine *Engine
	prog   *render.Program
	clock  *Clock

	mu      sync.Mutex
	started bool
	inputs  render.InputMap
	rows    zset.Batch
	cache   map[*render.Loop]cachedLoop
}

// cachedLoop is a top-level loop's outcome at the last epoch.
type cachedLoop struct {
	rows   zset.Batch
	states map[plan.LocalID]zset.Batch
}

// Result is the outcome of one Apply.
type Result struct {
	Epoch int64
	// Rows is the full consolidated result at Epoch.
	Rows zset.Batch
	// Changes is the difference from the result at the previous epoch.
	Changes zset.Batch
	Stats   Stats
}

// NewSession creates a session over prog starting from inputs. Nothing is
// evaluated until the first Apply.
func (e *Engine) NewSession(prog *render.Program, inputs map[string]zset.Batch) *Session {
	s := &Session{
		engine: e,
		prog:   prog,
		clock:  NewClock(),
		inputs: make(render.InputMap, len(inputs)),
		cache:  make(map[*render.Loop]cachedLoop),
	}
	for name, b := range inputs {
		s.inputs[name] = zset.Consolidate(b)
	}
	return s
}

// Epoch returns the epoch of the last successful Apply.
func (s *Session) Epoch() int64 {
	return s.clock.Current()
}

// Rows returns the result at the current epoch.
func (s *Session) Rows() zset.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows
}

// Apply folds updates into the session inputs and brings the result up to
// date. A failed Apply leaves the session at its previous epoch.
func (s *Session) Apply(ctx context.Context, updates map[string]zset.Batch) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := maps.Clone(s.inputs)
	changed := make(map[string]bool)
	// inserted marks changed inputs whose delta holds no retraction.
	inserted := make(map[string]bool)
	for _, name := range slices.Sorted(maps.Keys(updates)) {
		delta := zset.Consolidate(updates[name])
		if len(delta) == 0 {
			continue
		}
		merged := zset.Consolidate(zset.Concat(next[name], delta))
		for _, u := range merged {
			if u.Diff < 0 {
				return nil, diag.Errorf(diag.EvaluationFailure,
					"update would leave relation %q with a negative multiplicity for row %s", name, u.Row)
			}
		}
		next[name] = merged
		changed[name] = true
		inserted[name] = !slices.ContainsFunc(delta, func(u zset.Update) bool { return u.Diff < 0 })
	}

	if s.started && len(changed) == 0 {
		epoch := s.clock.Next()
		return &Result{Epoch: epoch, Rows: s.rows}, nil
	}

	epoch := s.clock.Current() + 1
	cache := make(map[*render.Loop]cachedLoop, len(s.cache))
	var cacheMu sync.Mutex
	keep := func(def *render.Loop, rows zset.Batch, states map[plan.LocalID]zset.Batch) {
		cacheMu.Lock()
		cache[def] = cachedLoop{rows: rows, states: states}
		cacheMu.Unlock()
	}
	r := &runner{
		engine: s.engine,
		epoch:  epoch,
		keep:   keep,
		reuse: func(def *render.Loop) (zset.Batch, bool) {
			prev, ok := s.cache[def]
			if !s.started || !ok {
				return nil, false
			}
			for _, name := range def.Inputs {
				if changed[name] {
					return nil, false
				}
			}
			// Reused loops are kept too.
			keep(def, prev.rows, prev.states)
			return prev.rows, true
		},
		resume: func(def *render.Loop) (map[plan.LocalID]zset.Batch, bool) {
			prev, ok := s.cache[def]
			if !s.started || !ok || !def.Monotone {
				return nil, false
			}
			for _, name := range def.Inputs {
				if changed[name] && !inserted[name] {
					return nil, false
				}
			}
			return prev.states, true
		},
	}

	rows, stats, err := r.evaluate(ctx, s.prog, next)
	if err != nil {
		return nil, err
	}

	s.clock.Next()
	changes := zset.Delta(rows, s.rows)
	s.inputs = next
	s.rows = rows
	s.cache = cache
	s.started = true
	s.engine.logger.Debug("session advanced",
		"epoch", epoch,
		"changed_inputs", slices.Sorted(maps.Keys(changed)),
		"changes", len(changes),
	)
	return &Result{Epoch: epoch, Rows: rows, Changes: changes, Stats: stats}, nil
}
