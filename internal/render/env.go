package render

import (
	"context"
	"maps"
	"slices"

	"github.com/roach88/mutrec/internal/diag"
	"github.com/roach88/mutrec/internal/ir"
	"github.com/roach88/mutrec/internal/plan"
	"github.com/roach88/mutrec/internal/zset"
)

// Node is an executable operator.
type Node interface {
	Eval(env *Env) (zset.Batch, error)
}

// Inputs provides the catalog relations a program reads.
type Inputs interface {
	Relation(name string) (zset.Batch, bool)
}

// InputMap is an Inputs backed by a map.
type InputMap map[string]zset.Batch

// Relation implements Inputs.
func (m InputMap) Relation(name string) (zset.Batch, bool) {
	b, ok := m[name]
	return b, ok
}

// LoopRunner iterates a loop to its result.
type LoopRunner interface {
	RunLoop(env *Env, loop *Loop) (zset.Batch, error)
}

// Exchange connects the workers that evaluate a loop round together.
//
// Every worker evaluates the same operator tree over its own shards.
// Operators that combine rows by key first exchange their input, so all rows
// of one key meet on one worker. Calls are collective: every worker makes the
// same calls in the same order, and a call returns once every worker made it.
type Exchange interface {
	// Worker returns the calling worker's index.
	Worker() int
	// Workers returns the number of workers.
	Workers() int
	// Exchange sends every row of b to the worker owning key(row) and
	// returns the rows the calling worker owns.
	Exchange(ctx context.Context, b zset.Batch, key func(ir.Row) ir.Row) (zset.Batch, error)
}

// ByRow keys a row by its whole contents.
func ByRow(r ir.Row) ir.Row { return r }

// ByColumns keys rows by the given columns. No columns make one key.
func ByColumns(cols []int) func(ir.Row) ir.Row {
	return func(r ir.Row) ir.Row {
		key := make(ir.Row, len(cols))
		for i, c := range cols {
			key[i] = r[c]
		}
		return key
	}
}

// Env is the evaluation environment of a node.
type Env struct {
	Ctx    context.Context
	Inputs Inputs
	Frame  *Frame
	Loops  LoopRunner
	// Exchange is set when the node runs on one of several workers. Its
	// frames and inputs then hold only the worker's shard.
	Exchange Exchange
}

// exchange routes b by key among the workers. It returns b unchanged when
// the environment is not sharded.
func (env *Env) exchange(b zset.Batch, key func(ir.Row) ir.Row) (zset.Batch, error) {
	if env.Exchange == nil || env.Exchange.Workers() == 1 {
		return b, nil
	}
	ctx := env.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	return env.Exchange.Exchange(ctx, b, key)
}

// owns reports whether the calling worker owns key. Rows produced from no
// input (constants, the row of a global aggregate over nothing) are emitted
// only by their owner.
func (env *Env) owns(key ir.Row) bool {
	if env.Exchange == nil {
		return true
	}
	return zset.Owner(key, env.Exchange.Workers()) == env.Exchange.Worker()
}

// WithFrame returns a copy of env reading binding states from f.
func (env *Env) WithFrame(f *Frame) *Env {
	cp := *env
	cp.Frame = f
	return &cp
}

// Frame is the feedback handle table of one loop, chained to the frames of
// enclosing loops. A frame is never mutated after it is built; a new round
// gets a new frame.
type Frame struct {
	parent *Frame
	states map[plan.LocalID]zset.Batch
}

// NewFrame creates a frame holding states on top of parent.
func NewFrame(parent *Frame, states map[plan.LocalID]zset.Batch) *Frame {
	return &Frame{parent: parent, states: states}
}

// Lookup finds the current state of a binding, innermost frame first.
func (f *Frame) Lookup(id plan.LocalID) (zset.Batch, bool) {
	for fr := f; fr != nil; fr = fr.parent {
		if b, ok := fr.states[id]; ok {
			return b, true
		}
	}
	return nil, false
}

// Partition returns a copy of the frame chain holding only the rows worker
// owns among n workers.
func (f *Frame) Partition(worker, n int) *Frame {
	if f == nil {
		return nil
	}
	states := make(map[plan.LocalID]zset.Batch, len(f.states))
	for id, b := range f.states {
		states[id] = zset.Shard(b, n)[worker]
	}
	return &Frame{parent: f.parent.Partition(worker, n), states: states}
}

// Parent returns the enclosing frame.
func (f *Frame) Parent() *Frame {
	if f == nil {
		return nil
	}
	return f.parent
}

func (env *Env) checkCanceled() error {
	if env.Ctx == nil {
		return nil
	}
	return env.Ctx.Err()
}

type getLocal struct {
	id   plan.LocalID
	name string
}

func (g *getLocal) Eval(env *Env) (zset.Batch, error) {
	b, ok := env.Frame.Lookup(g.id)
	if !ok {
		return nil, diag.Errorf(diag.EvaluationFailure, "binding %s (%s) has no state", g.id, g.name)
	}
	return b, nil
}

type getGlobal struct {
	name string
}

func (g *getGlobal) Eval(env *Env) (zset.Batch, error) {
	if env.Inputs == nil {
		return nil, diag.RelationNotFound(g.name)
	}
	b, ok := env.Inputs.Relation(g.name)
	if !ok {
		return nil, diag.RelationNotFound(g.name)
	}
	if ex := env.Exchange; ex != nil && ex.Workers() > 1 {
		return zset.Shard(b, ex.Workers())[ex.Worker()], nil
	}
	return b, nil
}

func sortedNames(set map[string]bool) []string {
	return slices.Sorted(maps.Keys(set))
}
