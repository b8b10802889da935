package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mutrec/internal/ast"
	"github.com/roach88/mutrec/internal/diag"
	"github.com/roach88/mutrec/internal/ir"
	"github.com/roach88/mutrec/internal/render"
	"github.com/roach88/mutrec/internal/zset"
)

// reachCount counts the pairs of the transitive closure of edges.
func reachCount() *ast.With {
	step := &ast.Select{
		Items: []ast.SelectItem{item(col("r", "src"), "src"), item(col("e", "dst"), "dst")},
		From:  []ast.FromItem{&ast.TableRef{Name: "reach", Alias: "r"}, &ast.TableRef{Name: "edges", Alias: "e"}},
		Where: bin(ast.OpEq, col("r", "dst"), col("e", "src")),
	}
	return &ast.With{
		Recursive: true,
		Bindings: []ast.CTE{{
			Name:    "reach",
			Columns: []ast.ColumnDef{{Name: "src", Type: "int"}, {Name: "dst", Type: "int"}},
			Query: &ast.SetOp{Op: ast.Union, Inputs: []ast.Query{
				&ast.Select{Items: []ast.SelectItem{{Star: true}}, From: from("edges")},
				step,
			}},
		}},
		Body: countOf("reach", false),
	}
}

// reachAndCount joins two independent loops. The second declares a limit so
// the planner keeps it in its own block.
func reachAndCount() ast.Query {
	return &ast.Select{
		Items: []ast.SelectItem{{Star: true}},
		From: []ast.FromItem{
			&ast.Subquery{Alias: "x", Query: reachCount()},
			&ast.Subquery{Alias: "y", Query: countTo(100, ast.RecursionOptions{Limit: 1000})},
		},
	}
}

func edges(pairs ...[2]int64) zset.Batch {
	rows := make([]ir.Row, len(pairs))
	for i, p := range pairs {
		rows[i] = ir.NewRow(p[0], p[1])
	}
	return zset.FromRows(rows...)
}

func TestSession_Apply(t *testing.T) {
	prog := compile(t, reachAndCount())
	require.Len(t, prog.Loops, 2)

	s := New(WithWorkers(2)).NewSession(prog, map[string]zset.Batch{
		"edges": edges([2]int64{1, 2}, [2]int64{2, 3}),
	})
	ctx := context.Background()

	first, err := s.Apply(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Epoch)
	assert.Equal(t, zset.FromRows(ir.NewRow(3, 5050)), first.Rows)
	assert.Equal(t, first.Rows, first.Changes, "the first epoch reports the whole result")
	assert.Zero(t, first.Stats.Reused)

	second, err := s.Apply(ctx, map[string]zset.Batch{"edges": edges([2]int64{3, 4})})
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.Epoch)
	assert.Equal(t, zset.FromRows(ir.NewRow(6, 5050)), second.Rows)
	assert.ElementsMatch(t, zset.Batch{
		{Row: ir.NewRow(3, 5050), Diff: -1},
		{Row: ir.NewRow(6, 5050), Diff: 1},
	}, second.Changes)
	assert.Equal(t, 1, second.Stats.Reused, "the loop that does not read edges is reused")

	third, err := s.Apply(ctx, map[string]zset.Batch{"edges": nil})
	require.NoError(t, err)
	assert.Equal(t, int64(3), third.Epoch)
	assert.Empty(t, third.Changes)
	assert.Equal(t, second.Rows, s.Rows())
	assert.Equal(t, int64(3), s.Epoch())
}

func TestSession_Retraction(t *testing.T) {
	prog := compile(t, reachCount())
	s := New().NewSession(prog, map[string]zset.Batch{
		"edges": edges([2]int64{1, 2}, [2]int64{2, 3}, [2]int64{3, 4}),
	})
	ctx := context.Background()

	_, err := s.Apply(ctx, nil)
	require.NoError(t, err)

	res, err := s.Apply(ctx, map[string]zset.Batch{
		"edges": zset.Negate(edges([2]int64{2, 3})),
	})
	require.NoError(t, err)
	assert.Equal(t, zset.FromRows(ir.NewRow(2)), res.Rows, "only 1->2 and 3->4 remain")
}

func TestSession_NegativeMultiplicity(t *testing.T) {
	prog := compile(t, reachCount())
	s := New().NewSession(prog, map[string]zset.Batch{"edges": edges([2]int64{1, 2})})
	ctx := context.Background()

	before, err := s.Apply(ctx, nil)
	require.NoError(t, err)

	_, err = s.Apply(ctx, map[string]zset.Batch{"edges": zset.Negate(edges([2]int64{5, 6}))})
	require.Error(t, err)
	assert.Equal(t, diag.EvaluationFailure, diag.CodeOf(err))
	assert.Equal(t, int64(1), s.Epoch(), "a failed apply does not advance the epoch")
	assert.Equal(t, before.Rows, s.Rows())
}

// chain links 1 -> 2 -> ... -> n+1.
func chain(n int64) zset.Batch {
	pairs := make([][2]int64, n)
	for i := range n {
		pairs[i] = [2]int64{i + 1, i + 2}
	}
	return edges(pairs...)
}

func TestSession_InsertResumesMonotoneLoop(t *testing.T) {
	prog := compile(t, reachCount())
	require.True(t, prog.Loops[0].Monotone)

	s := New(WithWorkers(3)).NewSession(prog, map[string]zset.Batch{"edges": chain(40)})
	ctx := context.Background()

	first, err := s.Apply(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, zset.FromRows(ir.NewRow(820)), first.Rows)

	second, err := s.Apply(ctx, map[string]zset.Batch{"edges": edges([2]int64{100, 101})})
	require.NoError(t, err)
	assert.Equal(t, zset.FromRows(ir.NewRow(821)), second.Rows)
	assert.Less(t, second.Stats.Rounds, first.Stats.Rounds, "inserts resume from the previous fixpoint")
	assert.Equal(t, int64(2), second.Stats.Rounds)

	fresh, _, err := New().Evaluate(ctx, prog, render.InputMap{
		"edges": zset.Concat(chain(40), edges([2]int64{100, 101})),
	})
	require.NoError(t, err)
	assert.True(t, zset.Equal(fresh, second.Rows))
}

func TestSession_RetractionRestartsFromSeeds(t *testing.T) {
	prog := compile(t, reachCount())
	s := New().NewSession(prog, map[string]zset.Batch{"edges": chain(10)})
	ctx := context.Background()

	first, err := s.Apply(ctx, nil)
	require.NoError(t, err)

	// Replacing an edge retracts one row; the loop restarts.
	second, err := s.Apply(ctx, map[string]zset.Batch{
		"edges": zset.Concat(zset.Negate(edges([2]int64{10, 11})), edges([2]int64{10, 12})),
	})
	require.NoError(t, err)
	assert.Equal(t, zset.FromRows(ir.NewRow(55)), second.Rows)
	assert.Equal(t, first.Stats.Rounds, second.Stats.Rounds)
}
