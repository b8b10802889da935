package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mutrec/internal/catalog"
	"github.com/roach88/mutrec/internal/ir"
	"github.com/roach88/mutrec/internal/zset"
)

var (
	_ catalog.Catalog = (*Store)(nil)
	_ catalog.Source  = (*Store)(nil)
)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var edgesType = ir.NewRelationType(
	ir.Column{Name: "src", Type: ir.TypeInt},
	ir.Column{Name: "dst", Type: ir.TypeInt},
)

func edges(pairs ...[2]int64) zset.Batch {
	rows := make([]ir.Row, len(pairs))
	for i, p := range pairs {
		rows[i] = ir.NewRow(p[0], p[1])
	}
	return zset.FromRows(rows...)
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file should be created")
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err, "Open() iteration %d", i)

		var version int
		require.NoError(t, s.db.QueryRow("PRAGMA user_version").Scan(&version))
		assert.Equal(t, currentSchemaVersion, version)
		s.Close()
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("foreign_keys", "1"))
	assert.NoError(t, s.verifyPragma("busy_timeout", "5000"))
}

func TestClose_Nil(t *testing.T) {
	var s Store
	assert.NoError(t, s.Close())
}

func TestDefineRelation(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.DefineRelation(ctx, "edges", edgesType))
	require.NoError(t, s.DefineRelation(ctx, "edges", edgesType), "redefining with the same columns is a no-op")

	typ, ok := s.Relation("edges")
	require.True(t, ok)
	assert.Equal(t, []string{"src", "dst"}, typ.Names())
	assert.Equal(t, []ir.ScalarType{ir.TypeInt, ir.TypeInt}, typ.Types())

	err := s.DefineRelation(ctx, "edges", ir.NewRelationType(ir.Column{Name: "src", Type: ir.TypeText}))
	assert.ErrorContains(t, err, `"edges" already exists with columns (src int, dst int)`)

	_, ok = s.Relation("missing")
	assert.False(t, ok)

	names, err := s.Relations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"edges"}, names)
}

func TestAppendUpdatesAndSnapshot(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.DefineRelation(ctx, "edges", edgesType))

	seq1, err := s.AppendUpdates(ctx, "edges", edges([2]int64{1, 2}, [2]int64{2, 3}, [2]int64{1, 2}))
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq1)

	seq2, err := s.AppendUpdates(ctx, "edges", zset.Concat(
		zset.Negate(edges([2]int64{2, 3})),
		edges([2]int64{3, 4}),
	))
	require.NoError(t, err)
	assert.Equal(t, int64(2), seq2)

	latest, err := s.Snapshot(ctx, "edges")
	require.NoError(t, err)
	assert.ElementsMatch(t, zset.Batch{
		{Row: ir.NewRow(1, 2), Diff: 2},
		{Row: ir.NewRow(3, 4), Diff: 1},
	}, latest)

	first, err := s.SnapshotAt(ctx, "edges", seq1)
	require.NoError(t, err)
	assert.ElementsMatch(t, zset.Batch{
		{Row: ir.NewRow(1, 2), Diff: 2},
		{Row: ir.NewRow(2, 3), Diff: 1},
	}, first)

	seq, err := s.LatestSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), seq)

	same, err := s.AppendUpdates(ctx, "edges", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), same, "an empty batch does not advance the log")
}

func TestAppendUpdatesRejects(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.DefineRelation(ctx, "edges", edgesType))

	_, err := s.AppendUpdates(ctx, "nodes", edges([2]int64{1, 2}))
	assert.ErrorContains(t, err, `relation "nodes" does not exist`)

	_, err = s.AppendUpdates(ctx, "edges", zset.FromRows(ir.NewRow("a", 1)))
	assert.ErrorContains(t, err, `relation "edges"`)

	seq, err := s.LatestSeq(ctx)
	require.NoError(t, err)
	assert.Zero(t, seq, "rejected batches leave no trace")

	_, err = s.Snapshot(ctx, "nodes")
	assert.True(t, IsNotFound(err))
}

func TestUpdatesSince(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.DefineRelation(ctx, "edges", edgesType))
	require.NoError(t, s.DefineRelation(ctx, "labels", ir.NewRelationType(
		ir.Column{Name: "id", Type: ir.TypeInt},
		ir.Column{Name: "label", Type: ir.TypeText},
	)))

	_, err := s.AppendUpdates(ctx, "edges", edges([2]int64{1, 2}))
	require.NoError(t, err)
	_, err = s.AppendUpdates(ctx, "labels", zset.FromRows(ir.NewRow(1, "a"), ir.NewRow(2, nil)))
	require.NoError(t, err)
	_, err = s.AppendUpdates(ctx, "edges", zset.Negate(edges([2]int64{1, 2})))
	require.NoError(t, err)

	changes, err := s.UpdatesSince(ctx, 1)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, int64(2), changes[0].Seq)
	assert.Equal(t, "labels", changes[0].Relation)
	assert.Len(t, changes[0].Updates, 2)
	assert.Equal(t, zset.Batch{{Row: ir.NewRow(1, 2), Diff: -1}}, changes[1].Updates)

	none, err := s.UpdatesSince(ctx, 3)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRuns(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"run-a", "run-b", "run-c"} {
		require.NoError(t, s.RecordRun(ctx, Run{
			ID:          id,
			Fingerprint: "fp",
			Seq:         int64(i),
			Status:      "converged",
			Rounds:      101,
			Rows:        1,
			Duration:    1500 * time.Microsecond,
		}))
	}
	require.NoError(t, s.RecordRun(ctx, Run{ID: "run-a", Status: "failed"}), "duplicate ids are ignored")

	runs, err := s.Runs(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-b", runs[0].ID)
	assert.Equal(t, "run-c", runs[1].ID)
	assert.Equal(t, 1500*time.Microsecond, runs[1].Duration)

	all, err := s.Runs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "converged", all[0].Status)
}
