package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/mutrec/internal/ir"
	"github.com/roach88/mutrec/internal/zset"
)

func TestMailbox_PostDrain(t *testing.T) {
	m := newMailbox()

	require.True(t, m.Post(message{from: 0, rows: zset.FromRows(ir.NewRow(1))}))
	require.True(t, m.Post(message{from: 1, rows: zset.FromRows(ir.NewRow(2))}))
	assert.Equal(t, 2, m.Len())

	got := m.Drain()
	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0].from, "messages are drained in posting order")
	assert.Equal(t, 0, m.Len(), "drain empties the mailbox")
	assert.Empty(t, m.Drain())
}

func TestMailbox_Closed(t *testing.T) {
	m := newMailbox()
	m.Close()

	ok := m.Post(message{from: 1})
	assert.False(t, ok, "post after close should fail")
	assert.Equal(t, 0, m.Len())
}

func TestMailbox_ConcurrentPost(t *testing.T) {
	m := newMailbox()
	const senders = 8
	const each = 100

	var wg sync.WaitGroup
	for i := range senders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range each {
				m.Post(message{from: i, rows: zset.FromRows(ir.NewRow(int64(j)))})
			}
		}()
	}
	wg.Wait()

	assert.Len(t, m.Drain(), senders*each)
}

func TestBarrier_CancelReleasesWaiter(t *testing.T) {
	b := newBarrier(2)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := b.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFabric_ExchangeRoutesByKey(t *testing.T) {
	const workers = 3
	f := newFabric(workers)
	got := make([]zset.Batch, workers)

	g, ctx := errgroup.WithContext(context.Background())
	for w := range workers {
		g.Go(func() error {
			ep := f.endpoint(w)
			// Every worker holds the same three keys, one row per worker.
			var in zset.Batch
			for k := range int64(3) {
				in = append(in, zset.Update{Row: ir.NewRow(k, int64(w)), Diff: 1})
			}
			out, err := ep.Exchange(ctx, in, func(r ir.Row) ir.Row { return r[:1] })
			got[w] = out
			return err
		})
	}
	require.NoError(t, g.Wait())

	total := 0
	for w, part := range got {
		total += len(part)
		for _, u := range part {
			assert.Equal(t, w, zset.Owner(u.Row[:1], workers), "row %v landed off its owner", u.Row)
		}
	}
	assert.Equal(t, 9, total, "exchange neither drops nor duplicates rows")
	assert.Positive(t, f.exchanged.Load())
}

func TestFabric_SumAgrees(t *testing.T) {
	const workers = 4
	f := newFabric(workers)
	got := make([]int64, workers)

	g, ctx := errgroup.WithContext(context.Background())
	for w := range workers {
		g.Go(func() error {
			ep := f.endpoint(w)
			var err error
			// Two rounds in a row reuse the barrier.
			if _, err = ep.sum(ctx, 1); err != nil {
				return err
			}
			got[w], err = ep.sum(ctx, int64(w))
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, []int64{6, 6, 6, 6}, got)
}
