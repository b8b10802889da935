package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/roach88/mutrec/internal/ir"
	"github.com/roach88/mutrec/internal/zset"
)

// message carries the rows one worker routed to another worker (or itself)
// in one exchange.
type message struct {
	from int
	rows zset.Batch
}

// mailbox is a worker's inbox for one exchange.
//
// Any worker may post before the exchange's first barrier; only the owner
// drains, after it.
type mailbox struct {
	mu       sync.Mutex
	messages []message
	closed   bool
}

func newMailbox() *mailbox {
	return &mailbox{messages: make([]message, 0, 8)}
}

// Post adds a message. Returns false if the mailbox is closed.
func (m *mailbox) Post(msg message) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}
	m.messages = append(m.messages, msg)
	return true
}

// Drain removes and returns every message.
func (m *mailbox) Drain() []message {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := m.messages
	m.messages = make([]message, 0, cap(out))
	return out
}

// Len returns the number of pending messages.
func (m *mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

// Close rejects further posts and drops pending messages.
func (m *mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.messages = nil
}

// barrier blocks callers until n of them arrived. It is reusable: the
// release of one generation starts the next.
type barrier struct {
	mu      sync.Mutex
	n       int
	waiting int
	release chan struct{}
}

func newBarrier(n int) *barrier {
	return &barrier{n: n, release: make(chan struct{})}
}

// Wait blocks until every party arrived or ctx is done.
func (b *barrier) Wait(ctx context.Context) error {
	b.mu.Lock()
	release := b.release
	b.waiting++
	if b.waiting == b.n {
		b.waiting = 0
		b.release = make(chan struct{})
		b.mu.Unlock()
		close(release)
		return nil
	}
	b.mu.Unlock()

	select {
	case <-release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var errFabricClosed = errors.New("exchange closed")

// fabric connects the workers of one loop. Workers only ever share rows
// through it.
//
// An exchange spans two barriers: every worker posts its parts, waits,
// drains its own mailbox and waits again, so no post of the next exchange
// lands before the drain of this one.
type fabric struct {
	inboxes   []*mailbox
	barrier   *barrier
	sums      []int64
	exchanged atomic.Int64
}

func newFabric(workers int) *fabric {
	f := &fabric{
		inboxes: make([]*mailbox, workers),
		barrier: newBarrier(workers),
		sums:    make([]int64, workers),
	}
	for i := range f.inboxes {
		f.inboxes[i] = newMailbox()
	}
	return f
}

func (f *fabric) endpoint(worker int) *endpoint {
	return &endpoint{fabric: f, id: worker}
}

func (f *fabric) close() {
	for _, m := range f.inboxes {
		m.Close()
	}
}

// endpoint is one worker's side of a fabric. It implements render.Exchange.
type endpoint struct {
	fabric *fabric
	id     int
}

func (p *endpoint) Worker() int  { return p.id }
func (p *endpoint) Workers() int { return len(p.fabric.inboxes) }

// Exchange routes b by key and returns the rows the worker owns.
func (p *endpoint) Exchange(ctx context.Context, b zset.Batch, key func(ir.Row) ir.Row) (zset.Batch, error) {
	f := p.fabric
	if len(f.inboxes) == 1 {
		return b, nil
	}
	for to, part := range zset.ShardBy(b, len(f.inboxes), key) {
		if len(part) == 0 {
			continue
		}
		if !f.inboxes[to].Post(message{from: p.id, rows: part}) {
			return nil, errFabricClosed
		}
		if to != p.id {
			f.exchanged.Add(int64(len(part)))
		}
	}
	if err := f.barrier.Wait(ctx); err != nil {
		return nil, err
	}
	msgs := f.inboxes[p.id].Drain()
	if err := f.barrier.Wait(ctx); err != nil {
		return nil, err
	}
	parts := make([]zset.Batch, len(msgs))
	for i, msg := range msgs {
		parts[i] = msg.rows
	}
	return zset.Concat(parts...), nil
}

// sum adds v across all workers. Every worker gets the same total.
func (p *endpoint) sum(ctx context.Context, v int64) (int64, error) {
	f := p.fabric
	if len(f.inboxes) == 1 {
		return v, nil
	}
	f.sums[p.id] = v
	if err := f.barrier.Wait(ctx); err != nil {
		return 0, err
	}
	var total int64
	for _, s := range f.sums {
		total += s
	}
	if err := f.barrier.Wait(ctx); err != nil {
		return 0, err
	}
	return total, nil
}
