// Package catalog describes the base relations a query may read.
//
// Catalog answers name and type questions during resolution. Source provides
// the current contents of a relation during evaluation. The in-memory
// implementation serves tests and query documents that carry their own
// tables; package store provides a SQLite-backed implementation.
package catalog

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/roach88/mutrec/internal/ir"
	"github.com/roach88/mutrec/internal/zset"
)

// Catalog resolves relation names to types.
type Catalog interface {
	Relation(name string) (ir.RelationType, bool)
}

// Source provides relation contents.
type Source interface {
	Snapshot(ctx context.Context, name string) (zset.Batch, error)
}

// Table is an in-memory base relation.
type Table struct {
	Name string
	Type ir.RelationType
	Rows zset.Batch
}

// Memory is an in-memory Catalog and Source. It is safe for concurrent use.
type Memory struct {
	mu     sync.RWMutex
	tables map[string]*Table
}

// NewMemory creates an empty in-memory catalog.
func NewMemory() *Memory {
	return &Memory{tables: make(map[string]*Table)}
}

// Define registers a relation. Redefining an existing relation replaces its
// type and clears its rows.
func (m *Memory) Define(name string, typ ir.RelationType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[name] = &Table{Name: name, Type: typ, Rows: zset.Batch{}}
}

// Insert adds rows with multiplicity one.
func (m *Memory) Insert(name string, rows ...ir.Row) error {
	return m.Update(name, zset.FromRows(rows...))
}

// Update applies updates to a relation and consolidates its contents.
// Every row is checked against the relation type.
func (m *Memory) Update(name string, updates zset.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[name]
	if !ok {
		return fmt.Errorf("relation %q does not exist", name)
	}
	for _, u := range updates {
		if err := t.Type.Check(u.Row); err != nil {
			return fmt.Errorf("relation %q: %w", name, err)
		}
	}
	t.Rows = zset.Consolidate(zset.Concat(t.Rows, updates))
	return nil
}

// Relation implements Catalog.
func (m *Memory) Relation(name string) (ir.RelationType, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tables[name]
	if !ok {
		return ir.RelationType{}, false
	}
	return t.Type, true
}

// Snapshot implements Source. The returned batch is a copy.
func (m *Memory) Snapshot(_ context.Context, name string) (zset.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tables[name]
	if !ok {
		return nil, fmt.Errorf("relation %q does not exist", name)
	}
	return slices.Clone(t.Rows), nil
}

// Names returns the defined relation names in sorted order.
func (m *Memory) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.tables))
	for n := range m.tables {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Layered resolves names against each catalog in order.
type Layered []Catalog

// Relation implements Catalog.
func (l Layered) Relation(name string) (ir.RelationType, bool) {
	for _, c := range l {
		if t, ok := c.Relation(name); ok {
			return t, true
		}
	}
	return ir.RelationType{}, false
}

// LayeredSource reads each relation from the first catalog that defines it.
type LayeredSource struct {
	Catalogs []Catalog
	Sources  []Source
}

// Snapshot implements Source.
func (l LayeredSource) Snapshot(ctx context.Context, name string) (zset.Batch, error) {
	for i, c := range l.Catalogs {
		if _, ok := c.Relation(name); ok {
			return l.Sources[i].Snapshot(ctx, name)
		}
	}
	return nil, fmt.Errorf("relation %q does not exist", name)
}
