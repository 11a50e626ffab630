// Package memory provides a mutex-guarded in-memory implementation of the
// adapter contract. It backs tests and development setups; production
// deployments supply a database-specific adapter instead.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/authcore-dev/authcore/adapter"
)

// uniqueKeys lists the field groups that must be unique per model. The
// engine's replay guards depend on the "verification" identifier constraint
// being enforced atomically with the insert.
var uniqueKeys = map[string][][]string{
	"user":         {{"email"}},
	"session":      {{"token"}},
	"account":      {{"providerId", "accountId"}},
	"verification": {{"identifier"}},
}

// Adapter is an in-memory [adapter.Adapter]. The zero value is not usable;
// construct with [New].
type Adapter struct {
	mu     sync.Mutex
	tables map[string][]adapter.Row
	seq    int64
}

// New creates an empty in-memory adapter.
func New() *Adapter {
	return &Adapter{tables: make(map[string][]adapter.Row)}
}

// Create inserts a row, enforcing the model's unique field groups.
func (a *Adapter) Create(ctx context.Context, model string, data adapter.Row) (adapter.Row, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.createLocked(model, data)
}

func (a *Adapter) createLocked(model string, data adapter.Row) (adapter.Row, error) {
	for _, group := range uniqueKeys[model] {
		for _, existing := range a.tables[model] {
			match := true
			for _, field := range group {
				if !equalValues(existing[field], data[field]) {
					match = false
					break
				}
			}
			if match {
				return nil, fmt.Errorf("%w: %s %s", adapter.ErrUniqueViolation, model, strings.Join(group, "+"))
			}
		}
	}

	row := cloneRow(data)
	if _, ok := row["id"]; !ok {
		a.seq++
		row["id"] = fmt.Sprintf("mem_%d", a.seq)
	}
	a.tables[model] = append(a.tables[model], row)
	return cloneRow(row), nil
}

// FindOne returns the first matching row or [adapter.ErrNotFound].
func (a *Adapter) FindOne(ctx context.Context, model string, where []adapter.Where) (adapter.Row, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, row := range a.tables[model] {
		if matches(row, where) {
			return cloneRow(row), nil
		}
	}
	return nil, adapter.ErrNotFound
}

// FindMany returns all matching rows, optionally sorted and limited.
func (a *Adapter) FindMany(ctx context.Context, model string, where []adapter.Where, limit int, sortBy *adapter.SortBy) ([]adapter.Row, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []adapter.Row
	for _, row := range a.tables[model] {
		if matches(row, where) {
			out = append(out, cloneRow(row))
		}
	}

	if sortBy != nil {
		desc := strings.EqualFold(sortBy.Direction, "desc")
		sort.SliceStable(out, func(i, j int) bool {
			less := compareValues(out[i][sortBy.Field], out[j][sortBy.Field]) < 0
			if desc {
				return !less
			}
			return less
		})
	}

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Count returns the number of matching rows.
func (a *Adapter) Count(ctx context.Context, model string, where []adapter.Where) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := 0
	for _, row := range a.tables[model] {
		if matches(row, where) {
			n++
		}
	}
	return n, nil
}

// Update mutates the first matching row and returns the updated copy.
func (a *Adapter) Update(ctx context.Context, model string, where []adapter.Where, data adapter.Row) (adapter.Row, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, row := range a.tables[model] {
		if matches(row, where) {
			for k, v := range data {
				row[k] = v
			}
			return cloneRow(row), nil
		}
	}
	return nil, adapter.ErrNotFound
}

// UpdateMany mutates every matching row and returns the affected count.
func (a *Adapter) UpdateMany(ctx context.Context, model string, where []adapter.Where, data adapter.Row) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := 0
	for _, row := range a.tables[model] {
		if matches(row, where) {
			for k, v := range data {
				row[k] = v
			}
			n++
		}
	}
	return n, nil
}

// Delete removes the first matching row. Deleting a missing row is not an
// error; single-use consume paths depend on delete being idempotent.
func (a *Adapter) Delete(ctx context.Context, model string, where []adapter.Where) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	rows := a.tables[model]
	for i, row := range rows {
		if matches(row, where) {
			a.tables[model] = append(rows[:i:i], rows[i+1:]...)
			return nil
		}
	}
	return nil
}

// DeleteMany removes every matching row and returns the removed count.
func (a *Adapter) DeleteMany(ctx context.Context, model string, where []adapter.Where) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rows := a.tables[model]
	var kept []adapter.Row
	n := 0
	for _, row := range rows {
		if matches(row, where) {
			n++
			continue
		}
		kept = append(kept, row)
	}
	a.tables[model] = kept
	return n, nil
}

// Transaction runs fn while holding the store lock, making the grouped writes
// atomic with respect to every other adapter call.
func (a *Adapter) Transaction(ctx context.Context, fn func(tx adapter.Adapter) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	snapshot := a.snapshotLocked()
	if err := fn(&txAdapter{a: a}); err != nil {
		a.tables = snapshot
		return err
	}
	return nil
}

func (a *Adapter) snapshotLocked() map[string][]adapter.Row {
	out := make(map[string][]adapter.Row, len(a.tables))
	for model, rows := range a.tables {
		copied := make([]adapter.Row, len(rows))
		for i, row := range rows {
			copied[i] = cloneRow(row)
		}
		out[model] = copied
	}
	return out
}

// txAdapter re-enters the parent without locking; the parent holds the lock
// for the duration of Transaction.
type txAdapter struct {
	a *Adapter
}

func (t *txAdapter) Create(ctx context.Context, model string, data adapter.Row) (adapter.Row, error) {
	return t.a.createLocked(model, data)
}

func (t *txAdapter) FindOne(ctx context.Context, model string, where []adapter.Where) (adapter.Row, error) {
	for _, row := range t.a.tables[model] {
		if matches(row, where) {
			return cloneRow(row), nil
		}
	}
	return nil, adapter.ErrNotFound
}

func (t *txAdapter) FindMany(ctx context.Context, model string, where []adapter.Where, limit int, sortBy *adapter.SortBy) ([]adapter.Row, error) {
	var out []adapter.Row
	for _, row := range t.a.tables[model] {
		if matches(row, where) {
			out = append(out, cloneRow(row))
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *txAdapter) Count(ctx context.Context, model string, where []adapter.Where) (int, error) {
	n := 0
	for _, row := range t.a.tables[model] {
		if matches(row, where) {
			n++
		}
	}
	return n, nil
}

func (t *txAdapter) Update(ctx context.Context, model string, where []adapter.Where, data adapter.Row) (adapter.Row, error) {
	for _, row := range t.a.tables[model] {
		if matches(row, where) {
			for k, v := range data {
				row[k] = v
			}
			return cloneRow(row), nil
		}
	}
	return nil, adapter.ErrNotFound
}

func (t *txAdapter) UpdateMany(ctx context.Context, model string, where []adapter.Where, data adapter.Row) (int, error) {
	n := 0
	for _, row := range t.a.tables[model] {
		if matches(row, where) {
			for k, v := range data {
				row[k] = v
			}
			n++
		}
	}
	return n, nil
}

func (t *txAdapter) Delete(ctx context.Context, model string, where []adapter.Where) error {
	rows := t.a.tables[model]
	for i, row := range rows {
		if matches(row, where) {
			t.a.tables[model] = append(rows[:i:i], rows[i+1:]...)
			return nil
		}
	}
	return nil
}

func (t *txAdapter) DeleteMany(ctx context.Context, model string, where []adapter.Where) (int, error) {
	rows := t.a.tables[model]
	var kept []adapter.Row
	n := 0
	for _, row := range rows {
		if matches(row, where) {
			n++
			continue
		}
		kept = append(kept, row)
	}
	t.a.tables[model] = kept
	return n, nil
}

func (t *txAdapter) Transaction(ctx context.Context, fn func(tx adapter.Adapter) error) error {
	return fn(t)
}

func matches(row adapter.Row, where []adapter.Where) bool {
	if len(where) == 0 {
		return true
	}

	result := clauseMatches(row, where[0])
	for _, w := range where[1:] {
		if w.Connector == adapter.ConnectorOr {
			result = result || clauseMatches(row, w)
		} else {
			result = result && clauseMatches(row, w)
		}
	}
	return result
}

func clauseMatches(row adapter.Row, w adapter.Where) bool {
	value, ok := row[w.Field]
	op := w.Operator
	if op == "" {
		op = adapter.OpEq
	}

	switch op {
	case adapter.OpEq:
		return ok && equalValues(value, w.Value)
	case adapter.OpNe:
		return !ok || !equalValues(value, w.Value)
	case adapter.OpLt:
		return ok && compareValues(value, w.Value) < 0
	case adapter.OpLte:
		return ok && compareValues(value, w.Value) <= 0
	case adapter.OpGt:
		return ok && compareValues(value, w.Value) > 0
	case adapter.OpGte:
		return ok && compareValues(value, w.Value) >= 0
	case adapter.OpIn:
		if !ok {
			return false
		}
		items, isSlice := w.Value.([]any)
		if !isSlice {
			return false
		}
		for _, item := range items {
			if equalValues(value, item) {
				return true
			}
		}
		return false
	case adapter.OpContains:
		s, sok := value.(string)
		sub, subok := w.Value.(string)
		return ok && sok && subok && strings.Contains(s, sub)
	default:
		return false
	}
}

func equalValues(a, b any) bool {
	if at, ok := a.(time.Time); ok {
		bt, ok := b.(time.Time)
		return ok && at.Equal(bt)
	}
	return a == b
}

func compareValues(a, b any) int {
	switch av := a.(type) {
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			switch {
			case av.Before(bv):
				return -1
			case av.After(bv):
				return 1
			default:
				return 0
			}
		}
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv)
		}
	case int:
		if bv, ok := toInt64(b); ok {
			return compareInt64(int64(av), bv)
		}
	case int64:
		if bv, ok := toInt64(b); ok {
			return compareInt64(av, bv)
		}
	case float64:
		if bv, ok := b.(float64); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			default:
				return 0
			}
		}
	}
	return 0
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	default:
		return 0, false
	}
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cloneRow(row adapter.Row) adapter.Row {
	out := make(adapter.Row, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}
