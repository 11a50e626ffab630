package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/authcore-dev/authcore/adapter"
)

func eq(field string, value any) []adapter.Where {
	return []adapter.Where{{Field: field, Value: value}}
}

func mustCreate(t *testing.T, a *Adapter, model string, data adapter.Row) adapter.Row {
	t.Helper()
	row, err := a.Create(context.Background(), model, data)
	if err != nil {
		t.Fatalf("create %s: %v", model, err)
	}
	return row
}

func TestCreateAssignsID(t *testing.T) {
	a := New()

	row := mustCreate(t, a, "user", adapter.Row{"email": "alice@example.com"})
	if row["id"] == nil || row["id"] == "" {
		t.Fatalf("expected generated id, got %v", row["id"])
	}

	withID := mustCreate(t, a, "user", adapter.Row{"id": "fixed", "email": "bob@example.com"})
	if withID["id"] != "fixed" {
		t.Fatalf("explicit id must be kept, got %v", withID["id"])
	}
}

func TestCreateEnforcesUniqueFields(t *testing.T) {
	a := New()
	ctx := context.Background()

	mustCreate(t, a, "user", adapter.Row{"email": "alice@example.com"})
	if _, err := a.Create(ctx, "user", adapter.Row{"email": "alice@example.com"}); !errors.Is(err, adapter.ErrUniqueViolation) {
		t.Fatalf("expected ErrUniqueViolation, got %v", err)
	}

	// Composite key: same provider+account collides, same account under a
	// different provider does not.
	mustCreate(t, a, "account", adapter.Row{"providerId": "github", "accountId": "1"})
	if _, err := a.Create(ctx, "account", adapter.Row{"providerId": "github", "accountId": "1"}); !errors.Is(err, adapter.ErrUniqueViolation) {
		t.Fatalf("expected composite violation, got %v", err)
	}
	mustCreate(t, a, "account", adapter.Row{"providerId": "google", "accountId": "1"})
}

func TestFindOne(t *testing.T) {
	a := New()
	ctx := context.Background()

	mustCreate(t, a, "user", adapter.Row{"email": "alice@example.com", "name": "Alice"})

	row, err := a.FindOne(ctx, "user", eq("email", "alice@example.com"))
	if err != nil || row["name"] != "Alice" {
		t.Fatalf("FindOne = %v, %v", row, err)
	}
	if _, err := a.FindOne(ctx, "user", eq("email", "nobody@example.com")); !errors.Is(err, adapter.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFindOneReturnsCopy(t *testing.T) {
	a := New()
	ctx := context.Background()

	mustCreate(t, a, "user", adapter.Row{"email": "alice@example.com", "name": "Alice"})

	row, _ := a.FindOne(ctx, "user", eq("email", "alice@example.com"))
	row["name"] = "Mutated"

	again, _ := a.FindOne(ctx, "user", eq("email", "alice@example.com"))
	if again["name"] != "Alice" {
		t.Fatal("mutating a returned row must not touch the stored row")
	}
}

func TestFindManyOperators(t *testing.T) {
	a := New()
	ctx := context.Background()

	for i, email := range []string{"a@t.io", "b@t.io", "c@t.io"} {
		mustCreate(t, a, "user", adapter.Row{"email": email, "rank": i})
	}

	rows, err := a.FindMany(ctx, "user", []adapter.Where{{Field: "rank", Operator: adapter.OpGte, Value: 1}}, 0, nil)
	if err != nil || len(rows) != 2 {
		t.Fatalf("gte: %d rows, %v", len(rows), err)
	}

	rows, _ = a.FindMany(ctx, "user", []adapter.Where{{Field: "rank", Operator: adapter.OpNe, Value: 1}}, 0, nil)
	if len(rows) != 2 {
		t.Fatalf("ne: %d rows", len(rows))
	}

	rows, _ = a.FindMany(ctx, "user", []adapter.Where{{Field: "email", Operator: adapter.OpIn, Value: []any{"a@t.io", "c@t.io"}}}, 0, nil)
	if len(rows) != 2 {
		t.Fatalf("in: %d rows", len(rows))
	}

	rows, _ = a.FindMany(ctx, "user", []adapter.Where{{Field: "email", Operator: adapter.OpContains, Value: "@t.io"}}, 0, nil)
	if len(rows) != 3 {
		t.Fatalf("contains: %d rows", len(rows))
	}
}

func TestFindManyOrConnector(t *testing.T) {
	a := New()
	ctx := context.Background()

	mustCreate(t, a, "user", adapter.Row{"email": "a@t.io", "name": "A"})
	mustCreate(t, a, "user", adapter.Row{"email": "b@t.io", "name": "B"})
	mustCreate(t, a, "user", adapter.Row{"email": "c@t.io", "name": "C"})

	rows, err := a.FindMany(ctx, "user", []adapter.Where{
		{Field: "email", Value: "a@t.io"},
		{Field: "email", Value: "c@t.io", Connector: adapter.ConnectorOr},
	}, 0, nil)
	if err != nil || len(rows) != 2 {
		t.Fatalf("or: %d rows, %v", len(rows), err)
	}
}

func TestFindManyLimitAndSort(t *testing.T) {
	a := New()
	ctx := context.Background()

	for _, rank := range []int{3, 1, 2} {
		mustCreate(t, a, "user", adapter.Row{"email": string(rune('a'+rank)) + "@t.io", "rank": rank})
	}

	rows, err := a.FindMany(ctx, "user", nil, 2, &adapter.SortBy{Field: "rank", Direction: "desc"})
	if err != nil || len(rows) != 2 {
		t.Fatalf("limit+sort: %d rows, %v", len(rows), err)
	}
	if rows[0]["rank"] != 3 || rows[1]["rank"] != 2 {
		t.Fatalf("sort order wrong: %v, %v", rows[0]["rank"], rows[1]["rank"])
	}
}

func TestUpdate(t *testing.T) {
	a := New()
	ctx := context.Background()

	mustCreate(t, a, "user", adapter.Row{"email": "alice@example.com", "name": "Alice"})

	row, err := a.Update(ctx, "user", eq("email", "alice@example.com"), adapter.Row{"name": "Alicia"})
	if err != nil || row["name"] != "Alicia" {
		t.Fatalf("Update = %v, %v", row, err)
	}

	again, _ := a.FindOne(ctx, "user", eq("email", "alice@example.com"))
	if again["name"] != "Alicia" {
		t.Fatal("update must persist")
	}

	if _, err := a.Update(ctx, "user", eq("email", "nobody@example.com"), adapter.Row{"name": "X"}); !errors.Is(err, adapter.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateMany(t *testing.T) {
	a := New()
	ctx := context.Background()

	mustCreate(t, a, "session", adapter.Row{"token": "t1", "userId": "u1"})
	mustCreate(t, a, "session", adapter.Row{"token": "t2", "userId": "u1"})
	mustCreate(t, a, "session", adapter.Row{"token": "t3", "userId": "u2"})

	n, err := a.UpdateMany(ctx, "session", eq("userId", "u1"), adapter.Row{"flag": true})
	if err != nil || n != 2 {
		t.Fatalf("UpdateMany = %d, %v", n, err)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	a := New()
	ctx := context.Background()

	mustCreate(t, a, "session", adapter.Row{"token": "t1"})

	if err := a.Delete(ctx, "session", eq("token", "t1")); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := a.Delete(ctx, "session", eq("token", "t1")); err != nil {
		t.Fatalf("second delete must be a no-op: %v", err)
	}
	if _, err := a.FindOne(ctx, "session", eq("token", "t1")); !errors.Is(err, adapter.ErrNotFound) {
		t.Fatal("row must be gone")
	}
}

func TestDeleteMany(t *testing.T) {
	a := New()
	ctx := context.Background()

	mustCreate(t, a, "session", adapter.Row{"token": "t1", "userId": "u1"})
	mustCreate(t, a, "session", adapter.Row{"token": "t2", "userId": "u1"})
	mustCreate(t, a, "session", adapter.Row{"token": "t3", "userId": "u2"})

	n, err := a.DeleteMany(ctx, "session", eq("userId", "u1"))
	if err != nil || n != 2 {
		t.Fatalf("DeleteMany = %d, %v", n, err)
	}
	count, _ := a.Count(ctx, "session", nil)
	if count != 1 {
		t.Fatalf("expected 1 remaining, got %d", count)
	}
}

func TestCount(t *testing.T) {
	a := New()
	ctx := context.Background()

	mustCreate(t, a, "user", adapter.Row{"email": "a@t.io"})
	mustCreate(t, a, "user", adapter.Row{"email": "b@t.io"})

	n, err := a.Count(ctx, "user", nil)
	if err != nil || n != 2 {
		t.Fatalf("Count = %d, %v", n, err)
	}
	n, _ = a.Count(ctx, "user", eq("email", "a@t.io"))
	if n != 1 {
		t.Fatalf("filtered Count = %d", n)
	}
}

func TestTransactionCommits(t *testing.T) {
	a := New()
	ctx := context.Background()

	err := a.Transaction(ctx, func(tx adapter.Adapter) error {
		if _, err := tx.Create(ctx, "user", adapter.Row{"email": "alice@example.com"}); err != nil {
			return err
		}
		_, err := tx.Create(ctx, "account", adapter.Row{"providerId": "credential", "accountId": "alice@example.com"})
		return err
	})
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}

	if _, err := a.FindOne(ctx, "user", eq("email", "alice@example.com")); err != nil {
		t.Fatalf("committed row missing: %v", err)
	}
	if _, err := a.FindOne(ctx, "account", eq("providerId", "credential")); err != nil {
		t.Fatalf("committed row missing: %v", err)
	}
}

func TestTransactionRollsBackOnError(t *testing.T) {
	a := New()
	ctx := context.Background()

	boom := errors.New("boom")
	err := a.Transaction(ctx, func(tx adapter.Adapter) error {
		if _, err := tx.Create(ctx, "user", adapter.Row{"email": "alice@example.com"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected the callback error, got %v", err)
	}

	if _, err := a.FindOne(ctx, "user", eq("email", "alice@example.com")); !errors.Is(err, adapter.ErrNotFound) {
		t.Fatalf("rolled-back row must not exist, got %v", err)
	}
}

func TestTransactionSeesOwnWrites(t *testing.T) {
	a := New()
	ctx := context.Background()

	err := a.Transaction(ctx, func(tx adapter.Adapter) error {
		if _, err := tx.Create(ctx, "user", adapter.Row{"email": "alice@example.com"}); err != nil {
			return err
		}
		_, err := tx.FindOne(ctx, "user", eq("email", "alice@example.com"))
		return err
	})
	if err != nil {
		t.Fatalf("transaction must read its own writes: %v", err)
	}
}
