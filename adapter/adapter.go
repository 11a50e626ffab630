package adapter

import (
	"context"
	"errors"
)

// ErrNotFound is returned by FindOne when no row matches the where clauses.
var ErrNotFound = errors.New("adapter: record not found")

// ErrUniqueViolation is returned by Create when a unique field constraint
// would be violated. Replay guards rely on it for atomic check-and-insert.
var ErrUniqueViolation = errors.New("adapter: unique constraint violation")

// Operator is the comparison applied by a [Where] clause.
type Operator string

const (
	// OpEq is the default operator when a clause leaves Operator empty.
	OpEq       Operator = "eq"
	OpNe       Operator = "ne"
	OpLt       Operator = "lt"
	OpLte      Operator = "lte"
	OpGt       Operator = "gt"
	OpGte      Operator = "gte"
	OpIn       Operator = "in"
	OpContains Operator = "contains"
)

// Connector joins a clause to the previous one. The zero value means AND.
type Connector string

const (
	ConnectorAnd Connector = "AND"
	ConnectorOr  Connector = "OR"
)

// Where is a single filter clause over a model field.
type Where struct {
	Field     string
	Operator  Operator
	Value     any
	Connector Connector
}

// Row is a single stored record keyed by field name.
type Row = map[string]any

// SortBy orders FindMany results.
type SortBy struct {
	Field     string
	Direction string // "asc" or "desc"
}

// Adapter is the generic persistence contract the engine depends on.
//
// Implementations must be safe for concurrent use. Create must honor unique
// fields declared by the engine's models (user.email, session.token,
// verification.identifier) and return [ErrUniqueViolation] on conflict.
type Adapter interface {
	Create(ctx context.Context, model string, data Row) (Row, error)
	FindOne(ctx context.Context, model string, where []Where) (Row, error)
	FindMany(ctx context.Context, model string, where []Where, limit int, sort *SortBy) ([]Row, error)
	Count(ctx context.Context, model string, where []Where) (int, error)
	Update(ctx context.Context, model string, where []Where, data Row) (Row, error)
	UpdateMany(ctx context.Context, model string, where []Where, data Row) (int, error)
	Delete(ctx context.Context, model string, where []Where) error
	DeleteMany(ctx context.Context, model string, where []Where) (int, error)

	// Transaction runs fn against a transactional view of the store. When the
	// backend cannot provide one, it may run fn against itself; callers treat
	// partial failure of grouped writes as fatal rather than assuming rollback.
	Transaction(ctx context.Context, fn func(tx Adapter) error) error
}
