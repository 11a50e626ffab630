// Package adapter defines the storage boundary consumed by the authcore engine.
//
// # Design
//
// The engine never talks to a concrete database. It issues generic CRUD calls
// against named models ("user", "session", "account", "verification") through
// the [Adapter] interface, filtering rows with [Where] clauses. Integrations
// supply an Adapter for their database of choice; adapter/memory ships an
// in-memory implementation used by tests and development setups.
//
// # Architecture boundaries
//
// This package owns the contract only. Row ↔ struct mapping for the engine's
// models lives in the root package; concrete backends live in sub-packages or
// in the integrating application.
//
// # What this package must NOT do
//
//   - Import authcore or any sibling package.
//   - Assume a SQL dialect, a schema, or a driver.
package adapter
