// Package audit provides the asynchronous audit event pipeline: a canonical
// [Event] model, pluggable [Sink] implementations, and a buffered
// [Dispatcher] that decouples request handling from sink latency.
//
// # What this package must NOT do
//
//   - Block request handling when DropIfFull is set.
//   - Import authcore or any sibling package.
package audit
