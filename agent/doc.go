// Package agent holds the execution primitives of the coordination engine:
//
//  1. Handle, a tagged capability wrapper around one core.Responder
//  2. Dispatcher, the concurrent fan-out returning an ordered DispatchResult
//  3. Chain, the fail-fast sequential pipeline over templated steps
//  4. ModelResponder, a core.Responder backed by a model.Model with optional
//     tool calling and memory
//
// Every call made through this package is bounded by a context and an
// optional per-call timeout. Failures of one responder are recorded in its
// own result slot and never cancel siblings.
package agent
