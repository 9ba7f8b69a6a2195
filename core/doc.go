// Package core provides the foundational domain types and contracts shared by
// every Conclave package. It defines:
//
//   - Responder / ResponderFunc (the capability a remote agent exposes)
//   - SimilarityFunc (optional semantic comparison used for consensus)
//   - DispatchResult / Entry (ordered, per-agent outcome of a fan-out round)
//   - Decision (the reduction of a round into a single answer)
//   - The error taxonomy (sentinels plus AgentError, TemplateError, ChainError)
//   - MemoryStore and CallBudget collaborators
//
// The package intentionally keeps implementation concerns (dispatching,
// aggregation, provider adapters) out of scope so that all other packages can
// depend on it without import cycles.
package core
