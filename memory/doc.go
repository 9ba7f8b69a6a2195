// Package memory contains concrete core.Memory implementations: a bounded
// in-process store and a SQLite-backed store with the same semantics.
//
// Both keep two tiers. Short-term items form a list capped at MaxItems with
// the oldest evicted first; permanent items live in a map keyed by item key.
// RetrieveRelevant ranks items by keyword overlap with the query and falls
// back to recency, which is what agent.ModelResponder uses to build context.
//
// Depend on core.MemoryStore (or core.Memory) in your code and select an
// implementation at wiring time.
package memory
