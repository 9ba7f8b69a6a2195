// Package aggregate reduces a core.DispatchResult into a core.Decision.
//
// MajorityVote is the deterministic first pass: a plurality vote over the
// whitespace-trimmed contents of the successful entries. CheckConsensus is
// the fuzzy second pass: it clusters responses by an externally supplied
// similarity function and returns a representative when a strict majority
// agrees.
package aggregate
