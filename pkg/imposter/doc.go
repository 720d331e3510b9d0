// Package imposter defines the data model shared by the response resolution
// engine: rules ("stubs"), their candidate response configurations, the
// predicates that select a rule, the ordered rule repository and the
// per-imposter state visible to dynamic response logic.
//
// # Rules and Responses
//
// A Rule pairs an ANDed predicate list with an ordered list of
// ResponseConfig values. Each ResponseConfig carries exactly one response
// type:
//
//   - is: a static payload returned as a deep copy
//   - inject: sandboxed logic that computes the response
//   - proxy: forward to a real system and optionally record what it returned
//
// # Repository Ordering
//
// Rules are matched first-to-last. Recorded rules are inserted directly
// after the rule whose proxy produced them, so repository order is part of
// the matching semantics and is never changed except by explicit insertion.
//
// # Failures
//
// ValidationError, InjectionError and MissingResourceError are the typed
// failures surfaced by the resolver. Each reports an HTTP status code and a
// hint for the admin API.
package imposter
