// Package recording persists proxied exchanges as replayable rules.
//
// Each recorded response becomes a static response whose predicates are
// derived from the triggering request by the predicate generators of the
// originating proxy. Depending on the proxy mode, recordings either create a
// new rule every time or accumulate into a response sequence on an existing
// rule.
package recording
