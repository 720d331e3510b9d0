// Package matching evaluates rule predicates against requests and extracts
// values from request payloads.
//
// It provides:
//
//   - Selector extraction: JSONPath (ojg) and XPath (etree) selectors that
//     collapse results to "" (nothing), a bare value (one match) or a list
//     (several matches, in document order)
//   - Predicate evaluation: equals, deepEquals, contains and exists, with
//     caseSensitive, except and selector parameters
//   - Canonical deep equality used to deduplicate recorded rules
//   - Near-miss breakdowns explaining why no rule matched a request
//
// Selector syntax errors are a rule-authoring mistake, not a request failure:
// they are logged and yield an empty extraction, which surfaces as "no match".
package matching
