package matching

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"golang.org/x/text/cases"

	"github.com/getmockd/imposter/pkg/imposter"
	"github.com/getmockd/imposter/pkg/logging"
)

// FirstMatch returns the index and rule of the first rule whose predicates
// all hold for req, or (-1, nil).
func FirstMatch(rules []*imposter.Rule, req imposter.Request, logger *slog.Logger) (int, *imposter.Rule) {
	for i, rule := range rules {
		if MatchRule(rule, req, logger) {
			return i, rule
		}
	}
	return -1, nil
}

// MatchRule reports whether every predicate of rule holds for req. A rule
// without predicates matches everything.
func MatchRule(rule *imposter.Rule, req imposter.Request, logger *slog.Logger) bool {
	for _, p := range rule.Predicates {
		if !MatchPredicate(p, req, logger) {
			return false
		}
	}
	return true
}

// MatchPredicate reports whether a single predicate holds for req. Every
// operator set on the predicate must hold.
func MatchPredicate(p imposter.Predicate, req imposter.Request, logger *slog.Logger) bool {
	o := newComparison(p, logging.OrNop(logger))

	if p.Equals != nil && !o.fields(p.Equals, req, o.equals) {
		return false
	}
	if p.DeepEquals != nil && !o.fields(p.DeepEquals, req, o.deepEquals) {
		return false
	}
	if p.Contains != nil && !o.fields(p.Contains, req, o.contains) {
		return false
	}
	if p.Exists != nil && !o.fields(p.Exists, req, o.exists) {
		return false
	}
	return true
}

// comparison carries the predicate parameters applied on both sides of each
// comparison.
// A comparison is used by one goroutine; the fold caser is stateful.
type comparison struct {
	caseSensitive bool
	fold          cases.Caser
	except        *regexp.Regexp
	selector      func(interface{}) interface{}
}

func newComparison(p imposter.Predicate, logger *slog.Logger) *comparison {
	o := &comparison{caseSensitive: p.CaseSensitive}
	if !p.CaseSensitive {
		o.fold = cases.Fold()
	}

	if p.Except != "" {
		re, err := regexp.Compile(p.Except)
		if err != nil {
			logger.Warn("invalid except pattern", "except", p.Except, "error", err)
		} else {
			o.except = re
		}
	}

	switch {
	case p.XPath != nil:
		sel := p.XPath
		o.selector = func(v interface{}) interface{} {
			return ExtractXPath(sel.Selector, sel.Namespaces, v, logger)
		}
	case p.JSONPath != nil:
		sel := p.JSONPath
		o.selector = func(v interface{}) interface{} {
			return ExtractJSONPath(sel.Selector, v, logger)
		}
	}
	return o
}

// fields applies op to each top-level field named by expected.
func (o *comparison) fields(expected map[string]interface{}, req imposter.Request, op func(expected, actual interface{}) bool) bool {
	for key, want := range expected {
		got, _ := o.lookup(req, key)
		if !op(want, got) {
			return false
		}
	}
	return true
}

func (o *comparison) lookup(m map[string]interface{}, key string) (interface{}, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	if !o.caseSensitive {
		for k, v := range m {
			if strings.EqualFold(k, key) {
				return v, true
			}
		}
	}
	return nil, false
}

// selected applies the predicate's selector to a string leaf of the
// request. Values produced by the selector are compared without selecting
// again, so the returned comparison has no selector.
func (o *comparison) selected(actual interface{}) (*comparison, interface{}) {
	if o.selector == nil {
		return o, actual
	}
	if _, ok := actual.(string); !ok {
		return o, actual
	}
	return &comparison{caseSensitive: o.caseSensitive, fold: o.fold, except: o.except}, o.selector(actual)
}

// asObject returns actual as a map, decoding JSON strings when needed.
func asObject(actual interface{}) (map[string]interface{}, bool) {
	switch v := actual.(type) {
	case map[string]interface{}:
		return v, true
	case string:
		var m map[string]interface{}
		if err := json.Unmarshal([]byte(v), &m); err == nil {
			return m, true
		}
	}
	return nil, false
}

func asList(actual interface{}) ([]interface{}, bool) {
	switch v := actual.(type) {
	case []interface{}:
		return v, true
	case []string:
		out := make([]interface{}, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, true
	}
	return nil, false
}

// equals is subset equality: objects match when every expected key matches,
// lists when every expected element appears in the actual list.
func (o *comparison) equals(expected, actual interface{}) bool {
	c, actual := o.selected(actual)

	switch want := expected.(type) {
	case map[string]interface{}:
		got, ok := asObject(actual)
		if !ok {
			return false
		}
		for key, w := range want {
			g, _ := c.lookup(got, key)
			if !c.equals(w, g) {
				return false
			}
		}
		return true
	case []interface{}:
		got, ok := asList(actual)
		if !ok {
			return false
		}
		for _, w := range want {
			if !c.anyOf(w, got, c.equals) {
				return false
			}
		}
		return true
	default:
		if got, ok := asList(actual); ok {
			return c.anyOf(want, got, c.equals)
		}
		return c.scalar(actual) == c.scalar(want)
	}
}

// deepEquals is exact structural equality below the top-level field.
func (o *comparison) deepEquals(expected, actual interface{}) bool {
	c, actual := o.selected(actual)

	switch want := expected.(type) {
	case map[string]interface{}:
		got, ok := asObject(actual)
		if !ok {
			return len(want) == 0 && (actual == nil || actual == "")
		}
		if len(got) != len(want) {
			return false
		}
		for key, w := range want {
			g, found := c.lookup(got, key)
			if !found || !c.deepEquals(w, g) {
				return false
			}
		}
		return true
	case []interface{}:
		got, ok := asList(actual)
		if !ok || len(got) != len(want) {
			return false
		}
		used := make([]bool, len(got))
		for _, w := range want {
			found := false
			for i, g := range got {
				if !used[i] && c.deepEquals(w, g) {
					used[i] = true
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	default:
		if _, isObj := actual.(map[string]interface{}); isObj {
			return false
		}
		if _, isList := asList(actual); isList {
			return false
		}
		return c.scalar(actual) == c.scalar(want)
	}
}

func (o *comparison) contains(expected, actual interface{}) bool {
	c, actual := o.selected(actual)

	if want, ok := expected.(map[string]interface{}); ok {
		got, ok := asObject(actual)
		if !ok {
			return false
		}
		for key, w := range want {
			g, _ := c.lookup(got, key)
			if !c.contains(w, g) {
				return false
			}
		}
		return true
	}
	if got, ok := asList(actual); ok {
		return c.anyOf(expected, got, c.contains)
	}
	return strings.Contains(c.scalar(actual), c.scalar(expected))
}

// exists checks presence: true requires a non-empty value, false its absence.
func (o *comparison) exists(expected, actual interface{}) bool {
	if want, ok := expected.(map[string]interface{}); ok {
		got, ok := asObject(actual)
		if !ok {
			got = map[string]interface{}{}
		}
		for key, w := range want {
			g, _ := o.lookup(got, key)
			if !o.exists(w, g) {
				return false
			}
		}
		return true
	}

	present := actual != nil && actual != ""
	want, ok := expected.(bool)
	if !ok {
		return present
	}
	return present == want
}

func (o *comparison) anyOf(want interface{}, got []interface{}, op func(expected, actual interface{}) bool) bool {
	for _, g := range got {
		if op(want, g) {
			return true
		}
	}
	return false
}

// scalar renders a leaf for comparison, applying except and case folding.
func (o *comparison) scalar(v interface{}) string {
	var s string
	switch t := v.(type) {
	case nil:
		s = ""
	case string:
		s = t
	case float64:
		s = fmt.Sprintf("%v", t)
	default:
		s = fmt.Sprint(t)
	}
	if o.except != nil {
		s = o.except.ReplaceAllString(s, "")
	}
	if !o.caseSensitive {
		s = o.fold.String(s)
	}
	return s
}
