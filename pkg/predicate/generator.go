// Package predicate derives matching predicates from observed requests so
// that recorded proxy responses can be replayed for the same traffic.
package predicate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/getmockd/imposter/internal/matching"
	"github.com/getmockd/imposter/pkg/imposter"
	"github.com/getmockd/imposter/pkg/inject"
	"github.com/getmockd/imposter/pkg/logging"
)

// Generator builds predicates from predicate generator configurations.
type Generator struct {
	sandbox *inject.Sandbox
}

// NewGenerator creates a generator. The sandbox evaluates inject
// generators and may be nil when none are used.
func NewGenerator(sandbox *inject.Sandbox) *Generator {
	return &Generator{sandbox: sandbox}
}

// Generate returns the predicates every generator derives from req, in
// generator order. A failing inject generator aborts generation.
func (g *Generator) Generate(ctx context.Context, req imposter.Request, generators []imposter.PredicateGenerator, logger *slog.Logger) ([]imposter.Predicate, error) {
	logger = logging.OrNop(logger)

	var out []imposter.Predicate
	for _, gen := range generators {
		if gen.Inject != "" {
			injected, err := g.injected(ctx, gen.Inject, req, logger)
			if err != nil {
				return nil, err
			}
			out = append(out, injected...)
			continue
		}
		out = append(out, generate(req, gen, logger)...)
	}
	return out, nil
}

func (g *Generator) injected(ctx context.Context, source string, req imposter.Request, logger *slog.Logger) ([]imposter.Predicate, error) {
	if g.sandbox == nil {
		return nil, &imposter.InjectionError{Source: source, Message: "no sandbox configured for predicate generator injection"}
	}
	list, err := g.sandbox.Predicates(ctx, source, req, logger)
	if err != nil {
		return nil, err
	}

	out := make([]imposter.Predicate, 0, len(list))
	for i, item := range list {
		p, err := decode(item)
		if err != nil {
			return nil, &imposter.InjectionError{
				Source:  source,
				Message: fmt.Sprintf("predicate %d is invalid: %v", i, err),
			}
		}
		out = append(out, p)
	}
	return out, nil
}

// decode converts a script value into a Predicate through its JSON form.
func decode(v interface{}) (imposter.Predicate, error) {
	var p imposter.Predicate
	data, err := json.Marshal(v)
	if err != nil {
		return p, err
	}
	err = json.Unmarshal(data, &p)
	return p, err
}

// generate emits one predicate per matched field. Each carries the
// generator's comparison parameters.
func generate(req imposter.Request, gen imposter.PredicateGenerator, logger *slog.Logger) []imposter.Predicate {
	valueOf := selector(gen, logger)

	fields := sortedKeys(gen.Matches)
	out := make([]imposter.Predicate, 0, len(fields))
	for _, field := range fields {
		matcher := gen.Matches[field]
		if !enabled(matcher) {
			continue
		}

		p := imposter.Predicate{
			CaseSensitive: gen.CaseSensitive,
			Except:        gen.Except,
			XPath:         gen.XPath,
			JSONPath:      gen.JSONPath,
		}
		value := req[field]

		switch {
		case gen.PredicateOperator == imposter.OperatorExists:
			p.SetOperator(imposter.OperatorExists, map[string]interface{}{field: exists(value, matcher)})
		case gen.PredicateOperator != "":
			p.SetOperator(gen.PredicateOperator, map[string]interface{}{field: mirror(value, matcher, valueOf)})
		case matcher == true:
			p.DeepEquals = map[string]interface{}{field: valueOf(value)}
		default:
			p.Equals = map[string]interface{}{field: mirror(value, matcher, valueOf)}
		}
		out = append(out, p)
	}
	return out
}

// selector returns the leaf extraction for the generator: the xpath or
// jsonpath selector when one is configured, otherwise a deep copy.
func selector(gen imposter.PredicateGenerator, logger *slog.Logger) func(interface{}) interface{} {
	switch {
	case gen.XPath != nil:
		return func(v interface{}) interface{} {
			return matching.ExtractXPath(gen.XPath.Selector, gen.XPath.Namespaces, v, logger)
		}
	case gen.JSONPath != nil:
		return func(v interface{}) interface{} {
			return matching.ExtractJSONPath(gen.JSONPath.Selector, v, logger)
		}
	default:
		return imposter.Clone
	}
}

// mirror copies the parts of value the matcher descends into. Where both
// are objects it recurses per matcher key; elsewhere the leaf is extracted.
func mirror(value, matcher interface{}, valueOf func(interface{}) interface{}) interface{} {
	obj, ok := value.(map[string]interface{})
	sub, descend := matcher.(map[string]interface{})
	if !ok || !descend {
		return valueOf(value)
	}

	out := make(map[string]interface{}, len(sub))
	for key, m := range sub {
		v, present := obj[key]
		if !present || !enabled(m) {
			continue
		}
		out[key] = mirror(v, m, valueOf)
	}
	return out
}

// exists mirrors the matcher shape with true leaves.
func exists(value, matcher interface{}) interface{} {
	obj, ok := value.(map[string]interface{})
	sub, descend := matcher.(map[string]interface{})
	if !ok || !descend {
		return true
	}

	out := make(map[string]interface{}, len(sub))
	for key, m := range sub {
		if !enabled(m) {
			continue
		}
		if _, present := obj[key]; !present {
			out[key] = false
			continue
		}
		out[key] = exists(obj[key], m)
	}
	return out
}

// enabled reports whether a matcher value selects its field. false, nil
// and empty objects select nothing.
func enabled(matcher interface{}) bool {
	switch m := matcher.(type) {
	case nil:
		return false
	case bool:
		return m
	case map[string]interface{}:
		return len(m) > 0
	default:
		return true
	}
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
