package matching

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/getmockd/imposter/pkg/imposter"
	"github.com/getmockd/imposter/pkg/logging"
)

// DefaultNearMisses is the number of near misses reported when topN is not
// positive.
const DefaultNearMisses = 3

// FieldResult describes whether one operator on one request field held.
type FieldResult struct {
	Predicate int         `json:"predicate"`
	Operator  string      `json:"operator"`
	Field     string      `json:"field"`
	Matched   bool        `json:"matched"`
	Expected  interface{} `json:"expected,omitempty"`
	Actual    interface{} `json:"actual,omitempty"`
}

// NearMiss is a rule that partially matched a request.
type NearMiss struct {
	Rule            int           `json:"rule"`
	Matched         int           `json:"matched"`
	Total           int           `json:"total"`
	MatchPercentage int           `json:"matchPercentage"`
	Fields          []FieldResult `json:"fields"`
	Reason          string        `json:"reason"`
}

// MatchBreakdown evaluates every operator field of every predicate of rule
// without short-circuiting. Each field keeps the parameters of the predicate
// it belongs to.
func MatchBreakdown(rule *imposter.Rule, req imposter.Request, logger *slog.Logger) *NearMiss {
	result := &NearMiss{}
	if rule == nil {
		return result
	}
	logger = logging.OrNop(logger)

	for i, p := range rule.Predicates {
		for _, op := range operators(p) {
			for _, field := range sortedKeys(op.fields) {
				single := p
				single.Equals, single.DeepEquals, single.Contains, single.Exists = nil, nil, nil, nil
				single.SetOperator(op.name, map[string]interface{}{field: op.fields[field]})

				fr := FieldResult{
					Predicate: i,
					Operator:  op.name,
					Field:     field,
					Matched:   MatchPredicate(single, req, logger),
					Expected:  op.fields[field],
				}
				if !fr.Matched {
					fr.Actual = req[field]
				}
				result.Fields = append(result.Fields, fr)
			}
		}
	}

	result.Total = len(result.Fields)
	for _, f := range result.Fields {
		if f.Matched {
			result.Matched++
		}
	}
	if result.Total > 0 {
		result.MatchPercentage = result.Matched * 100 / result.Total
	}
	result.Reason = GenerateReason(result.Fields)
	return result
}

// CollectNearMisses returns the topN rules that matched at least one field,
// best first. It is meant for requests no rule matched.
func CollectNearMisses(rules []*imposter.Rule, req imposter.Request, topN int, logger *slog.Logger) []NearMiss {
	if topN <= 0 {
		topN = DefaultNearMisses
	}

	var candidates []NearMiss
	for i, rule := range rules {
		nm := MatchBreakdown(rule, req, logger)
		if nm.Matched == 0 {
			continue
		}
		nm.Rule = i
		candidates = append(candidates, *nm)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].MatchPercentage != candidates[j].MatchPercentage {
			return candidates[i].MatchPercentage > candidates[j].MatchPercentage
		}
		return candidates[i].Matched > candidates[j].Matched
	})

	if len(candidates) > topN {
		candidates = candidates[:topN]
	}
	return candidates
}

// GenerateReason explains why a rule partially matched but ultimately failed.
func GenerateReason(fields []FieldResult) string {
	if len(fields) == 0 {
		return "rule has no predicates"
	}

	var matched []string
	var firstMismatch *FieldResult
	for i := range fields {
		if fields[i].Matched {
			matched = append(matched, fields[i].Field)
		} else if firstMismatch == nil {
			firstMismatch = &fields[i]
		}
	}

	if firstMismatch == nil {
		return "all predicates matched"
	}
	if len(matched) == 0 {
		return formatMismatch(firstMismatch)
	}
	return joinFields(dedupe(matched)) + " matched, but " + formatMismatch(firstMismatch)
}

func formatMismatch(f *FieldResult) string {
	switch f.Operator {
	case imposter.OperatorExists:
		return fmt.Sprintf("%s existence expected %v", f.Field, f.Expected)
	case imposter.OperatorContains:
		return fmt.Sprintf("%s expected to contain %s, got %s", f.Field, truncate(fmt.Sprint(f.Expected), 60), truncate(fmt.Sprint(f.Actual), 60))
	default:
		return fmt.Sprintf("%s expected %s %s, got %s", f.Field, f.Operator, truncate(fmt.Sprint(f.Expected), 60), truncate(fmt.Sprint(f.Actual), 60))
	}
}

type operatorFields struct {
	name   string
	fields map[string]interface{}
}

func operators(p imposter.Predicate) []operatorFields {
	var ops []operatorFields
	for _, op := range []operatorFields{
		{imposter.OperatorEquals, p.Equals},
		{imposter.OperatorDeepEquals, p.DeepEquals},
		{imposter.OperatorContains, p.Contains},
		{imposter.OperatorExists, p.Exists},
	} {
		if op.fields != nil {
			ops = append(ops, op)
		}
	}
	return ops
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func dedupe(fields []string) []string {
	seen := make(map[string]bool, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

// joinFields joins field names with commas and "and".
func joinFields(fields []string) string {
	switch len(fields) {
	case 0:
		return ""
	case 1:
		return fields[0]
	case 2:
		return fields[0] + " and " + fields[1]
	default:
		return strings.Join(fields[:len(fields)-1], ", ") + ", and " + fields[len(fields)-1]
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
