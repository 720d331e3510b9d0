package imposter

import (
	"sync"
	"time"
)

// Rule is an ordered predicate set (ANDed) plus an ordered list of candidate
// responses.
type Rule struct {
	Predicates []Predicate        `json:"predicates,omitempty" yaml:"predicates,omitempty"`
	Responses  []*ResponseConfig `json:"responses,omitempty" yaml:"responses,omitempty"`

	mu      sync.Mutex
	cursor  int
	served  int64
	matches []Match
}

// Match is one recorded request/response pair served by a rule.
type Match struct {
	Timestamp time.Time `json:"timestamp"`
	Request   Request   `json:"request"`
	Response  Response  `json:"response"`
}

// NewRule builds a rule from predicates and responses.
func NewRule(predicates []Predicate, responses ...*ResponseConfig) *Rule {
	return &Rule{Predicates: predicates, Responses: responses}
}

// NextResponse returns the response to serve for the current match and
// advances the rule's cycle. A response with Repeat n is served n times in a
// row before the cycle moves on. Returns nil when the rule has no responses.
func (r *Rule) NextResponse() *ResponseConfig {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.Responses) == 0 {
		return nil
	}
	if r.cursor >= len(r.Responses) {
		r.cursor = 0
	}

	rc := r.Responses[r.cursor]
	rc.markMatched()
	r.served++
	if r.served >= rc.repeat() {
		r.served = 0
		r.cursor++
	}
	return rc
}

// ResponseCount returns the number of responses in the rule's cycle.
func (r *Rule) ResponseCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Responses)
}

func (r *Rule) appendResponse(rc *ResponseConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Responses = append(r.Responses, rc)
}

func (r *Rule) containsResponse(rc *ResponseConfig) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, candidate := range r.Responses {
		if candidate == rc {
			return true
		}
	}
	return false
}

// RecordMatch stores a served request/response pair for later inspection.
func (r *Rule) RecordMatch(req Request, resp Response) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.matches = append(r.matches, Match{
		Timestamp: time.Now(),
		Request:   CloneMap(req),
		Response:  CloneMap(resp),
	})
}

// MatchHistory returns a copy of the recorded matches in serve order.
func (r *Rule) MatchHistory() []Match {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Match, len(r.matches))
	copy(out, r.matches)
	return out
}

// Copy returns a rule with the same predicates and a snapshot of the
// response list. Cycle position and match history are not copied.
func (r *Rule) Copy() *Rule {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &Rule{
		Predicates: r.Predicates,
		Responses:  append([]*ResponseConfig(nil), r.Responses...),
	}
}
