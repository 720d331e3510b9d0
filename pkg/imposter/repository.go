package imposter

import (
	"fmt"
	"sync"
)

// Repository is the ordered rule set of one imposter. Implementations must
// preserve insertion order; the engine never removes or reorders rules.
type Repository interface {
	// Rules returns the rules in match order.
	Rules() []*Rule

	// IndexOf returns the index of the rule holding rc, or -1.
	IndexOf(rc *ResponseConfig) int

	// AddResponse appends rc to the responses of the rule at index.
	AddResponse(index int, rc *ResponseConfig) error

	// InsertAfter inserts rule immediately after index. An index of -1
	// inserts at the front.
	InsertAfter(index int, rule *Rule) error

	// Add appends rule to the end of the repository.
	Add(rule *Rule)
}

// MemoryRepository is an in-memory Repository safe for concurrent use.
type MemoryRepository struct {
	mu    sync.RWMutex
	rules []*Rule
}

// NewMemoryRepository creates a repository holding rules in order.
func NewMemoryRepository(rules ...*Rule) *MemoryRepository {
	return &MemoryRepository{rules: append([]*Rule(nil), rules...)}
}

// Rules returns a snapshot of the rules in match order.
func (r *MemoryRepository) Rules() []*Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Rule, len(r.rules))
	copy(out, r.rules)
	return out
}

// Len returns the number of rules.
func (r *MemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rules)
}

// IndexOf returns the index of the rule holding rc, or -1.
func (r *MemoryRepository) IndexOf(rc *ResponseConfig) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i, rule := range r.rules {
		if rule.containsResponse(rc) {
			return i
		}
	}
	return -1
}

// AddResponse appends rc to the responses of the rule at index.
func (r *MemoryRepository) AddResponse(index int, rc *ResponseConfig) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if index < 0 || index >= len(r.rules) {
		return fmt.Errorf("rule index %d out of range [0,%d)", index, len(r.rules))
	}
	r.rules[index].appendResponse(rc)
	return nil
}

// InsertAfter inserts rule immediately after index.
func (r *MemoryRepository) InsertAfter(index int, rule *Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if index < -1 || index >= len(r.rules) {
		return fmt.Errorf("rule index %d out of range [-1,%d)", index, len(r.rules))
	}
	at := index + 1
	r.rules = append(r.rules, nil)
	copy(r.rules[at+1:], r.rules[at:])
	r.rules[at] = rule
	return nil
}

// Add appends rule to the end of the repository.
func (r *MemoryRepository) Add(rule *Rule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, rule)
}

// RuleOf returns the rule in repo holding rc, or nil.
func RuleOf(repo Repository, rc *ResponseConfig) *Rule {
	index := repo.IndexOf(rc)
	if index < 0 {
		return nil
	}
	rules := repo.Rules()
	if index >= len(rules) {
		return nil
	}
	return rules[index]
}
