package imposter

import (
	"reflect"
	"sort"
	"strconv"
	"sync"
)

// State is the long-lived key/value store of one imposter, shared by every
// exchange against it and never reset between requests.
//
// The lock only keeps map access race-free: two exchanges may still
// interleave their read-modify-write sequences. Callers that need strict
// serialization must serialize upstream.
type State struct {
	mu     sync.Mutex
	values map[string]interface{}
}

// NewState creates an empty state.
func NewState() *State {
	return &State{values: make(map[string]interface{})}
}

// Get returns the value stored under key.
func (s *State) Get(key string) (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// Set stores value under key.
func (s *State) Set(key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

// Snapshot returns a deep copy of the stored values.
func (s *State) Snapshot() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return CloneMap(s.values)
}

// Do runs fn with exclusive access to the live value map.
func (s *State) Do(fn func(values map[string]interface{})) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.values)
}

// Merge applies the changes made to a detached copy. base is the snapshot
// the copy started from; keys changed or added in work are stored and keys
// removed from work are deleted. Keys nobody touched keep their live value.
func (s *State) Merge(base, work map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range work {
		if old, ok := base[k]; !ok || !reflect.DeepEqual(old, v) {
			s.values[k] = Clone(v)
		}
	}
	for k := range base {
		if _, ok := work[k]; !ok {
			delete(s.values, k)
		}
	}
}

// StateView exposes a live value map to sandboxed logic. It performs no
// locking; obtain one inside State.Do.
type StateView struct {
	values map[string]interface{}
}

// NewStateView wraps a live value map.
func NewStateView(values map[string]interface{}) *StateView {
	return &StateView{values: values}
}

// Values returns the live value map.
func (v *StateView) Values() map[string]interface{} {
	return v.values
}

// Get returns the value under key, or nil.
func (v *StateView) Get(key string) interface{} {
	return v.values[key]
}

// Has reports whether key is set.
func (v *StateView) Has(key string) bool {
	_, ok := v.values[key]
	return ok
}

// Set stores value under key and returns it.
func (v *StateView) Set(key string, value interface{}) interface{} {
	v.values[key] = value
	return value
}

// Delete removes key and returns the previous value.
func (v *StateView) Delete(key string) interface{} {
	prev := v.values[key]
	delete(v.values, key)
	return prev
}

// Incr adds one to the integer under key, starting from zero, and returns
// the new value.
func (v *StateView) Incr(key string) int {
	n := toInt(v.values[key]) + 1
	v.values[key] = n
	return n
}

// Keys returns the stored keys in sorted order.
func (v *StateView) Keys() []string {
	keys := make([]string, 0, len(v.values))
	for k := range v.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i
		}
	}
	return 0
}
