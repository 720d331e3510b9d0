package matching

import (
	"encoding/json"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// DeepEqual reports whether a and b are structurally identical after
// canonicalization: map key order is irrelevant, numbers compare by value
// regardless of Go type, and empty maps/slices equal absent ones.
func DeepEqual(a, b interface{}) bool {
	ca, errA := canonicalize(a)
	cb, errB := canonicalize(b)
	if errA != nil || errB != nil {
		return cmp.Equal(a, b, cmpopts.EquateEmpty())
	}
	return cmp.Equal(ca, cb)
}

// canonicalize reduces v to generic JSON values: map[string]interface{},
// []interface{}, string, float64, bool and nil. Empty containers collapse to
// nil and map entries holding nil are dropped.
func canonicalize(v interface{}) (interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return prune(out), nil
}

func prune(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, item := range t {
			if p := prune(item); p != nil {
				t[k] = p
			} else {
				delete(t, k)
			}
		}
		if len(t) == 0 {
			return nil
		}
		return t
	case []interface{}:
		if len(t) == 0 {
			return nil
		}
		for i, item := range t {
			t[i] = prune(item)
		}
		return t
	default:
		return v
	}
}
