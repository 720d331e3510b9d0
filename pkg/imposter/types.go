package imposter

// Request is an opaque, protocol-specific request payload. Values are
// strings, numbers, booleans, nested maps or slices.
type Request = map[string]interface{}

// Response is an opaque, protocol-specific response payload.
type Response = map[string]interface{}

// DryRunKey marks a request produced while validating a rule set.
const DryRunKey = "isDryRun"

// ProxyResponseTimeKey is the field stamped onto proxied responses with the
// measured round-trip latency in milliseconds.
const ProxyResponseTimeKey = "_proxyResponseTime"

// IsDryRun reports whether the request was flagged as a structural dry run.
func IsDryRun(req Request) bool {
	v, ok := req[DryRunKey].(bool)
	return ok && v
}

// Clone returns a deep copy of v. Maps and slices are copied recursively;
// every other value is returned as is.
func Clone(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return CloneMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = Clone(item)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(t))
		for k, s := range t {
			out[k] = s
		}
		return out
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	default:
		return v
	}
}

// CloneMap deep-copies a payload map. A nil map clones to nil.
func CloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = Clone(v)
	}
	return out
}
