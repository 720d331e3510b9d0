package matching

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/getmockd/imposter/pkg/logging"
	"github.com/ohler55/ojg/jp"
)

// ExtractJSONPath applies a JSONPath selector to a payload field. The payload
// may be a JSON document in a string, raw bytes, or an already decoded value.
// Returns "" when the payload is absent, unparseable or nothing matches.
func ExtractJSONPath(selector string, payload interface{}, logger *slog.Logger) interface{} {
	if payload == nil {
		return ""
	}
	logger = logging.OrNop(logger)

	expr, err := jp.ParseString(selector)
	if err != nil {
		logger.Warn("invalid jsonpath selector", "selector", selector, "error", err)
		return ""
	}

	data, ok := decodeJSON(payload)
	if !ok {
		logger.Debug("jsonpath selector applied to non-JSON value", "selector", selector)
		return ""
	}

	return selectionValue(expr.Get(data))
}

// decodeJSON returns a decoded document for payload.
func decodeJSON(payload interface{}) (interface{}, bool) {
	var raw []byte
	switch v := payload.(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	case map[string]interface{}, []interface{}:
		return v, true
	default:
		return nil, false
	}

	var data interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, false
	}
	return data, true
}

// ValidateJSONPathExpression validates a JSONPath expression at load time.
// Returns an error if the expression is invalid.
func ValidateJSONPathExpression(path string) error {
	_, err := jp.ParseString(path)
	if err != nil {
		return fmt.Errorf("invalid JSONPath expression %q: %w", path, err)
	}
	return nil
}
