package matching

import (
	"log/slog"
	"strings"

	"github.com/beevik/etree"
	"github.com/getmockd/imposter/pkg/logging"
)

// ExtractXPath applies an XPath selector to an XML payload field.
//
// Supported syntax is etree's path language plus:
//   - a trailing /@attr or /text() step
//   - count(path) and boolean(path), which return an int and a bool
//   - prefixes declared in ns, rewritten into namespace-uri() filters
//
// Returns "" when the payload is absent, not XML or nothing matches.
func ExtractXPath(selector string, ns map[string]string, payload interface{}, logger *slog.Logger) interface{} {
	if payload == nil {
		return ""
	}
	logger = logging.OrNop(logger)

	text, ok := payload.(string)
	if !ok {
		logger.Debug("xpath selector applied to non-string value", "selector", selector)
		return ""
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromString(text); err != nil {
		logger.Debug("xpath selector applied to non-XML value", "selector", selector, "error", err)
		return ""
	}

	fn, inner := scalarFunction(strings.TrimSpace(selector))
	values, err := selectXPath(doc, rewriteNamespaces(inner, ns))
	if err != nil {
		logger.Warn("invalid xpath selector", "selector", selector, "error", err)
		return ""
	}

	switch fn {
	case "count":
		return len(values)
	case "boolean":
		return len(values) > 0
	default:
		return selectionValue(values)
	}
}

// scalarFunction unwraps count(...) and boolean(...).
func scalarFunction(selector string) (string, string) {
	for _, fn := range []string{"count", "boolean"} {
		prefix := fn + "("
		if strings.HasPrefix(selector, prefix) && strings.HasSuffix(selector, ")") {
			return fn, strings.TrimSpace(selector[len(prefix) : len(selector)-1])
		}
	}
	return "", selector
}

// selectXPath returns the text or attribute values selected by path.
func selectXPath(doc *etree.Document, path string) ([]interface{}, error) {
	elemPath, attr, text := splitTerminal(path)

	compiled, err := etree.CompilePath(elemPath)
	if err != nil {
		return nil, err
	}

	var values []interface{}
	for _, elem := range doc.FindElementsPath(compiled) {
		switch {
		case attr != "":
			if a := elem.SelectAttr(attr); a != nil {
				values = append(values, a.Value)
			}
		case text:
			values = append(values, elem.Text())
		default:
			values = append(values, strings.TrimSpace(elem.Text()))
		}
	}
	return values, nil
}

// splitTerminal separates a trailing @attr or text() step from the element path.
func splitTerminal(path string) (elemPath, attr string, text bool) {
	steps := splitSteps(path)
	if len(steps) == 0 {
		return path, "", false
	}
	last := steps[len(steps)-1]

	switch {
	case strings.HasPrefix(last, "@"):
		attr = last[1:]
	case last == "text()":
		text = true
	default:
		return path, "", false
	}

	prefix := path[:len(path)-len(last)]
	if strings.HasSuffix(prefix, "//") {
		elemPath = prefix + "*"
	} else {
		elemPath = strings.TrimSuffix(prefix, "/")
	}
	if elemPath == "" {
		elemPath = "."
	}
	return elemPath, attr, text
}

// rewriteNamespaces maps declared prefixes onto namespace-uri() filters so
// the selector matches by namespace URI rather than the document's prefix.
func rewriteNamespaces(path string, ns map[string]string) string {
	if len(ns) == 0 {
		return path
	}

	var b strings.Builder
	for i, step := range splitSteps(path) {
		if i > 0 {
			b.WriteByte('/')
		}
		b.WriteString(rewriteStep(step, ns))
	}
	return b.String()
}

func rewriteStep(step string, ns map[string]string) string {
	name, filters := step, ""
	if idx := strings.IndexByte(step, '['); idx >= 0 {
		name, filters = step[:idx], step[idx:]
	}

	prefix, local, ok := strings.Cut(name, ":")
	if !ok || strings.HasPrefix(name, "@") {
		return step
	}
	uri, declared := ns[prefix]
	if !declared {
		return step
	}
	return local + "[namespace-uri()='" + uri + "']" + filters
}

// splitSteps splits a path on '/' outside of filters and quotes. Leading
// and doubled slashes produce empty steps, which keeps them when rejoined.
func splitSteps(path string) []string {
	var (
		steps []string
		depth int
		quote byte
		start int
	)
	for i := 0; i < len(path); i++ {
		c := path[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '[':
			depth++
		case c == ']':
			depth--
		case c == '/' && depth == 0:
			steps = append(steps, path[start:i])
			start = i + 1
		}
	}
	return append(steps, path[start:])
}
