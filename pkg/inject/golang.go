package inject

import (
	"context"
	"fmt"
	"go/parser"
	"go/token"
	"sort"
	"strconv"
	"strings"

	"github.com/getmockd/imposter/pkg/imposter"
	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// allowedPackages are the stdlib packages Go injections may import. Packages
// with filesystem, network or process access are not listed.
var allowedPackages = map[string]bool{
	"bytes":           true,
	"encoding/base64": true,
	"encoding/json":   true,
	"fmt":             true,
	"math":            true,
	"regexp":          true,
	"sort":            true,
	"strconv":         true,
	"strings":         true,
	"time":            true,
	"unicode":         true,
}

// restrictedSymbols is stdlib.Symbols narrowed to allowedPackages. Keys have
// the form "import/path/name".
var restrictedSymbols = func() interp.Exports {
	out := interp.Exports{}
	for key, symbols := range stdlib.Symbols {
		idx := strings.LastIndex(key, "/")
		if idx < 0 {
			continue
		}
		if allowedPackages[key[:idx]] {
			out[key] = symbols
		}
	}
	return out
}()

// entryFunc is the signature every Go entry point must have.
type entryFunc = func(map[string]interface{}) interface{}

// runGo interprets source and calls its entry function with env.
func runGo(ctx context.Context, source, entry string, env map[string]interface{}) (interface{}, error) {
	code := wrapCode(source)
	if err := validateImports(code); err != nil {
		return nil, err
	}

	i := interp.New(interp.Options{})
	if err := i.Use(restrictedSymbols); err != nil {
		return nil, fmt.Errorf("load stdlib: %w", err)
	}
	if _, err := i.Eval(code); err != nil {
		return nil, err
	}

	v, err := i.Eval("main." + entry)
	if err != nil {
		return nil, fmt.Errorf("%s function not found: %w", entry, err)
	}
	fn, ok := v.Interface().(entryFunc)
	if !ok {
		return nil, fmt.Errorf("%s has incorrect signature (expected: func(map[string]interface{}) interface{})", entry)
	}

	type outcome struct {
		value interface{}
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		done <- outcome{value: fn(env)}
	}()

	select {
	case o := <-done:
		return o.value, o.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%s timed out: %w", entry, ctx.Err())
	}
}

// wrapCode adds a main package clause if needed.
func wrapCode(source string) string {
	if firstGoToken(source) == token.PACKAGE {
		return source
	}
	return "package main\n\n" + source
}

// validateImports rejects imports outside allowedPackages.
func validateImports(code string) error {
	file, err := parser.ParseFile(token.NewFileSet(), "inject.go", code, parser.ImportsOnly)
	if err != nil {
		return err
	}

	var forbidden []string
	for _, spec := range file.Imports {
		path, err := strconv.Unquote(spec.Path.Value)
		if err != nil {
			return err
		}
		if !allowedPackages[path] {
			forbidden = append(forbidden, path)
		}
	}
	if len(forbidden) > 0 {
		allowed := make([]string, 0, len(allowedPackages))
		for pkg := range allowedPackages {
			allowed = append(allowed, pkg)
		}
		sort.Strings(allowed)
		return fmt.Errorf("forbidden imports %v (allowed: %v)", forbidden, allowed)
	}
	return nil
}

// goEnv adapts bindings for interpreted code, which cannot name engine
// types: state becomes its live map and the logger a map of functions.
func goEnv(env map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(env))
	for k, v := range env {
		out[k] = goValue(v)
	}
	return out
}

func goValue(v interface{}) interface{} {
	switch t := v.(type) {
	case *imposter.StateView:
		return t.Values()
	case *ScriptLogger:
		return t.funcs()
	case map[string]interface{}:
		if isBindingMap(t) {
			return goEnv(t)
		}
	}
	return v
}

// isBindingMap reports whether m holds engine types needing adaptation.
func isBindingMap(m map[string]interface{}) bool {
	for _, v := range m {
		switch v.(type) {
		case *imposter.StateView, *ScriptLogger:
			return true
		}
	}
	return false
}
