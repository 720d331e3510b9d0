package inject

import (
	"fmt"
	"sort"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// runExpr evaluates an expr-lang expression against env, using a compile cache.
func (s *Sandbox) runExpr(source string, env map[string]interface{}) (interface{}, error) {
	program, err := s.compileExpr(source, env)
	if err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}

	result, err := expr.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("eval: %w", err)
	}
	return result, nil
}

func (s *Sandbox) compileExpr(source string, env map[string]interface{}) (*vm.Program, error) {
	cacheKey := source + "\x00" + exprEnvSignature(env)

	s.programMu.RLock()
	if program, ok := s.programCache[cacheKey]; ok {
		s.programMu.RUnlock()
		return program, nil
	}
	s.programMu.RUnlock()

	program, err := expr.Compile(source, expr.Env(env))
	if err != nil {
		return nil, err
	}

	s.programMu.Lock()
	if existing, ok := s.programCache[cacheKey]; ok {
		s.programMu.Unlock()
		return existing, nil
	}
	s.programCache[cacheKey] = program
	s.programMu.Unlock()

	return program, nil
}

// exprEnvSignature keys the compile cache by binding names and types, since
// a program is type-checked against the environment it was compiled with.
func exprEnvSignature(env map[string]interface{}) string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+":"+fmt.Sprintf("%T", env[k]))
	}
	return strings.Join(parts, ",")
}
