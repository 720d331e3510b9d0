package inject

import (
	"context"
	"testing"

	"github.com/getmockd/imposter/pkg/imposter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSandbox_DefaultsAndLanguage(t *testing.T) {
	s := NewSandbox(Config{AllowInjection: true})

	assert.Equal(t, DefaultDryRunDelay, s.Config().DryRunDelay)
	assert.Equal(t, DefaultTimeout, s.Config().Timeout)
	assert.Equal(t, LanguageExpr, s.language(`{"body": "x"}`))
	assert.Equal(t, LanguageGo, s.language("func Respond(c map[string]interface{}) interface{} { return nil }"))
	assert.Equal(t, LanguageGo, s.language("  package main\n"))

	forced := NewSandbox(Config{Language: LanguageGo})
	assert.Equal(t, LanguageGo, forced.language(`{"body": "x"}`))
}

func TestSandbox_DetectsGoAfterCommentsAndImports(t *testing.T) {
	s := NewSandbox(Config{AllowInjection: true})

	tests := []struct {
		name   string
		source string
		want   Language
	}{
		{name: "import first", source: "import \"strings\"\n\nfunc Respond(c map[string]interface{}) interface{} { return nil }", want: LanguageGo},
		{name: "line comment first", source: "// respond\nfunc Respond(c map[string]interface{}) interface{} { return nil }", want: LanguageGo},
		{name: "block comment first", source: "/* doc */ package main", want: LanguageGo},
		{name: "expr object", source: `{"statusCode": 202}`, want: LanguageExpr},
		{name: "expr ternary", source: `request.method == "GET" ? {"body": "a"} : {"body": "b"}`, want: LanguageExpr},
		{name: "empty", source: "", want: LanguageExpr},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.language(tt.source))
		})
	}
}

func TestWrapCode_KeepsExistingPackageAfterComment(t *testing.T) {
	assert.Equal(t, "// doc\npackage main\n", wrapCode("// doc\npackage main\n"))
	assert.Equal(t, "package main\n\nfunc F() {}", wrapCode("func F() {}"))
}

func TestSandbox_Predicates(t *testing.T) {
	s := NewSandbox(Config{AllowInjection: true})
	req := imposter.Request{"path": "/orders"}

	list, err := s.Predicates(context.Background(), `[{"equals": {"path": request.path}}]`, req, nil)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, map[string]interface{}{"equals": map[string]interface{}{"path": "/orders"}}, list[0])
}

func TestSandbox_PredicatesMustReturnList(t *testing.T) {
	s := NewSandbox(Config{AllowInjection: true})

	_, err := s.Predicates(context.Background(), `{"equals": {}}`, imposter.Request{}, nil)
	var injErr *imposter.InjectionError
	require.ErrorAs(t, err, &injErr)
	assert.Contains(t, injErr.Message, "must return a list")
}

func TestSandbox_Decorate(t *testing.T) {
	s := NewSandbox(Config{AllowInjection: true})
	resp := imposter.Response{"statusCode": 200, "body": "hello"}

	out, err := s.Decorate(context.Background(), `{"statusCode": response.statusCode, "body": upper(response.body)}`, imposter.Request{}, resp, nil)
	require.NoError(t, err)
	assert.Equal(t, "HELLO", out["body"])
	assert.Equal(t, "hello", resp["body"], "input response must not be mutated")
}

func TestSandbox_DecorateNilKeepsResponse(t *testing.T) {
	s := NewSandbox(Config{AllowInjection: true})
	resp := imposter.Response{"body": "same"}

	out, err := s.Decorate(context.Background(), `nil`, imposter.Request{}, resp, nil)
	require.NoError(t, err)
	assert.Equal(t, resp, out)
}

func TestSandbox_RefusesWhenDisabled(t *testing.T) {
	s := NewSandbox(Config{})

	_, err := s.Predicates(context.Background(), `[]`, imposter.Request{}, nil)
	var injErr *imposter.InjectionError
	require.ErrorAs(t, err, &injErr)
	assert.Contains(t, err.Error(), "--allow-injection")

	_, err = s.Decorate(context.Background(), `nil`, imposter.Request{}, imposter.Response{}, nil)
	require.ErrorAs(t, err, &injErr)
}

func TestSandbox_CompileCacheReused(t *testing.T) {
	s := NewSandbox(Config{AllowInjection: true})
	env := map[string]interface{}{"request": map[string]interface{}{"path": "/a"}}

	_, err := s.runExpr(`request.path`, env)
	require.NoError(t, err)
	_, err = s.runExpr(`request.path`, env)
	require.NoError(t, err)
	assert.Len(t, s.programCache, 1)
}

func TestValidateImports(t *testing.T) {
	assert.NoError(t, validateImports("package main\n\nimport \"strings\"\n"))

	err := validateImports("package main\n\nimport \"os\"\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "forbidden imports [os]")
}
