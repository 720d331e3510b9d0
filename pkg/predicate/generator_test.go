package predicate

import (
	"context"
	"testing"

	"github.com/getmockd/imposter/internal/matching"
	"github.com/getmockd/imposter/pkg/imposter"
	"github.com/getmockd/imposter/pkg/inject"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRequest() imposter.Request {
	return imposter.Request{
		"method": "POST",
		"path":   "/orders",
		"query":  map[string]interface{}{"page": "2", "sort": "asc"},
		"headers": map[string]interface{}{
			"Content-Type": "application/json",
		},
		"body": `{"order": {"id": 42, "items": ["a", "b"]}}`,
	}
}

func TestGenerate_DeepEqualsOnTrue(t *testing.T) {
	req := sampleRequest()
	g := NewGenerator(nil)

	preds, err := g.Generate(context.Background(), req, []imposter.PredicateGenerator{
		{Matches: map[string]interface{}{"query": true}},
	}, nil)
	require.NoError(t, err)
	require.Len(t, preds, 1)

	assert.Equal(t, map[string]interface{}{"query": req["query"]}, preds[0].DeepEquals)
	assert.Nil(t, preds[0].Equals)
	assert.True(t, matching.MatchPredicate(preds[0], req, nil))
}

func TestGenerate_DeepEqualsWithSelector(t *testing.T) {
	req := sampleRequest()
	g := NewGenerator(nil)
	jsonPath := &imposter.JSONPathSelector{Selector: "$.order.items[*]"}

	preds, err := g.Generate(context.Background(), req, []imposter.PredicateGenerator{
		{Matches: map[string]interface{}{"body": true}, JSONPath: jsonPath},
	}, nil)
	require.NoError(t, err)
	require.Len(t, preds, 1)

	assert.Equal(t, map[string]interface{}{"body": []interface{}{"a", "b"}}, preds[0].DeepEquals)
	assert.Equal(t, jsonPath, preds[0].JSONPath)
	assert.True(t, matching.MatchPredicate(preds[0], req, nil))
}

func TestGenerate_EqualsMirrorsNesting(t *testing.T) {
	req := sampleRequest()
	g := NewGenerator(nil)

	preds, err := g.Generate(context.Background(), req, []imposter.PredicateGenerator{
		{
			Matches:       map[string]interface{}{"query": map[string]interface{}{"page": true, "missing": true}, "path": "yes"},
			CaseSensitive: true,
			Except:        "\\d+",
		},
	}, nil)
	require.NoError(t, err)
	require.Len(t, preds, 2)

	// fields are emitted in sorted order
	assert.Equal(t, map[string]interface{}{"path": "/orders"}, preds[0].Equals)
	assert.Equal(t, map[string]interface{}{"query": map[string]interface{}{"page": "2"}}, preds[1].Equals)
	for _, p := range preds {
		assert.True(t, p.CaseSensitive)
		assert.Equal(t, "\\d+", p.Except)
	}
}

func TestGenerate_ObjectMatcherOnScalarTakesWholeValue(t *testing.T) {
	g := NewGenerator(nil)

	preds, err := g.Generate(context.Background(), imposter.Request{"path": "/x"}, []imposter.PredicateGenerator{
		{Matches: map[string]interface{}{"path": map[string]interface{}{"deeper": true}}},
	}, nil)
	require.NoError(t, err)
	require.Len(t, preds, 1)
	assert.Equal(t, map[string]interface{}{"path": "/x"}, preds[0].Equals)
}

func TestGenerate_DisabledMatchersSkipped(t *testing.T) {
	g := NewGenerator(nil)

	preds, err := g.Generate(context.Background(), sampleRequest(), []imposter.PredicateGenerator{
		{Matches: map[string]interface{}{"path": false, "method": nil, "query": map[string]interface{}{}}},
	}, nil)
	require.NoError(t, err)
	assert.Empty(t, preds)
}

func TestGenerate_PredicateOperator(t *testing.T) {
	req := sampleRequest()
	g := NewGenerator(nil)

	preds, err := g.Generate(context.Background(), req, []imposter.PredicateGenerator{
		{Matches: map[string]interface{}{"path": true}, PredicateOperator: imposter.OperatorContains},
		{Matches: map[string]interface{}{"query": true}, PredicateOperator: imposter.OperatorDeepEquals},
	}, nil)
	require.NoError(t, err)
	require.Len(t, preds, 2)

	assert.Equal(t, map[string]interface{}{"path": "/orders"}, preds[0].Contains)
	assert.Nil(t, preds[0].DeepEquals)
	assert.Equal(t, map[string]interface{}{"query": req["query"]}, preds[1].DeepEquals)
}

func TestGenerate_Exists(t *testing.T) {
	g := NewGenerator(nil)

	preds, err := g.Generate(context.Background(), sampleRequest(), []imposter.PredicateGenerator{
		{
			Matches:           map[string]interface{}{"query": map[string]interface{}{"page": true, "limit": true}},
			PredicateOperator: imposter.OperatorExists,
		},
	}, nil)
	require.NoError(t, err)
	require.Len(t, preds, 1)

	assert.Equal(t, map[string]interface{}{
		"query": map[string]interface{}{"page": true, "limit": false},
	}, preds[0].Exists)
}

func TestGenerate_SelectorValuesCopied(t *testing.T) {
	req := sampleRequest()
	g := NewGenerator(nil)

	preds, err := g.Generate(context.Background(), req, []imposter.PredicateGenerator{
		{Matches: map[string]interface{}{"query": true}},
	}, nil)
	require.NoError(t, err)

	preds[0].DeepEquals["query"].(map[string]interface{})["page"] = "changed"
	assert.Equal(t, "2", req["query"].(map[string]interface{})["page"])
}

func TestGenerate_InjectSpliced(t *testing.T) {
	g := NewGenerator(inject.NewSandbox(inject.Config{AllowInjection: true}))

	preds, err := g.Generate(context.Background(), sampleRequest(), []imposter.PredicateGenerator{
		{Matches: map[string]interface{}{"method": true}},
		{Inject: `[{"equals": {"path": request.path}}, {"exists": {"query": true}, "caseSensitive": true}]`},
	}, nil)
	require.NoError(t, err)
	require.Len(t, preds, 3)

	assert.Equal(t, map[string]interface{}{"method": "POST"}, preds[0].DeepEquals)
	assert.Equal(t, map[string]interface{}{"path": "/orders"}, preds[1].Equals)
	assert.Equal(t, map[string]interface{}{"query": true}, preds[2].Exists)
	assert.True(t, preds[2].CaseSensitive)
}

func TestGenerate_InjectFailureAborts(t *testing.T) {
	tests := []struct {
		name    string
		sandbox *inject.Sandbox
		source  string
	}{
		{name: "no sandbox", sandbox: nil, source: `[]`},
		{name: "injection disabled", sandbox: inject.NewSandbox(inject.Config{}), source: `[]`},
		{name: "syntax error", sandbox: inject.NewSandbox(inject.Config{AllowInjection: true}), source: `[{`},
		{name: "not a list", sandbox: inject.NewSandbox(inject.Config{AllowInjection: true}), source: `{"equals": {}}`},
		{name: "invalid predicate", sandbox: inject.NewSandbox(inject.Config{AllowInjection: true}), source: `["nope"]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGenerator(tt.sandbox)

			preds, err := g.Generate(context.Background(), sampleRequest(), []imposter.PredicateGenerator{
				{Matches: map[string]interface{}{"path": true}},
				{Inject: tt.source},
			}, nil)
			var injErr *imposter.InjectionError
			require.ErrorAs(t, err, &injErr)
			assert.Nil(t, preds)
		})
	}
}
