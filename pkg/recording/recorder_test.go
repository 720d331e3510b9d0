package recording

import (
	"context"
	"sync"
	"testing"

	"github.com/getmockd/imposter/pkg/imposter"
	"github.com/getmockd/imposter/pkg/inject"
	"github.com/getmockd/imposter/pkg/metrics"
	"github.com/getmockd/imposter/pkg/predicate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func proxyRule(mode imposter.ProxyMode) (*imposter.Rule, *imposter.ResponseConfig) {
	cfg := &imposter.ResponseConfig{Proxy: &imposter.ProxyConfig{
		To:                  "http://upstream.test",
		Mode:                mode,
		PredicateGenerators: []imposter.PredicateGenerator{{Matches: map[string]interface{}{"path": true}}},
	}}
	return imposter.NewRule(nil, cfg), cfg
}

func newTestRecorder(repo imposter.Repository) *Recorder {
	return NewRecorder(repo, predicate.NewGenerator(nil), metrics.New(prometheus.NewRegistry()))
}

func TestRecord_ProxyOnceAlwaysInserts(t *testing.T) {
	rule, cfg := proxyRule(imposter.ProxyOnce)
	repo := imposter.NewMemoryRepository(rule)
	rec := newTestRecorder(repo)
	req := imposter.Request{"path": "/users"}

	require.NoError(t, rec.Record(context.Background(), cfg, req, imposter.Response{"body": "first"}, nil))
	assert.Equal(t, 2, repo.Len())

	require.NoError(t, rec.Record(context.Background(), cfg, req, imposter.Response{"body": "second"}, nil))
	rules := repo.Rules()
	require.Len(t, rules, 3)

	assert.Same(t, rule, rules[0])
	// the newest recording sits directly after the proxy rule
	assert.Equal(t, "second", rules[1].Responses[0].Is["body"])
	assert.Equal(t, "first", rules[2].Responses[0].Is["body"])
	assert.Equal(t, 1, rules[1].ResponseCount())
	assert.Equal(t, map[string]interface{}{"path": "/users"}, rules[1].Predicates[0].DeepEquals)
}

func TestRecord_ProxyAlwaysAccumulates(t *testing.T) {
	rule, cfg := proxyRule(imposter.ProxyAlways)
	repo := imposter.NewMemoryRepository(rule)
	rec := newTestRecorder(repo)
	req := imposter.Request{"path": "/users"}

	for _, body := range []string{"1", "2", "3"} {
		require.NoError(t, rec.Record(context.Background(), cfg, req, imposter.Response{"body": body}, nil))
	}

	rules := repo.Rules()
	require.Len(t, rules, 2)
	recorded := rules[1]
	require.Equal(t, 3, recorded.ResponseCount())
	for i, body := range []string{"1", "2", "3"} {
		assert.Equal(t, body, recorded.Responses[i].Is["body"])
	}
}

func TestRecord_ProxyAlwaysReusesRuleWithEmptyPredicates(t *testing.T) {
	cfg := &imposter.ResponseConfig{Proxy: &imposter.ProxyConfig{To: "http://upstream.test", Mode: imposter.ProxyAlways}}
	rule := imposter.NewRule(nil, cfg)
	existing := imposter.NewRule([]imposter.Predicate{}, imposter.NewStatic(imposter.Response{"body": "old"}))
	repo := imposter.NewMemoryRepository(rule, existing)
	rec := newTestRecorder(repo)

	require.NoError(t, rec.Record(context.Background(), cfg, imposter.Request{"path": "/any"}, imposter.Response{"body": "new"}, nil))

	require.Equal(t, 2, repo.Len())
	assert.Equal(t, 2, existing.ResponseCount())
}

func TestRecord_ProxyAlwaysConcurrentRecordingsShareOneRule(t *testing.T) {
	rule, cfg := proxyRule(imposter.ProxyAlways)
	repo := imposter.NewMemoryRepository(rule)
	rec := newTestRecorder(repo)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, rec.Record(context.Background(), cfg, imposter.Request{"path": "/users"}, imposter.Response{"body": "x"}, nil))
		}()
	}
	wg.Wait()

	rules := repo.Rules()
	require.Len(t, rules, 2)
	assert.Same(t, rule, rules[0])
	assert.Equal(t, n, rules[1].ResponseCount())
}

func TestRecord_ProxyAlwaysSeparatesDifferentRequests(t *testing.T) {
	rule, cfg := proxyRule(imposter.ProxyAlways)
	repo := imposter.NewMemoryRepository(rule)
	rec := newTestRecorder(repo)

	require.NoError(t, rec.Record(context.Background(), cfg, imposter.Request{"path": "/a"}, imposter.Response{"body": "a"}, nil))
	require.NoError(t, rec.Record(context.Background(), cfg, imposter.Request{"path": "/b"}, imposter.Response{"body": "b"}, nil))
	require.NoError(t, rec.Record(context.Background(), cfg, imposter.Request{"path": "/a"}, imposter.Response{"body": "a2"}, nil))

	rules := repo.Rules()
	require.Len(t, rules, 3)
	assert.Equal(t, "b", rules[1].Responses[0].Is["body"])
	assert.Equal(t, 2, rules[2].ResponseCount())
}

func TestRecord_ProxyAlwaysScansOnlyAfterOrigin(t *testing.T) {
	rule, cfg := proxyRule(imposter.ProxyAlways)
	earlier := imposter.NewRule(
		[]imposter.Predicate{{DeepEquals: map[string]interface{}{"path": "/users"}}},
		imposter.NewStatic(imposter.Response{"body": "earlier"}),
	)
	repo := imposter.NewMemoryRepository(earlier, rule)
	rec := newTestRecorder(repo)

	require.NoError(t, rec.Record(context.Background(), cfg, imposter.Request{"path": "/users"}, imposter.Response{"body": "new"}, nil))

	rules := repo.Rules()
	require.Len(t, rules, 3)
	assert.Equal(t, 1, earlier.ResponseCount())
	assert.Equal(t, "new", rules[2].Responses[0].Is["body"])
}

func TestRecord_ProxyTransparentNeverMutates(t *testing.T) {
	rule, cfg := proxyRule(imposter.ProxyTransparent)
	repo := imposter.NewMemoryRepository(rule)
	rec := newTestRecorder(repo)

	for i := 0; i < 3; i++ {
		require.NoError(t, rec.Record(context.Background(), cfg, imposter.Request{"path": "/x"}, imposter.Response{}, nil))
	}
	assert.Equal(t, 1, repo.Len())
	assert.Equal(t, 1, rule.ResponseCount())
}

func TestRecord_DerivedBehaviors(t *testing.T) {
	rule, cfg := proxyRule(imposter.ProxyOnce)
	cfg.Proxy.AddWaitBehavior = true
	cfg.Proxy.AddDecorateBehavior = `response`
	repo := imposter.NewMemoryRepository(rule)
	rec := newTestRecorder(repo)
	observed := imposter.Response{"body": "x", imposter.ProxyResponseTimeKey: 37}

	require.NoError(t, rec.Record(context.Background(), cfg, imposter.Request{"path": "/"}, observed, nil))

	recorded := repo.Rules()[1].Responses[0]
	assert.Equal(t, imposter.Response{"body": "x"}, recorded.Is)
	assert.Equal(t, []imposter.Behavior{{Wait: 37}, {Decorate: `response`}}, recorded.Behaviors)
	assert.Contains(t, observed, imposter.ProxyResponseTimeKey, "observed response must not be mutated")
}

func TestRecord_NoWaitWithoutFlag(t *testing.T) {
	rule, cfg := proxyRule(imposter.ProxyOnce)
	repo := imposter.NewMemoryRepository(rule)
	rec := newTestRecorder(repo)

	require.NoError(t, rec.Record(context.Background(), cfg, imposter.Request{"path": "/"}, imposter.Response{imposter.ProxyResponseTimeKey: 12}, nil))

	recorded := repo.Rules()[1].Responses[0]
	assert.Empty(t, recorded.Behaviors)
	assert.NotContains(t, recorded.Is, imposter.ProxyResponseTimeKey)
}

func TestRecord_InjectionFailurePropagates(t *testing.T) {
	rule, cfg := proxyRule(imposter.ProxyOnce)
	cfg.Proxy.PredicateGenerators = []imposter.PredicateGenerator{{Inject: `[`}}
	repo := imposter.NewMemoryRepository(rule)
	rec := NewRecorder(repo, predicate.NewGenerator(inject.NewSandbox(inject.Config{AllowInjection: true})), nil)

	err := rec.Record(context.Background(), cfg, imposter.Request{}, imposter.Response{}, nil)
	var injErr *imposter.InjectionError
	require.ErrorAs(t, err, &injErr)
	assert.Equal(t, 1, repo.Len())
}

func TestRecord_RequiresProxy(t *testing.T) {
	rec := newTestRecorder(imposter.NewMemoryRepository())

	err := rec.Record(context.Background(), imposter.NewStatic(nil), imposter.Request{}, imposter.Response{}, nil)
	var valErr *imposter.ValidationError
	assert.ErrorAs(t, err, &valErr)
}
