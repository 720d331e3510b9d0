package proxy

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/getmockd/imposter/pkg/behaviors"
	"github.com/getmockd/imposter/pkg/imposter"
	"github.com/getmockd/imposter/pkg/metrics"
	"github.com/getmockd/imposter/pkg/predicate"
	"github.com/getmockd/imposter/pkg/recording"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	repo  *imposter.MemoryRepository
	rule  *imposter.Rule
	cfg   *imposter.ResponseConfig
	coord *Coordinator
}

func newFixture(mode imposter.ProxyMode) *fixture {
	cfg := &imposter.ResponseConfig{Proxy: &imposter.ProxyConfig{
		To:                  "http://upstream.test",
		Mode:                mode,
		PredicateGenerators: []imposter.PredicateGenerator{{Matches: map[string]interface{}{"path": true}}},
	}}
	rule := imposter.NewRule(nil, cfg)
	repo := imposter.NewMemoryRepository(rule)
	m := metrics.New(prometheus.NewRegistry())

	return &fixture{
		repo: repo,
		rule: rule,
		cfg:  cfg,
		coord: NewCoordinator(CoordinatorOptions{
			Name:         "http:4545",
			CallbackBase: "http://localhost:2525/imposters/4545/_requests/",
			Repository:   repo,
			Recorder:     recording.NewRecorder(repo, predicate.NewGenerator(nil), m),
			Pipeline:     behaviors.New(nil, m),
			Metrics:      m,
		}),
	}
}

func TestDelegate_KeysIncrease(t *testing.T) {
	f := newFixture(imposter.ProxyOnce)
	req := imposter.Request{"path": "/a"}

	first := f.coord.Delegate(f.cfg, req, Details{})
	second := f.coord.Delegate(f.cfg, req, Details{})

	assert.Equal(t, "http://localhost:2525/imposters/4545/_requests/0", first.CallbackURL)
	assert.Equal(t, "http://localhost:2525/imposters/4545/_requests/1", second.CallbackURL)
	assert.Same(t, f.cfg.Proxy, first.Proxy)
	assert.Equal(t, req, first.Request)
	assert.Equal(t, 2, f.coord.Pending())
}

func TestComplete_FinishesAndRecords(t *testing.T) {
	f := newFixture(imposter.ProxyOnce)
	req := imposter.Request{"path": "/a"}
	f.coord.Delegate(f.cfg, req, Details{})

	result, err := f.coord.Complete(context.Background(), imposter.Response{"statusCode": 201, "body": "real"}, "0", nil)
	require.NoError(t, err)

	assert.Equal(t, 201, result.Response["statusCode"])
	assert.Contains(t, result.Response, imposter.ProxyResponseTimeKey)
	assert.Equal(t, 0, f.coord.Pending())

	rules := f.repo.Rules()
	require.Len(t, rules, 2)
	assert.Equal(t, imposter.Response{"statusCode": 201, "body": "real"}, rules[1].Responses[0].Is)

	result.RecordMatch(result.Response)
	history := f.rule.MatchHistory()
	require.Len(t, history, 1)
	assert.Equal(t, req, history[0].Request)
}

func TestComplete_CarriesDelegationDetails(t *testing.T) {
	f := newFixture(imposter.ProxyOnce)
	details := Details{RemoteAddr: "10.0.0.7:51234", Host: "api.test"}
	f.coord.Delegate(f.cfg, imposter.Request{"path": "/a"}, details)

	result, err := f.coord.Complete(context.Background(), imposter.Response{"body": "real"}, "0", nil)
	require.NoError(t, err)
	assert.Equal(t, details, result.Details)
}

func TestComplete_UnknownKeyIsMissingResource(t *testing.T) {
	f := newFixture(imposter.ProxyOnce)
	f.coord.Delegate(f.cfg, imposter.Request{"path": "/a"}, Details{})

	for _, key := range []string{"7", "forged", "-1", ""} {
		_, err := f.coord.Complete(context.Background(), imposter.Response{}, key, nil)

		var missing *imposter.MissingResourceError
		require.ErrorAs(t, err, &missing, "key %q", key)
		assert.Equal(t, "http://localhost:2525/imposters/4545/_requests/"+key, missing.Resource)
		assert.Equal(t, 1, f.coord.Pending(), "pending set must be untouched")
	}
	assert.Equal(t, 1, f.repo.Len())
}

func TestComplete_SecondCompletionFails(t *testing.T) {
	f := newFixture(imposter.ProxyOnce)
	f.coord.Delegate(f.cfg, imposter.Request{"path": "/a"}, Details{})

	_, err := f.coord.Complete(context.Background(), imposter.Response{}, "0", nil)
	require.NoError(t, err)

	_, err = f.coord.Complete(context.Background(), imposter.Response{}, "0", nil)
	var missing *imposter.MissingResourceError
	require.ErrorAs(t, err, &missing)
	assert.Contains(t, err.Error(), "_requests/0")
	assert.Equal(t, 2, f.repo.Len(), "only the first completion records")
}

func TestFinish_AppliesBehaviorsBeforeRecording(t *testing.T) {
	f := newFixture(imposter.ProxyOnce)
	f.cfg.Behaviors = []imposter.Behavior{{Wait: 5}}

	start := time.Now()
	_, err := f.coord.Finish(context.Background(), f.cfg, imposter.Request{"path": "/a"}, imposter.Response{"body": "x"}, 42*time.Millisecond, nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
}

func TestFinish_StampsLatencyAndCopies(t *testing.T) {
	f := newFixture(imposter.ProxyTransparent)
	observed := imposter.Response{"body": "x"}

	result, err := f.coord.Finish(context.Background(), f.cfg, imposter.Request{}, observed, 42*time.Millisecond, nil)
	require.NoError(t, err)
	assert.Equal(t, 42, result.Response[imposter.ProxyResponseTimeKey])
	assert.NotContains(t, observed, imposter.ProxyResponseTimeKey)
	assert.Equal(t, 1, f.repo.Len())
}

func TestClear(t *testing.T) {
	f := newFixture(imposter.ProxyOnce)
	f.coord.Delegate(f.cfg, imposter.Request{}, Details{})
	f.coord.Clear()
	assert.Equal(t, 0, f.coord.Pending())

	d := f.coord.Delegate(f.cfg, imposter.Request{}, Details{})
	assert.Equal(t, "http://localhost:2525/imposters/4545/_requests/1", d.CallbackURL)
}

func TestCoordinator_ConcurrentDelegations(t *testing.T) {
	f := newFixture(imposter.ProxyTransparent)

	var wg sync.WaitGroup
	urls := make(chan string, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			urls <- f.coord.Delegate(f.cfg, imposter.Request{}, Details{}).CallbackURL
		}()
	}
	wg.Wait()
	close(urls)

	seen := map[string]bool{}
	for u := range urls {
		assert.False(t, seen[u], "duplicate key %s", u)
		seen[u] = true
	}
	assert.Equal(t, 50, f.coord.Pending())
}
