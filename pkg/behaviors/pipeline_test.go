package behaviors

import (
	"context"
	"testing"
	"time"

	"github.com/getmockd/imposter/pkg/imposter"
	"github.com/getmockd/imposter/pkg/inject"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_Wait(t *testing.T) {
	p := New(nil, nil)
	resp := imposter.Response{"body": "x"}

	start := time.Now()
	out, err := p.Apply(context.Background(), imposter.Request{}, resp, []imposter.Behavior{{Wait: 20}}, nil)
	require.NoError(t, err)
	assert.Equal(t, resp, out)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestDefault_WaitHonorsContext(t *testing.T) {
	p := New(nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := p.Apply(ctx, imposter.Request{}, imposter.Response{}, []imposter.Behavior{{Wait: 60_000}}, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDefault_Decorate(t *testing.T) {
	p := New(inject.NewSandbox(inject.Config{AllowInjection: true}), nil)

	out, err := p.Apply(context.Background(), imposter.Request{"path": "/a"}, imposter.Response{"statusCode": 200},
		[]imposter.Behavior{{Decorate: `{"statusCode": response.statusCode, "body": request.path}`}}, nil)
	require.NoError(t, err)
	assert.Equal(t, imposter.Response{"statusCode": 200, "body": "/a"}, out)
}

func TestDefault_DecorateFailure(t *testing.T) {
	tests := []struct {
		name    string
		sandbox *inject.Sandbox
	}{
		{name: "no sandbox"},
		{name: "injection disabled", sandbox: inject.NewSandbox(inject.Config{})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.sandbox, nil)

			_, err := p.Apply(context.Background(), imposter.Request{}, imposter.Response{}, []imposter.Behavior{{Decorate: `response`}}, nil)
			var injErr *imposter.InjectionError
			assert.ErrorAs(t, err, &injErr)
		})
	}
}

func TestDefault_DryRunSkipsBehaviors(t *testing.T) {
	p := New(nil, nil)
	resp := imposter.Response{"body": "x"}

	out, err := p.Apply(context.Background(), imposter.Request{imposter.DryRunKey: true}, resp,
		[]imposter.Behavior{{Wait: 60_000, Decorate: `nil`}}, nil)
	require.NoError(t, err)
	assert.Equal(t, resp, out)
}

func TestNone(t *testing.T) {
	resp := imposter.Response{"body": "x"}

	out, err := None{}.Apply(context.Background(), nil, resp, []imposter.Behavior{{Wait: 10}}, nil)
	require.NoError(t, err)
	assert.Equal(t, resp, out)
}
