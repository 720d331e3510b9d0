package imposter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRule_NextResponseCycles(t *testing.T) {
	first := NewStatic(Response{"body": "1"})
	second := NewStatic(Response{"body": "2"})
	rule := NewRule(nil, first, second)

	got := []*ResponseConfig{rule.NextResponse(), rule.NextResponse(), rule.NextResponse()}

	assert.Same(t, first, got[0])
	assert.Same(t, second, got[1])
	assert.Same(t, first, got[2])
	assert.Equal(t, int64(2), first.Matched())
	assert.Equal(t, int64(1), second.Matched())
}

func TestRule_NextResponseHonorsRepeat(t *testing.T) {
	first := &ResponseConfig{Is: Response{"body": "1"}, Repeat: 2}
	second := NewStatic(Response{"body": "2"})
	rule := NewRule(nil, first, second)

	assert.Same(t, first, rule.NextResponse())
	assert.Same(t, first, rule.NextResponse())
	assert.Same(t, second, rule.NextResponse())
	assert.Same(t, first, rule.NextResponse())
}

func TestRule_NextResponsePicksUpAppendedResponses(t *testing.T) {
	first := NewStatic(Response{"body": "1"})
	rule := NewRule(nil, first)
	repo := NewMemoryRepository(rule)

	assert.Same(t, first, rule.NextResponse())

	second := NewStatic(Response{"body": "2"})
	require.NoError(t, repo.AddResponse(0, second))

	assert.Same(t, second, rule.NextResponse())
	assert.Same(t, first, rule.NextResponse())
}

func TestRule_NextResponseEmpty(t *testing.T) {
	assert.Nil(t, NewRule(nil).NextResponse())
}

func TestRule_RecordMatchCopiesPayloads(t *testing.T) {
	rule := NewRule(nil, NewStatic(nil))
	req := Request{"path": "/a"}
	resp := Response{"body": "x"}

	rule.RecordMatch(req, resp)
	req["path"] = "/b"

	history := rule.MatchHistory()
	require.Len(t, history, 1)
	assert.Equal(t, "/a", history[0].Request["path"])
	assert.Equal(t, "x", history[0].Response["body"])
}
