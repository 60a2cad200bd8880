package score

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/model"
)

func newTestEngine(t *testing.T, p Params) *Engine {
	t.Helper()
	e, err := NewEngine(p)
	require.NoError(t, err)
	return e
}

func unitParams() Params {
	return Params{W1: 1, W2: 1, W3: 1, W4: 1, MinAgeHours: 0.5, DepthDecay: DecayReciprocal}
}

func TestEngine_PostScore(t *testing.T) {
	e := newTestEngine(t, unitParams())
	now := time.Now().UTC()

	// raw=100, ratio=0.9, comments=20, age=2h -> 100*0.9/2 + 20/2 = 55.
	got := e.Post(100, 0.9, 20, now.Add(-2*time.Hour), now)
	assert.InDelta(t, 55.0, got, 1e-9)
}

func TestEngine_CommentScore(t *testing.T) {
	e := newTestEngine(t, unitParams())

	// depth=1 -> factor 0.5; 55 + (10 + 2)*0.5 = 61.
	got := e.Comment(55.0, 10, 2, 1)
	assert.InDelta(t, 61.0, got, 1e-9)
}

func TestEngine_AgeFloor(t *testing.T) {
	e := newTestEngine(t, Params{W1: 1, W2: 1, W3: 1, W4: 1, MinAgeHours: 1.0, DepthDecay: DecayReciprocal})
	now := time.Now().UTC()

	// Created 10 seconds ago: age floors at 1h, so the score equals the 1h score.
	fresh := e.Post(60, 1.0, 0, now.Add(-10*time.Second), now)
	atFloor := e.Post(60, 1.0, 0, now.Add(-time.Hour), now)
	assert.InDelta(t, atFloor, fresh, 1e-9)
	assert.InDelta(t, 60.0, fresh, 1e-9)
}

func TestEngine_UpvoteRatioClamped(t *testing.T) {
	e := newTestEngine(t, unitParams())
	now := time.Now().UTC()
	created := now.Add(-time.Hour)

	over := e.Post(100, 1.7, 0, created, now)
	one := e.Post(100, 1.0, 0, created, now)
	assert.InDelta(t, one, over, 1e-9)

	under := e.Post(100, -0.3, 0, created, now)
	assert.InDelta(t, 0.0, under, 1e-9)
}

func TestEngine_NegativeRawScoreNotClamped(t *testing.T) {
	e := newTestEngine(t, unitParams())
	now := time.Now().UTC()

	got := e.Post(-40, 1.0, 0, now.Add(-2*time.Hour), now)
	assert.Less(t, got, 0.0)
}

func TestEngine_DepthDecayCurves(t *testing.T) {
	now := time.Now().UTC()
	_ = now

	recip := newTestEngine(t, unitParams())
	assert.InDelta(t, 10.0+5.0, recip.Comment(10, 10, 0, 1), 1e-9) // 10 + 10*0.5

	exp := newTestEngine(t, Params{W1: 1, W2: 1, W3: 1, W4: 1, MinAgeHours: 0.5, DepthDecay: DecayExponential, DecayBase: 0.5})
	assert.InDelta(t, 10.0+2.5, exp.Comment(10, 10, 0, 2), 1e-9) // 10 + 10*0.25

	flat := newTestEngine(t, Params{W1: 1, W2: 1, W3: 1, W4: 1, MinAgeHours: 0.5, DepthDecay: DecayNone})
	assert.InDelta(t, 20.0, flat.Comment(10, 10, 0, 7), 1e-9)
}

func TestEngine_DeeperRepliesDiscounted(t *testing.T) {
	e := newTestEngine(t, unitParams())
	shallow := e.Comment(0, 10, 10, 0)
	deep := e.Comment(0, 10, 10, 4)
	assert.Greater(t, shallow, deep)
}

func TestEngine_Item(t *testing.T) {
	e := newTestEngine(t, unitParams())
	now := time.Now().UTC()

	post := model.ContentItem{
		Kind: model.KindPost, RawScore: 100, UpvoteRatio: 0.9, NumComments: 20,
		CreatedAt: now.Add(-2 * time.Hour),
	}
	assert.InDelta(t, 55.0, e.Item(post, 0, now), 1e-9)

	comment := model.ContentItem{
		Kind: model.KindComment, RawScore: 10, NumComments: 2, Depth: 1,
	}
	assert.InDelta(t, 61.0, e.Item(comment, 55.0, now), 1e-9)
}

func TestParams_Validate(t *testing.T) {
	bad := unitParams()
	bad.MinAgeHours = 0
	_, err := NewEngine(bad)
	assert.Error(t, err)

	bad = unitParams()
	bad.DepthDecay = "logarithmic"
	_, err = NewEngine(bad)
	assert.Error(t, err)

	bad = unitParams()
	bad.DepthDecay = DecayExponential
	bad.DecayBase = 1.5
	_, err = NewEngine(bad)
	assert.Error(t, err)
}
