package score

import (
	"math"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/model"
)

// Decay curve names accepted by Params.DepthDecay.
const (
	DecayReciprocal  = "reciprocal"  // 1 / (1 + depth)
	DecayExponential = "exponential" // base^depth, 0 < base <= 1
	DecayNone        = "none"        // 1.0 at every depth
)

// Params holds the externally supplied scoring policy. Weights and the
// decay curve come from configuration so the policy can change without a
// code change.
type Params struct {
	W1 float64 // post raw score velocity
	W2 float64 // post comment velocity
	W3 float64 // comment raw score
	W4 float64 // comment reply count

	// MinAgeHours floors the age term so items observed seconds after
	// creation do not blow up the velocity division.
	MinAgeHours float64

	DepthDecay string  // one of the Decay* names
	DecayBase  float64 // exponential base, ignored otherwise
}

// Validate checks the policy before any stage runs.
func (p Params) Validate() error {
	if p.MinAgeHours <= 0 {
		return eris.New("score: min_age_hours must be positive")
	}
	switch p.DepthDecay {
	case DecayReciprocal, DecayNone:
	case DecayExponential:
		if p.DecayBase <= 0 || p.DecayBase > 1 {
			return eris.Errorf("score: exponential decay base %v outside (0, 1]", p.DecayBase)
		}
	default:
		return eris.Errorf("score: unknown depth decay %q", p.DepthDecay)
	}
	return nil
}

// Engine computes opportunity scores. Pure and deterministic given a fixed
// now; holds no state beyond the policy.
type Engine struct {
	params Params
}

// NewEngine builds an Engine from a validated policy.
func NewEngine(params Params) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Engine{params: params}, nil
}

// AgeHours returns the floored age of an item at now.
func (e *Engine) AgeHours(createdAt, now time.Time) float64 {
	age := now.Sub(createdAt).Hours()
	return math.Max(e.params.MinAgeHours, age)
}

// Post scores a top-level post: velocity of upvote-weighted score plus
// velocity of comment accumulation. Negative raw scores stay negative so
// downvoted content sorts to the bottom.
func (e *Engine) Post(rawScore int, upvoteRatio float64, numComments int, createdAt, now time.Time) float64 {
	ageH := e.AgeHours(createdAt, now)
	ratio := clamp01(upvoteRatio)
	scoreVelocity := e.params.W1 * float64(rawScore) * ratio / ageH
	commentVelocity := e.params.W2 * float64(numComments) / ageH
	return scoreVelocity + commentVelocity
}

// Comment scores a reply: the ancestor post's score plus the comment's own
// engagement discounted by depth.
func (e *Engine) Comment(postScore float64, rawScore, numReplies, depth int) float64 {
	component := (e.params.W3*float64(rawScore) + e.params.W4*float64(numReplies)) * e.depthFactor(depth)
	return postScore + component
}

// Item recomputes the opportunity score for an item. Comments need the
// ancestor post's score; pass 0 when the post is unknown.
func (e *Engine) Item(item model.ContentItem, parentPostScore float64, now time.Time) float64 {
	if item.IsPost() {
		return e.Post(item.RawScore, item.UpvoteRatio, item.NumComments, item.CreatedAt, now)
	}
	return e.Comment(parentPostScore, item.RawScore, item.NumComments, item.Depth)
}

func (e *Engine) depthFactor(depth int) float64 {
	if depth < 0 {
		depth = 0
	}
	switch e.params.DepthDecay {
	case DecayExponential:
		return math.Pow(e.params.DecayBase, float64(depth))
	case DecayNone:
		return 1.0
	default:
		return 1.0 / (1.0 + float64(depth))
	}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
