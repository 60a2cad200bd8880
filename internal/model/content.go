package model

import "time"

// Kind distinguishes the two content populations tracked by the pipeline.
type Kind string

const (
	KindPost    Kind = "post"
	KindComment Kind = "comment"
)

// ContentItem is one observed Reddit post or comment. The master store keys
// items by ID; a later sighting of the same ID refreshes metrics in place.
type ContentItem struct {
	ID        string `json:"id"`
	Kind      Kind   `json:"kind"`
	ParentID  string `json:"parent_id,omitempty"` // comments only
	Subreddit string `json:"subreddit"`
	Author    string `json:"author"`
	Title     string `json:"title,omitempty"` // posts only
	Text      string `json:"text"`
	Permalink string `json:"permalink"`

	CreatedAt time.Time `json:"created_at"` // origin-assigned, immutable
	FetchedAt time.Time `json:"fetched_at"` // first observation, immutable

	RawScore    int     `json:"raw_score"`
	NumComments int     `json:"num_comments"` // replies for comments
	UpvoteRatio float64 `json:"upvote_ratio"` // posts only
	Depth       int     `json:"depth"`        // comments only, >= 0
	Rank        int     `json:"rank,omitempty"`

	// Keywords aggregates every search keyword that has matched this item,
	// merged across sightings.
	Keywords []string `json:"keywords,omitempty"`

	OpportunityScore float64         `json:"opportunity_score"`
	Analysis         *AnalysisResult `json:"analysis,omitempty"`
}

// IsPost reports whether the item is a top-level post.
func (c ContentItem) IsPost() bool { return c.Kind == KindPost }

// MergeKeywords returns the union of the item's keywords and extra,
// preserving first-seen order.
func MergeKeywords(existing, extra []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(extra))
	out := make([]string, 0, len(existing)+len(extra))
	for _, kw := range existing {
		if _, ok := seen[kw]; ok {
			continue
		}
		seen[kw] = struct{}{}
		out = append(out, kw)
	}
	for _, kw := range extra {
		if _, ok := seen[kw]; ok {
			continue
		}
		seen[kw] = struct{}{}
		out = append(out, kw)
	}
	return out
}
