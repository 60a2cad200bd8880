package reddit

import "encoding/json"

// Post is a search result from the listing endpoint.
type Post struct {
	ID          string  `json:"id"`
	Fullname    string  `json:"name"` // t3_<id>
	Subreddit   string  `json:"subreddit"`
	Title       string  `json:"title"`
	SelfText    string  `json:"selftext"`
	Author      string  `json:"author"`
	Score       int     `json:"score"`
	UpvoteRatio float64 `json:"upvote_ratio"`
	NumComments int     `json:"num_comments"`
	CreatedUTC  float64 `json:"created_utc"`
	Permalink   string  `json:"permalink"`
	URL         string  `json:"url"`
	Over18      bool    `json:"over_18"`
	IsVideo     bool    `json:"is_video"`
}

// Comment is one node of a post's comment tree, flattened with its depth.
type Comment struct {
	ID         string  `json:"id"`
	Fullname   string  `json:"name"` // t1_<id>
	Author     string  `json:"author"`
	Body       string  `json:"body"`
	Score      int     `json:"score"`
	CreatedUTC float64 `json:"created_utc"`
	Permalink  string  `json:"permalink"`

	// Depth is 0 for top-level comments.
	Depth int `json:"-"`
	// NumReplies counts all descendants present in the fetched tree.
	NumReplies int `json:"-"`
}

// listing mirrors Reddit's envelope: {"kind": "Listing", "data": {"children": [...]}}.
type listing struct {
	Kind string      `json:"kind"`
	Data listingData `json:"data"`
}

type listingData struct {
	Children []thing `json:"children"`
	After    string  `json:"after"`
}

// thing is one typed child; Data is decoded per Kind ("t3" post, "t1" comment).
type thing struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// commentNode is a comment with its raw replies listing. Reddit encodes an
// empty replies field as "" instead of an object, so it stays raw here.
type commentNode struct {
	Comment
	Replies json.RawMessage `json:"replies"`
}
