// Package reddit provides a minimal Reddit data API client for keyword
// search and comment retrieval, authenticated via OAuth2 client credentials.
package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"github.com/sells-group/outreach-cli/internal/resilience"
)

const (
	authURL = "https://www.reddit.com/api/v1/access_token"
	apiURL  = "https://oauth.reddit.com"
)

// Client defines the Reddit operations the collect stage needs.
type Client interface {
	// SearchPosts searches a subreddit for posts matching the query.
	SearchPosts(ctx context.Context, subreddit, query string, opts ...SearchOption) ([]Post, error)
	// FetchComments returns the comment tree of a post flattened in
	// depth-first order, each comment annotated with its depth and
	// descendant count.
	FetchComments(ctx context.Context, subreddit, postID string, limit int) ([]Comment, error)
}

// SearchOption configures a search request.
type SearchOption func(*searchOpts)

type searchOpts struct {
	sort       string
	timeFilter string
	limit      int
}

// WithSort sets the result ordering (top, hot, new, controversial).
func WithSort(sort string) SearchOption {
	return func(o *searchOpts) { o.sort = sort }
}

// WithTimeFilter restricts results to a time window (hour, day, week, month, year, all).
func WithTimeFilter(tf string) SearchOption {
	return func(o *searchOpts) { o.timeFilter = tf }
}

// WithLimit caps the number of results per request.
func WithLimit(n int) SearchOption {
	return func(o *searchOpts) { o.limit = n }
}

// Option configures the Reddit client.
type Option func(*httpClient)

// WithBaseURL sets a custom API base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) { c.baseURL = url }
}

// WithHTTPClient sets a custom HTTP client, bypassing OAuth (for testing).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithRateLimit overrides the default request rate.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) { c.limiter = rate.NewLimiter(rate.Limit(rps), 1) }
}

type httpClient struct {
	baseURL   string
	userAgent string
	http      *http.Client
	limiter   *rate.Limiter
	retry     resilience.RetryConfig
}

// NewClient creates a Reddit client authenticated with the script-app
// client-credentials flow.
func NewClient(clientID, clientSecret, userAgent string, opts ...Option) Client {
	oauthCfg := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     authURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}

	c := &httpClient{
		baseURL:   apiURL,
		userAgent: userAgent,
		http:      oauthCfg.Client(context.Background()),
		limiter:   rate.NewLimiter(rate.Limit(1), 1),
		retry:     resilience.DefaultRetryConfig(),
	}
	c.retry.OnRetry = resilience.RetryLogger("reddit", "request")
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) SearchPosts(ctx context.Context, subreddit, query string, opts ...SearchOption) ([]Post, error) {
	so := searchOpts{sort: "top", timeFilter: "week", limit: 25}
	for _, opt := range opts {
		opt(&so)
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("sort", so.sort)
	params.Set("t", so.timeFilter)
	params.Set("limit", strconv.Itoa(so.limit))
	params.Set("restrict_sr", "1")
	params.Set("raw_json", "1")

	endpoint := fmt.Sprintf("%s/r/%s/search?%s", c.baseURL, subreddit, params.Encode())

	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, eris.Wrapf(err, "reddit: search r/%s %q", subreddit, query)
	}

	var lst listing
	if err := json.Unmarshal(body, &lst); err != nil {
		return nil, eris.Wrapf(err, "reddit: decode search listing r/%s", subreddit)
	}

	posts := make([]Post, 0, len(lst.Data.Children))
	for _, child := range lst.Data.Children {
		if child.Kind != "t3" {
			continue
		}
		var p Post
		if err := json.Unmarshal(child.Data, &p); err != nil {
			return nil, eris.Wrap(err, "reddit: decode post")
		}
		posts = append(posts, p)
	}
	return posts, nil
}

func (c *httpClient) FetchComments(ctx context.Context, subreddit, postID string, limit int) ([]Comment, error) {
	params := url.Values{}
	params.Set("raw_json", "1")
	params.Set("sort", "top")
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	endpoint := fmt.Sprintf("%s/r/%s/comments/%s?%s", c.baseURL, subreddit, postID, params.Encode())

	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, eris.Wrapf(err, "reddit: comments %s/%s", subreddit, postID)
	}

	// The comments endpoint returns [postListing, commentListing].
	var listings []listing
	if err := json.Unmarshal(body, &listings); err != nil {
		return nil, eris.Wrapf(err, "reddit: decode comments %s", postID)
	}
	if len(listings) < 2 {
		return nil, nil
	}

	var comments []Comment
	if err := flattenComments(listings[1].Data.Children, 0, &comments); err != nil {
		return nil, err
	}
	return comments, nil
}

// flattenComments walks the tree depth-first, recording each comment's depth
// and counting its descendants as NumReplies. "more" stubs are skipped.
func flattenComments(children []thing, depth int, out *[]Comment) error {
	for _, child := range children {
		if child.Kind != "t1" {
			continue
		}
		var node commentNode
		if err := json.Unmarshal(child.Data, &node); err != nil {
			return eris.Wrap(err, "reddit: decode comment")
		}
		node.Comment.Depth = depth

		idx := len(*out)
		*out = append(*out, node.Comment)

		if isRepliesListing(node.Replies) {
			var replies listing
			if err := json.Unmarshal(node.Replies, &replies); err != nil {
				return eris.Wrap(err, "reddit: decode replies")
			}
			before := len(*out)
			if err := flattenComments(replies.Data.Children, depth+1, out); err != nil {
				return err
			}
			(*out)[idx].NumReplies = len(*out) - before
		}
	}
	return nil
}

// isRepliesListing reports whether the raw replies field holds a listing
// object rather than the empty-string placeholder Reddit emits for leaves.
func isRepliesListing(raw json.RawMessage) bool {
	return len(raw) > 0 && raw[0] == '{'
}

func (c *httpClient) get(ctx context.Context, endpoint string) ([]byte, error) {
	return resilience.Do(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "rate limit wait")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, eris.Wrap(err, "build request")
		}
		req.Header.Set("User-Agent", c.userAgent)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, resilience.NewTransientError(err, 0)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
		if err != nil {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}

		if resp.StatusCode != http.StatusOK {
			err := eris.Errorf("reddit API status %d: %s", resp.StatusCode, truncate(string(body), 200))
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return nil, resilience.NewTransientError(err, resp.StatusCode)
			}
			return nil, err
		}
		return body, nil
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// CreatedTime converts a Reddit created_utc epoch to time.Time.
func CreatedTime(createdUTC float64) time.Time {
	sec := int64(createdUTC)
	nsec := int64((createdUTC - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}
