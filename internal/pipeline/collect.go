// Package pipeline runs the four stages — collect, filter, analyze,
// report — in order against the shared store, with resumable run metadata.
package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/score"
	"github.com/sells-group/outreach-cli/internal/store"
	"github.com/sells-group/outreach-cli/pkg/reddit"
)

// CollectResult summarizes one collect stage.
type CollectResult struct {
	Posts    int
	Comments int
	Stats    store.UpsertStats
}

// Collector drives the Reddit client across every subreddit × keyword pair,
// scores what it finds, and upserts into the master store. Re-running is
// safe: already-seen ids refresh metrics and merge keywords in place.
type Collector struct {
	store  store.Store
	client reddit.Client
	engine *score.Engine
	cfg    config.SearchConfig
	now    func() time.Time
}

// NewCollector wires a collector.
func NewCollector(st store.Store, client reddit.Client, engine *score.Engine, cfg config.SearchConfig) *Collector {
	return &Collector{store: st, client: client, engine: engine, cfg: cfg, now: time.Now}
}

// sighting accumulates one post across keyword searches within a session,
// so an item matched by several keywords carries all of them.
type sighting struct {
	post     reddit.Post
	keywords []string
}

// Run executes the collect stage and returns what it gathered.
func (c *Collector) Run(ctx context.Context) (*CollectResult, error) {
	now := c.now().UTC()

	seen := make(map[string]*sighting)
	var order []string
	for _, sub := range c.cfg.Subreddits {
		for _, kw := range c.cfg.Keywords {
			posts, err := c.client.SearchPosts(ctx, sub, kw,
				reddit.WithSort(c.cfg.SortMethod),
				reddit.WithTimeFilter(c.cfg.TimeFilter),
				reddit.WithLimit(c.cfg.PostsPerKeyword),
			)
			if err != nil {
				return nil, eris.Wrapf(err, "collect: search r/%s for %q", sub, kw)
			}
			zap.L().Debug("collect: searched",
				zap.String("subreddit", sub),
				zap.String("keyword", kw),
				zap.Int("posts", len(posts)),
			)
			for _, p := range posts {
				s, ok := seen[p.Fullname]
				if !ok {
					s = &sighting{post: p}
					seen[p.Fullname] = s
					order = append(order, p.Fullname)
				}
				s.keywords = model.MergeKeywords(s.keywords, []string{kw})
			}
		}
	}

	res := &CollectResult{}
	var items []model.ContentItem
	for _, id := range order {
		s := seen[id]
		if c.skipPost(s.post) {
			continue
		}

		postItem := c.postItem(s.post, s.keywords, now)
		items = append(items, postItem)
		res.Posts++

		comments, err := c.client.FetchComments(ctx, s.post.Subreddit, s.post.ID, c.cfg.MaxCommentsPerPost)
		if err != nil {
			return nil, eris.Wrapf(err, "collect: comments for %s", s.post.Fullname)
		}
		for rank, cm := range comments {
			if c.skipComment(cm) {
				continue
			}
			items = append(items, c.commentItem(cm, postItem, rank, now))
			res.Comments++
		}
	}

	stats, err := c.store.UpsertItems(ctx, items)
	if err != nil {
		return nil, eris.Wrap(err, "collect: upsert items")
	}
	res.Stats = stats

	zap.L().Info("collect: finished",
		zap.Int("posts", res.Posts),
		zap.Int("comments", res.Comments),
		zap.Int("inserted", stats.Inserted),
		zap.Int("updated", stats.Updated),
	)
	return res, nil
}

func (c *Collector) skipPost(p reddit.Post) bool {
	if c.cfg.ExcludeNSFW && p.Over18 {
		return true
	}
	if c.cfg.ExcludeDeleted && isDeleted(p.Author, p.SelfText) {
		return true
	}
	return p.Score < c.cfg.MinPostScore
}

func (c *Collector) skipComment(cm reddit.Comment) bool {
	return c.cfg.ExcludeDeleted && isDeleted(cm.Author, cm.Body)
}

func (c *Collector) postItem(p reddit.Post, keywords []string, now time.Time) model.ContentItem {
	created := reddit.CreatedTime(p.CreatedUTC)
	return model.ContentItem{
		ID:               p.Fullname,
		Kind:             model.KindPost,
		Subreddit:        p.Subreddit,
		Author:           p.Author,
		Title:            cleanText(p.Title),
		Text:             cleanText(p.SelfText),
		Permalink:        p.Permalink,
		CreatedAt:        created,
		FetchedAt:        now,
		RawScore:         p.Score,
		NumComments:      p.NumComments,
		UpvoteRatio:      p.UpvoteRatio,
		Keywords:         keywords,
		OpportunityScore: c.engine.Post(p.Score, p.UpvoteRatio, p.NumComments, created, now),
	}
}

func (c *Collector) commentItem(cm reddit.Comment, parent model.ContentItem, rank int, now time.Time) model.ContentItem {
	return model.ContentItem{
		ID:               cm.Fullname,
		Kind:             model.KindComment,
		ParentID:         parent.ID,
		Subreddit:        parent.Subreddit,
		Author:           cm.Author,
		Text:             cleanText(cm.Body),
		Permalink:        cm.Permalink,
		CreatedAt:        reddit.CreatedTime(cm.CreatedUTC),
		FetchedAt:        now,
		RawScore:         cm.Score,
		NumComments:      cm.NumReplies,
		Depth:            cm.Depth,
		Rank:             rank,
		Keywords:         parent.Keywords,
		OpportunityScore: c.engine.Comment(parent.OpportunityScore, cm.Score, cm.NumReplies, cm.Depth),
	}
}

func isDeleted(author, body string) bool {
	return author == "[deleted]" || body == "[deleted]" || body == "[removed]"
}

// cleanText NFC-normalizes fetched free text and collapses runs of
// whitespace, keeping ids and text stable across re-fetches.
func cleanText(s string) string {
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}
