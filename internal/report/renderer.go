package report

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/russross/blackfriday/v2"

	"github.com/sells-group/outreach-cli/internal/model"
)

const redditBaseURL = "https://www.reddit.com"

const scoreExplainer = "This score measures the 'heat' of a discussion, " +
	"combining upvotes, comment velocity, and recency. A higher score means " +
	"a larger, more active audience is looking at this content right now."

// HTMLRenderer renders a briefing as a standalone HTML document, going
// through markdown so the layout stays diffable in tests.
type HTMLRenderer struct{}

func NewHTMLRenderer() *HTMLRenderer { return &HTMLRenderer{} }

func (r *HTMLRenderer) Ext() string { return ".html" }

func (r *HTMLRenderer) Render(b *Briefing) ([]byte, error) {
	md, err := r.Markdown(b)
	if err != nil {
		return nil, err
	}
	body := blackfriday.Run(md)

	var out strings.Builder
	out.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&out, "<title>%s</title>\n", briefingTitle(b))
	out.WriteString("</head>\n<body>\n")
	out.Write(body)
	out.WriteString("</body>\n</html>\n")
	return []byte(out.String()), nil
}

// Markdown produces the briefing source that Render converts to HTML.
func (r *HTMLRenderer) Markdown(b *Briefing) ([]byte, error) {
	var md strings.Builder

	fmt.Fprintf(&md, "# %s\n\n", briefingTitle(b))
	fmt.Fprintf(&md, "*This document outlines high-potential engagement opportunities identified on %s. Each brief includes the content, its opportunity score, and an AI-driven strategy for engagement.*\n\n",
		b.GeneratedAt.Format("January 2, 2006"))
	fmt.Fprintf(&md, "**Understanding the Opportunity Score:** %s\n\n", scoreExplainer)
	md.WriteString("---\n\n")

	for _, opp := range b.Opportunities {
		if err := writeBrief(&md, opp); err != nil {
			return nil, err
		}
	}
	return []byte(md.String()), nil
}

func writeBrief(md *strings.Builder, opp Opportunity) error {
	item := opp.Item
	if item.Analysis == nil || item.Analysis.Status != model.StatusSuitable {
		return eris.Errorf("report: item %s has no suitable analysis", item.ID)
	}

	fmt.Fprintf(md, "## Opportunity Brief: %s\n\n", item.ID)
	fmt.Fprintf(md, "**Subreddit:** r/%s | **Date:** %s\n\n",
		item.Subreddit, item.CreatedAt.Format("2006-01-02"))
	fmt.Fprintf(md, "[Link to content](%s%s)\n\n", redditBaseURL, item.Permalink)
	fmt.Fprintf(md, "**Opportunity Score:** %.2f\n\n", item.OpportunityScore)

	md.WriteString("### Context\n\n")
	switch item.Kind {
	case model.KindPost:
		fmt.Fprintf(md, "**%s**\n\n", item.Title)
		if item.Text != "" {
			fmt.Fprintf(md, "> %s\n\n", quoteLines(item.Text))
		}
	case model.KindComment:
		if opp.Parent != nil {
			fmt.Fprintf(md, "**Original Post: %s**\n\n", opp.Parent.Title)
			if opp.Parent.Text != "" {
				fmt.Fprintf(md, "> %s\n\n", quoteLines(opp.Parent.Text))
			}
		}
		fmt.Fprintf(md, "**Target Comment by u/%s:**\n\n", item.Author)
		fmt.Fprintf(md, "> %s\n\n", quoteLines(item.Text))
	}

	md.WriteString("### AI-Driven Strategy\n\n")
	fmt.Fprintf(md, "- **Category:** %s\n", item.Analysis.Category)
	fmt.Fprintf(md, "- **Strategic Angle:** %s\n\n", item.Analysis.StrategicAngle)
	md.WriteString("---\n\n")
	return nil
}

func briefingTitle(b *Briefing) string {
	population := "Post Opportunities"
	if b.Kind == model.KindComment {
		population = "Comment Opportunities"
	}
	return fmt.Sprintf("%s: %s", b.Title, population)
}

// quoteLines keeps multi-line bodies inside a single blockquote.
func quoteLines(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), "\n", "\n> ")
}
