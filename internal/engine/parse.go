package engine

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

// Listing item attributes carried by shreddit-post elements.
const (
	attrID           = "id"
	attrPermalink    = "permalink"
	attrContentHref  = "content-href"
	attrCommentCount = "comment-count"
	attrTitle        = "post-title"
	attrAuthor       = "author"
	attrScore        = "score"
)

// ParseCandidates extracts every element matching itemSelector from markup.
// The snapshot always holds the whole accumulated DOM, so callers dedupe.
func ParseCandidates(markup string, itemSelector string) ([]crawler.Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	items := doc.Find(itemSelector)
	out := make([]crawler.Candidate, 0, items.Length())
	items.Each(func(_ int, sel *goquery.Selection) {
		content := attr(sel, attrContentHref)
		out = append(out, crawler.Candidate{
			ID:           attr(sel, attrID),
			Permalink:    attr(sel, attrPermalink),
			ContentURL:   content,
			CommentCount: attr(sel, attrCommentCount),
			Title:        attr(sel, attrTitle),
			Author:       attr(sel, attrAuthor),
			Score:        attr(sel, attrScore),
			Media:        ClassifyMedia(content),
		})
	})
	return out, nil
}

func attr(sel *goquery.Selection, name string) string {
	v, _ := sel.Attr(name)
	return strings.TrimSpace(v)
}
