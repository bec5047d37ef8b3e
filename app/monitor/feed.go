package monitor

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
)

// FeedSource watches an RSS/Atom deal feed. The cursor is the unix timestamp
// of the newest item already handed off, so restarts within a process never
// replay items.
type FeedSource struct {
	name   string
	url    string
	parser *gofeed.Parser
}

var _ SourceClient = (*FeedSource)(nil)

func NewFeedSource(name, url, userAgent string) *FeedSource {
	parser := gofeed.NewParser()
	parser.UserAgent = userAgent

	return &FeedSource{
		name:   name,
		url:    url,
		parser: parser,
	}
}

func (f *FeedSource) Name() string {
	return f.name
}

// Connect validates that the feed URL parses.
func (f *FeedSource) Connect(ctx context.Context) error {
	if _, err := f.parser.ParseURLWithContext(f.url, ctx); err != nil {
		return fmt.Errorf("parse feed: %w", err)
	}
	return nil
}

func (f *FeedSource) Ping(ctx context.Context) error {
	return f.Connect(ctx)
}

func (f *FeedSource) Fetch(ctx context.Context, sinceID int64) ([]Message, int64, error) {
	feed, err := f.parser.ParseURLWithContext(f.url, ctx)
	if err != nil {
		return nil, sinceID, fmt.Errorf("parse feed: %w", err)
	}

	cursor := sinceID
	var messages []Message

	// Feeds list newest first; walk backwards so messages come out oldest
	// first.
	for i := len(feed.Items) - 1; i >= 0; i-- {
		item := feed.Items[i]
		if item.PublishedParsed == nil {
			continue
		}

		published := item.PublishedParsed.Unix()
		if published <= sinceID {
			continue
		}
		if published > cursor {
			cursor = published
		}

		messages = append(messages, Message{
			SourceID: f.name,
			ID:       published,
			Text:     feedItemText(item),
			ImageRef: feedItemImage(item),
			At:       *item.PublishedParsed,
		})
	}

	return messages, cursor, nil
}

// feedItemText flattens an item into the plain-text shape the classifier
// expects: title, description, link.
func feedItemText(item *gofeed.Item) string {
	var parts []string

	if title := strings.TrimSpace(item.Title); title != "" {
		parts = append(parts, title)
	}
	if desc := stripHTML(item.Description); desc != "" {
		parts = append(parts, desc)
	}
	if link := strings.TrimSpace(item.Link); link != "" {
		parts = append(parts, link)
	}

	return strings.Join(parts, "\n")
}

func feedItemImage(item *gofeed.Item) string {
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	for _, enc := range item.Enclosures {
		if strings.HasPrefix(enc.Type, "image/") {
			return enc.URL
		}
	}
	return ""
}

func stripHTML(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return raw
	}
	return strings.TrimSpace(doc.Text())
}
