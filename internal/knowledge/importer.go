package knowledge

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/fisioflow/backend/pkg/logger"
)

var importWhitespace = regexp.MustCompile(`\s+`)

// ImportHTML turns an exported clinic document (HTML) into a contributed
// knowledge entry: page chrome is stripped, the title comes from <title>
// or the first <h1>, and tags are extracted from the text.
func (s *Store) ImportHTML(ctx context.Context, html, entryType, authorID string) (*ImportResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	doc.Find("script, style, nav, footer, header, aside").Each(func(i int, sel *goquery.Selection) {
		sel.Remove()
	})

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}

	content := doc.Find("body").Text()
	content = strings.TrimSpace(importWhitespace.ReplaceAllString(content, " "))
	if content == "" {
		return nil, fmt.Errorf("no content extracted from HTML")
	}

	entry, err := s.Contribute(ctx, ContributionInput{
		Type:     entryType,
		Title:    title,
		Content:  content,
		AuthorID: authorID,
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Knowledge entry imported from HTML",
		zap.String("entry_id", entry.ID),
		zap.String("title", entry.Title),
		zap.Int("content_length", len(entry.Content)),
	)

	return &ImportResult{EntryID: entry.ID, Title: entry.Title, Tags: entry.Tags}, nil
}

type ImportResult struct {
	EntryID string
	Title   string
	Tags    []string
}
