// Package content turns paid upstream answers into normalised news items and
// keeps them behind a cache so repeated questions are not paid for twice.
package content

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/Must-be-Ash/x402-firecrawl/paygate"
)

// Item is one normalised content record
type Item struct {
	Headline    string    `json:"headline"`
	Summary     string    `json:"summary,omitempty"`
	Source      string    `json:"source,omitempty"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"publishedAt,omitempty"`
	FetchedAt   time.Time `json:"fetchedAt"`
	ContentHash string    `json:"contentHash"`
}

// publishedLayouts are the timestamp formats seen from upstreams
var publishedLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// FromArticles normalises upstream articles. Records without a headline or
// URL are dropped, as are repeats of the same content.
func FromArticles(articles []paygate.Article, fetchedAt time.Time) []Item {
	items := make([]Item, 0, len(articles))
	seen := make(map[string]bool, len(articles))
	for _, a := range articles {
		headline := strings.TrimSpace(a.Title)
		url := strings.TrimSpace(a.URL)
		if headline == "" || url == "" {
			continue
		}
		hash := ContentHash(url, headline)
		if seen[hash] {
			continue
		}
		seen[hash] = true

		items = append(items, Item{
			Headline:    headline,
			Summary:     strings.TrimSpace(a.Description),
			Source:      strings.TrimSpace(string(a.Source)),
			URL:         url,
			PublishedAt: parsePublished(a.PublishedAt),
			FetchedAt:   fetchedAt.UTC(),
			ContentHash: hash,
		})
	}
	return items
}

// ContentHash identifies an item by its URL and headline
func ContentHash(url, headline string) string {
	h := sha256.New()
	h.Write([]byte(strings.ToLower(strings.TrimRight(strings.TrimSpace(url), "/"))))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(strings.Fields(headline), " ")))
	return hex.EncodeToString(h.Sum(nil))
}

func parsePublished(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	for _, layout := range publishedLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
