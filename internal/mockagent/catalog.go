package mockagent

import "strings"

// Document is one entry of the scripted backend's library.
type Document struct {
	ID      string
	Title   string
	SetID   string
	Page    int
	Excerpt string
}

// DefaultCatalog is the library served when none is configured.
func DefaultCatalog() []Document {
	return []Document{
		{
			ID:      "0b7e2f4a-6c1d-4e8a-9f3b-2d5c7a1e9b40",
			Title:   "Capital Adequacy Framework",
			SetID:   "5d2a8c61-3f4e-4b7a-8c9d-1e2f3a4b5c6d",
			Page:    12,
			Excerpt: "banks must hold a minimum total capital ratio of 8% of risk-weighted assets",
		},
		{
			ID:      "7c41d9e2-8a3b-4f5c-b6d7-e8f9a0b1c2d3",
			Title:   "Liquidity Coverage Ratio Policy",
			SetID:   "5d2a8c61-3f4e-4b7a-8c9d-1e2f3a4b5c6d",
			Page:    4,
			Excerpt: "high-quality liquid assets must cover net cash outflows over a 30-day stress period",
		},
		{
			ID:      "e3a5b7c9-1d2f-4a6b-8c0d-2e4f6a8b0c1d",
			Title:   "Internal Travel Expense Guideline",
			Page:    2,
			Excerpt: "economy class is required for flights under six hours",
		},
	}
}

type catalog struct {
	docs []Document
	byID map[string]Document
}

func newCatalog(docs []Document) *catalog {
	c := &catalog{docs: docs, byID: make(map[string]Document, len(docs))}
	for _, d := range docs {
		c.byID[d.ID] = d
	}
	return c
}

func (c *catalog) get(id string) (Document, bool) {
	d, ok := c.byID[id]
	return d, ok
}

func (c *catalog) title(id string) string {
	if d, ok := c.byID[id]; ok {
		return d.Title
	}
	return id
}

func (c *catalog) inSets(setIDs []string) []string {
	var ids []string
	for _, set := range setIDs {
		for _, d := range c.docs {
			if d.SetID == set {
				ids = append(ids, d.ID)
			}
		}
	}
	return ids
}

// match returns the documents whose title words appear in text.
func (c *catalog) match(text string) []string {
	lower := strings.ToLower(text)
	var ids []string
	for _, d := range c.docs {
		for _, word := range strings.Fields(strings.ToLower(d.Title)) {
			if len(word) > 4 && strings.Contains(lower, word) {
				ids = append(ids, d.ID)
				break
			}
		}
	}
	return ids
}
