package mention

import (
	"fmt"
	"strings"
)

// ParseInline builds a document from CLI shorthand: @doc:<id>, @set:<id>,
// @action:<id> and @web tag references, everything else is text. Text words
// of a line are re-joined with single spaces; a reference takes no space of
// its own, so tags leave no gaps in the message.
func ParseInline(input string) (Node, error) {
	c := NewComposer()
	for i, line := range strings.Split(input, "\n") {
		if i > 0 {
			c.Paragraph()
		}
		wrote := false
		for _, word := range strings.Fields(line) {
			ref, ok := parseToken(word)
			if ok {
				if err := c.Add(ref); err != nil {
					return nil, fmt.Errorf("%s: %w", word, err)
				}
				continue
			}
			if wrote {
				c.Text(" ")
			}
			c.Text(word)
			wrote = true
		}
	}
	return c.Document(), nil
}

func parseToken(word string) (Reference, bool) {
	if word == "@web" {
		return Reference{ID: "web", Label: "Web", Category: CategoryWeb}, true
	}
	if !strings.HasPrefix(word, "@") {
		return Reference{}, false
	}
	prefix, id, ok := strings.Cut(word[1:], ":")
	if !ok || id == "" {
		return Reference{}, false
	}
	var cat Category
	switch prefix {
	case "doc":
		cat = CategoryDocument
	case "set":
		cat = CategorySet
	case "action":
		cat = CategoryAction
	default:
		return Reference{}, false
	}
	return Reference{ID: id, Label: id, Category: cat}, true
}
