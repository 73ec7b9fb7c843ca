package mention

import "strings"

// Payload is the flat result of walking a document.
type Payload struct {
	Text              string
	Action            *string
	TaggedDocumentIDs []string
	TaggedSetIDs      []string
	EnableWebSearch   bool
}

// Empty reports whether the payload carries neither text nor any reference.
func (p Payload) Empty() bool {
	return p.Text == "" && p.Action == nil && len(p.TaggedDocumentIDs) == 0 &&
		len(p.TaggedSetIDs) == 0 && !p.EnableWebSearch
}

// Extract walks doc and builds its payload. Document and set ids keep their
// first-seen order without duplicates; the last action wins. Cardinality is
// not checked here, see Composer.
func Extract(doc Node) Payload {
	var (
		p       Payload
		sb      strings.Builder
		docSeen = make(map[string]struct{})
		setSeen = make(map[string]struct{})
	)
	// a block opens on a fresh line; inline content never follows a block
	// inside the same parent
	Walk(doc, func(n Node) bool {
		switch v := n.(type) {
		case *Text:
			sb.WriteString(v.Value)
		case *Reference:
			switch v.Category {
			case CategoryDocument:
				if _, ok := docSeen[v.ID]; !ok && v.ID != "" {
					docSeen[v.ID] = struct{}{}
					p.TaggedDocumentIDs = append(p.TaggedDocumentIDs, v.ID)
				}
			case CategorySet:
				if _, ok := setSeen[v.ID]; !ok && v.ID != "" {
					setSeen[v.ID] = struct{}{}
					p.TaggedSetIDs = append(p.TaggedSetIDs, v.ID)
				}
			case CategoryAction:
				id := v.ID
				p.Action = &id
			case CategoryWeb:
				p.EnableWebSearch = true
			}
		case *Element:
			if v.Type == TypeHardBreak {
				sb.WriteByte('\n')
				return false
			}
			if blockTypes[v.Type] && sb.Len() > 0 && !strings.HasSuffix(sb.String(), "\n") {
				sb.WriteByte('\n')
			}
		}
		return true
	})
	p.Text = strings.TrimSpace(sb.String())
	return p
}
