package mention

import "errors"

const (
	MaxActions   = 1
	MaxDocuments = 5
)

var (
	ErrTooManyActions   = errors.New("mention: only one action can be tagged per message")
	ErrTooManyDocuments = errors.New("mention: at most five documents can be tagged per message")
)

// Composer builds a document one inline piece at a time and enforces the
// selection-time limits: a reference beyond the limit is rejected before it is
// inserted.
type Composer struct {
	root    *Element
	para    *Element
	actions int
	docs    map[string]struct{}
}

func NewComposer() *Composer {
	para := &Element{Type: TypeParagraph}
	return &Composer{
		root: &Element{Type: TypeDoc, Children: []Node{para}},
		para: para,
		docs: make(map[string]struct{}),
	}
}

func (c *Composer) Text(s string) *Composer {
	if s == "" {
		return c
	}
	if n := len(c.para.Children); n > 0 {
		if last, ok := c.para.Children[n-1].(*Text); ok {
			last.Value += s
			return c
		}
	}
	c.para.Children = append(c.para.Children, &Text{Value: s})
	return c
}

// Paragraph starts a new block.
func (c *Composer) Paragraph() *Composer {
	c.para = &Element{Type: TypeParagraph}
	c.root.Children = append(c.root.Children, c.para)
	return c
}

// Add inserts ref, or returns an error and leaves the document unchanged.
// Documents are counted by distinct id.
func (c *Composer) Add(ref Reference) error {
	switch ref.Category {
	case CategoryAction:
		if c.actions >= MaxActions {
			return ErrTooManyActions
		}
		c.actions++
	case CategoryDocument:
		if _, ok := c.docs[ref.ID]; !ok {
			if len(c.docs) >= MaxDocuments {
				return ErrTooManyDocuments
			}
			c.docs[ref.ID] = struct{}{}
		}
	}
	r := ref
	c.para.Children = append(c.para.Children, &r)
	return nil
}

func (c *Composer) Document() Node {
	return c.root
}
