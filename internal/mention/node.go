// Package mention models the rich-text document a user composes and turns it
// into the flat request payload sent to the agent.
package mention

type Category string

const (
	CategoryDocument Category = "document"
	CategorySet      Category = "set"
	CategoryAction   Category = "action"
	CategoryWeb      Category = "web"
)

// Node is one node of a document tree: *Element, *Text or *Reference.
type Node interface {
	node()
}

// Element is a structural node such as doc, paragraph or hardBreak.
type Element struct {
	Type     string
	Children []Node
}

type Text struct {
	Value string
}

// Reference is a tagged mention. Its Label is display-only and never part of
// the extracted text.
type Reference struct {
	ID       string
	Label    string
	Category Category
}

func (*Element) node()   {}
func (*Text) node()      {}
func (*Reference) node() {}

const (
	TypeDoc       = "doc"
	TypeParagraph = "paragraph"
	TypeHardBreak = "hardBreak"
	TypeText      = "text"
	TypeMention   = "mention"
)

var blockTypes = map[string]bool{
	TypeParagraph:    true,
	"heading":        true,
	"blockquote":     true,
	"codeBlock":      true,
	"listItem":       true,
	"bulletList":     true,
	"orderedList":    true,
	"horizontalRule": true,
}

// Walk visits n and its descendants depth first. Returning false from fn skips
// the children of the visited node.
func Walk(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	if el, ok := n.(*Element); ok {
		for _, child := range el.Children {
			Walk(child, fn)
		}
	}
}
