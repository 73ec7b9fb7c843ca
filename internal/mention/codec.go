package mention

import (
	"encoding/json"
	"errors"
	"fmt"
)

// wireNode is the editor's JSON shape: {type, text?, attrs?, content?}.
type wireNode struct {
	Type    string     `json:"type"`
	Text    string     `json:"text,omitempty"`
	Attrs   *wireAttrs `json:"attrs,omitempty"`
	Content []wireNode `json:"content,omitempty"`
}

type wireAttrs struct {
	ID       string `json:"id"`
	Label    string `json:"label,omitempty"`
	Category string `json:"category,omitempty"`
}

var ErrEmptyDocument = errors.New("mention: empty document")

// Decode parses an editor document tree.
func Decode(data []byte) (Node, error) {
	if len(data) == 0 {
		return nil, ErrEmptyDocument
	}
	var root wireNode
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return fromWire(root)
}

func fromWire(w wireNode) (Node, error) {
	switch w.Type {
	case TypeText:
		return &Text{Value: w.Text}, nil
	case TypeMention:
		if w.Attrs == nil || w.Attrs.ID == "" {
			return nil, errors.New("decode document: mention without id")
		}
		return &Reference{ID: w.Attrs.ID, Label: w.Attrs.Label, Category: Category(w.Attrs.Category)}, nil
	case "":
		return nil, errors.New("decode document: node without type")
	}
	el := &Element{Type: w.Type, Children: make([]Node, 0, len(w.Content))}
	for _, child := range w.Content {
		n, err := fromWire(child)
		if err != nil {
			return nil, err
		}
		el.Children = append(el.Children, n)
	}
	return el, nil
}

// Encode renders n back into the editor's JSON shape.
func Encode(n Node) ([]byte, error) {
	w, err := toWire(n)
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

func toWire(n Node) (wireNode, error) {
	switch v := n.(type) {
	case *Text:
		return wireNode{Type: TypeText, Text: v.Value}, nil
	case *Reference:
		return wireNode{Type: TypeMention, Attrs: &wireAttrs{ID: v.ID, Label: v.Label, Category: string(v.Category)}}, nil
	case *Element:
		w := wireNode{Type: v.Type}
		for _, child := range v.Children {
			cw, err := toWire(child)
			if err != nil {
				return wireNode{}, err
			}
			w.Content = append(w.Content, cw)
		}
		return w, nil
	default:
		return wireNode{}, fmt.Errorf("encode document: unsupported node %T", n)
	}
}
