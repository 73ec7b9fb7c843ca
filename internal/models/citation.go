package models

type SourceType string

const (
	SourceDocument SourceType = "document"
	SourceWeb      SourceType = "web"
)

// Citation is one source entry of an assistant message. ID is the number used
// in the [N] markers of the response text.
type Citation struct {
	ID         int        `json:"id"`
	SourceType SourceType `json:"source_type"`
	DocID      string     `json:"doc_id,omitempty"`
	Title      string     `json:"title"`
	Page       *int       `json:"page,omitempty"`
	URL        string     `json:"url,omitempty"`
	Quote      string     `json:"quote,omitempty"`
}
