package models

import "encoding/json"

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Message         string          `json:"message"`
	TiptapJSON      json.RawMessage `json:"tiptap_json,omitempty"`
	ThreadID        string          `json:"thread_id"`
	TaggedDocIDs    []string        `json:"tagged_doc_ids"`
	TaggedSetIDs    []string        `json:"tagged_set_ids"`
	Action          *string         `json:"action"`
	EnableWebSearch bool            `json:"enable_web_search"`
}

// ResumeRequest is the body of POST /chat/resume.
type ResumeRequest struct {
	ThreadID    string      `json:"thread_id"`
	ResumeValue ResumeValue `json:"resume_value"`
}

type HistoryMessage struct {
	ID       string          `json:"id"`
	Role     Role            `json:"role"`
	Content  string          `json:"content"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// HistoryResponse is returned by GET /chat/history/{thread_id}.
type HistoryResponse struct {
	ThreadID         string           `json:"thread_id"`
	Messages         []HistoryMessage `json:"messages"`
	PendingInterrupt *InterruptEvent  `json:"pending_interrupt"`
}
