package models

import (
	"encoding/json"
	"time"
)

type Role string

const (
	RoleUser         Role = "user"
	RoleAssistant    Role = "assistant"
	RoleSystemNotice Role = "system_notice"
)

// Message is one entry of a conversation. It is never mutated once appended.
type Message struct {
	ID                string            `json:"id"`
	Role              Role              `json:"role"`
	Text              string            `json:"content"`
	StructuredContent json.RawMessage   `json:"structured_content,omitempty"`
	Metadata          *ResponseMetadata `json:"metadata,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
}

// ResponseMetadata is attached to assistant messages built from a terminal response.
type ResponseMetadata struct {
	Citations           []Citation `json:"citations"`
	Action              string     `json:"action,omitempty"`
	InferenceConfidence string     `json:"inference_confidence,omitempty"`
	RetrievalConfidence string     `json:"retrieval_confidence,omitempty"`
	TokensUsed          int        `json:"tokens_used"`
	CostUSD             float64    `json:"cost_usd"`
}

// Empty reports whether the metadata carries nothing worth keeping.
func (m *ResponseMetadata) Empty() bool {
	return m == nil || (len(m.Citations) == 0 && m.Action == "" && m.InferenceConfidence == "" &&
		m.RetrievalConfidence == "" && m.TokensUsed == 0 && m.CostUSD == 0)
}

// Conversation is the local index entry for a thread.
type Conversation struct {
	ThreadID  string    `json:"thread_id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
