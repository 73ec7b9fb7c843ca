package models

type EventType string

const (
	EventStatus    EventType = "status"
	EventResponse  EventType = "response"
	EventInterrupt EventType = "interrupt"
	EventError     EventType = "error"
)

// StreamEvent is one decoded frame of a streamed exchange.
type StreamEvent interface {
	EventType() EventType
	// Terminal reports whether the event ends the exchange.
	Terminal() bool
}

type DocRef struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type StatusEvent struct {
	Type      EventType `json:"type"`
	Node      string    `json:"node"`
	Message   string    `json:"message"`
	DocsFound []DocRef  `json:"docs_found,omitempty"`
	WebQuery  string    `json:"web_query,omitempty"`
}

func (StatusEvent) EventType() EventType { return EventStatus }
func (StatusEvent) Terminal() bool       { return false }

type ResponseEvent struct {
	Type                EventType  `json:"type"`
	Response            string     `json:"response"`
	Citations           []Citation `json:"citations"`
	Action              string     `json:"action"`
	InferenceConfidence string     `json:"inference_confidence"`
	RetrievalConfidence string     `json:"retrieval_confidence"`
	TokensUsed          int        `json:"tokens_used"`
	CostUSD             float64    `json:"cost_usd"`
}

func (ResponseEvent) EventType() EventType { return EventResponse }
func (ResponseEvent) Terminal() bool       { return true }

func (e ResponseEvent) Metadata() *ResponseMetadata {
	return &ResponseMetadata{
		Citations:           e.Citations,
		Action:              e.Action,
		InferenceConfidence: e.InferenceConfidence,
		RetrievalConfidence: e.RetrievalConfidence,
		TokensUsed:          e.TokensUsed,
		CostUSD:             e.CostUSD,
	}
}

type InterruptEvent struct {
	Type          EventType `json:"type"`
	InterruptType string    `json:"interrupt_type"`
	Message       string    `json:"message"`
	Options       []Option  `json:"options,omitempty"`
}

func (InterruptEvent) EventType() EventType { return EventInterrupt }
func (InterruptEvent) Terminal() bool       { return true }

func (e InterruptEvent) Interrupt() Interrupt {
	return Interrupt{
		Kind:     KindFromWire(e.InterruptType),
		WireType: e.InterruptType,
		Message:  e.Message,
		Options:  e.Options,
	}
}

// ErrorEvent covers every frame whose type is not status, response or interrupt.
type ErrorEvent struct {
	Type    EventType `json:"type"`
	Message string    `json:"message"`
}

func (ErrorEvent) EventType() EventType { return EventError }
func (ErrorEvent) Terminal() bool       { return true }
