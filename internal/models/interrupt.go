package models

type InterruptKind string

const (
	KindChoiceAction   InterruptKind = "choice_action"
	KindChoiceDocument InterruptKind = "choice_document"
	KindFreeText       InterruptKind = "free_text"
	KindLowConfidence  InterruptKind = "low_confidence"
)

// interrupt_type values as they appear on the wire.
const (
	WireActionChoice  = "action_choice"
	WireDocChoice     = "doc_choice"
	WireTextInput     = "text_input"
	WireLowConfidence = "low_confidence"
)

// KindFromWire maps a wire interrupt_type to its kind. Unknown types fall back
// to free text, matching the backend's own text_input fallback.
func KindFromWire(interruptType string) InterruptKind {
	switch interruptType {
	case WireActionChoice:
		return KindChoiceAction
	case WireDocChoice:
		return KindChoiceDocument
	case WireLowConfidence:
		return KindLowConfidence
	default:
		return KindFreeText
	}
}

type Option struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Interrupt is a suspended turn awaiting exactly one resume.
type Interrupt struct {
	Kind     InterruptKind `json:"kind"`
	WireType string        `json:"interrupt_type"`
	Message  string        `json:"message"`
	Options  []Option      `json:"options,omitempty"`
}

// HasOption reports whether id is one of the offered options.
func (i Interrupt) HasOption(id string) bool {
	for _, opt := range i.Options {
		if opt.ID == id {
			return true
		}
	}
	return false
}

const ResumeCancel = "cancel"

// ResumeValue resolves a pending interrupt. Kind is the interrupt's wire type,
// or "cancel" with a null value.
type ResumeValue struct {
	Kind  string  `json:"kind"`
	Value *string `json:"value"`
}

func NewResumeValue(kind, value string) ResumeValue {
	return ResumeValue{Kind: kind, Value: &value}
}

// CancelResume is still a resume: the backend is suspended until it receives one.
func CancelResume() ResumeValue {
	return ResumeValue{Kind: ResumeCancel}
}

func (r ResumeValue) IsCancel() bool {
	return r.Kind == ResumeCancel && r.Value == nil
}
