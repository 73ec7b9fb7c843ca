// Package history reads persisted conversation history from the backend and
// caches it until an exchange completes.
package history

import (
	"encoding/json"
	"time"

	"palchat/internal/models"
)

// Snapshot is the persisted state a controller is seeded from.
type Snapshot struct {
	ThreadID         string            `json:"thread_id"`
	Messages         []models.Message  `json:"messages"`
	PendingInterrupt *models.Interrupt `json:"pending_interrupt,omitempty"`
	FetchedAt        time.Time         `json:"fetched_at"`
}

// FromResponse converts the history endpoint's body.
func FromResponse(resp models.HistoryResponse) Snapshot {
	snap := Snapshot{
		ThreadID:  resp.ThreadID,
		Messages:  make([]models.Message, 0, len(resp.Messages)),
		FetchedAt: time.Now(),
	}
	for _, m := range resp.Messages {
		msg := models.Message{ID: m.ID, Role: m.Role, Text: m.Content}
		if m.Role == models.RoleAssistant && len(m.Metadata) > 0 {
			var meta models.ResponseMetadata
			if err := json.Unmarshal(m.Metadata, &meta); err == nil && !meta.Empty() {
				msg.Metadata = &meta
			}
		}
		snap.Messages = append(snap.Messages, msg)
	}
	if resp.PendingInterrupt != nil {
		in := resp.PendingInterrupt.Interrupt()
		snap.PendingInterrupt = &in
	}
	return snap
}
