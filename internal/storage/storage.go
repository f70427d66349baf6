package storage

import "time"

// Event is one auditable bot action: an analysis request, an access
// decision, a history wipe. Events are appended in chronological order.
type Event struct {
	Timestamp time.Time              `json:"timestamp"`
	Action    string                 `json:"action"`
	ChatID    int64                  `json:"chat_id,omitempty"`
	UserID    int64                  `json:"user_id,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Actions recorded in the audit log.
const (
	ActionChatAnalysis  = "chat_analysis"
	ActionUserAnalysis  = "user_analysis"
	ActionClearHistory  = "clear_history"
	ActionAccessGranted = "access_granted"
	ActionAccessDenied  = "access_denied"
	ActionDailyDigest   = "daily_digest"
)

// AuditLog abstracts persistence of bot action events.
// Implementations must be safe for concurrent use.
type AuditLog interface {
	Record(event Event) error
	LoadEvents() ([]Event, error)
}
