package model

import "time"

// ActivityType classifies an audit entry.
type ActivityType string

const (
	ActivityAutomation ActivityType = "automation"
	ActivitySecurity   ActivityType = "security"
	ActivitySystem     ActivityType = "system"
)

// Valid reports whether t is one of the known activity types.
func (t ActivityType) Valid() bool {
	switch t {
	case ActivityAutomation, ActivitySecurity, ActivitySystem:
		return true
	}
	return false
}

// ActivityLogEntry is one append-only audit record owned by a user.
// Rows are never updated; they disappear only with their user.
type ActivityLogEntry struct {
	ID          string         `json:"id"`
	UserID      string         `json:"user_id"`
	Type        ActivityType   `json:"type"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}
