package models

import "time"

// LogKind classifies an activity log entry.
type LogKind string

const (
	LogKindInfo    LogKind = "info"
	LogKindSuccess LogKind = "success"
	LogKindWarning LogKind = "warning"
	LogKindError   LogKind = "error"
)

// Valid reports whether k is one of the known kinds.
func (k LogKind) Valid() bool {
	switch k {
	case LogKindInfo, LogKindSuccess, LogKindWarning, LogKindError:
		return true
	}
	return false
}

// LogEvent is an entry in the user-facing activity log.
type LogEvent struct {
	ID        string    `json:"id"`
	Kind      LogKind   `json:"type"`
	Message   string    `json:"message"`
	Detail    string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
