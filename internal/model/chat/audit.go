package chat

import "time"

// AuditRecord is one completed turn as written to the audit log.
type AuditRecord struct {
	Timestamp    time.Time `json:"timestamp"`
	UserID       string    `json:"user_id"`
	Message      string    `json:"message"`
	OutputLength int       `json:"output_length"`
}
