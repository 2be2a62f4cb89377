package model

import "time"

// AuditEntry captures an administrative operation against the importer.
type AuditEntry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Actor     string    `gorm:"size:64" json:"actor"`
	Action    string    `gorm:"size:64" json:"action"` // rollback, dismiss, reset-hints, ...
	Target    string    `gorm:"size:255" json:"target"`
	Detail    string    `gorm:"type:text" json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
