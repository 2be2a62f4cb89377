package model

import "time"

// ImportLog records one import run that changed at least one record.
type ImportLog struct {
	ID            uint             `gorm:"primaryKey" json:"id"`
	ExchangeLANID uint             `gorm:"column:exchange_lan_id;index" json:"exchangeLanId"`
	RunID         string           `gorm:"size:36" json:"runId"`
	Entries       []ImportLogEntry `gorm:"foreignKey:LogID" json:"entries"`
	CreatedAt     time.Time        `json:"createdAt"`
}

// ImportLogEntry is one applied change with the record versions around it.
type ImportLogEntry struct {
	ID            uint   `gorm:"primaryKey" json:"id"`
	LogID         uint   `gorm:"index" json:"logId"`
	RecordID      uint   `gorm:"index" json:"recordId"`
	VersionBefore *uint  `json:"versionBefore,omitempty"`
	VersionAfter  uint   `json:"versionAfter"`
	Action        string `gorm:"size:32" json:"action"`
	Reason        string `gorm:"size:255" json:"reason"`
}

// ImportAttempt holds the attempt log of the most recent run of a LAN.
type ImportAttempt struct {
	ExchangeLANID uint      `gorm:"column:exchange_lan_id;primaryKey;autoIncrement:false" json:"exchangeLanId"`
	Info          string    `gorm:"type:text" json:"info"`
	Updated       time.Time `json:"updated"`
}
