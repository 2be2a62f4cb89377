package model

import "time"

// Ticket is the local record of a ticket dispatched to the helpdesk.
type Ticket struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	Subject   string     `gorm:"size:255;index" json:"subject"`
	Body      string     `gorm:"type:text" json:"body"`
	CC        []string   `gorm:"serializer:json" json:"cc,omitempty"`
	TicketID  int64      `json:"ticketId,omitempty"`
	TicketRef string     `gorm:"size:64" json:"ticketRef,omitempty"`
	Published *time.Time `json:"published,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// EmailLog is the local record of a notification email. Sent stays nil
// until delivery succeeded.
type EmailLog struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	Subject    string     `gorm:"size:255" json:"subject"`
	Message    string     `gorm:"type:text" json:"message"`
	Recipients string     `gorm:"type:text" json:"recipients"` // comma separated
	NetworkID  *uint      `gorm:"index" json:"networkId,omitempty"`
	ExchangeID *uint      `gorm:"index" json:"exchangeId,omitempty"`
	Sent       *time.Time `json:"sent,omitempty"`
	Error      string     `gorm:"type:text" json:"error,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}
