package model

import "time"

// Proposal is a change to a PeeringRecord suggested by an exchange's IX-F
// data. Its action is derived from the current state of the record and is
// never stored.
type Proposal struct {
	ID                     uint       `gorm:"primaryKey" json:"id"`
	ExchangeLANID          uint       `gorm:"column:exchange_lan_id;index" json:"exchangeLanId"`
	ASN                    uint32     `gorm:"index" json:"asn"`
	IPv4                   string     `gorm:"column:ipv4;size:64" json:"ipv4,omitempty"`
	IPv6                   string     `gorm:"column:ipv6;size:64" json:"ipv6,omitempty"`
	Speed                  int64      `json:"speed"`
	Operational            bool       `json:"operational"`
	IsRSPeer               *bool      `json:"isRsPeer"`
	Data                   string     `gorm:"type:text" json:"data"`            // JSON of the member entry, "{}" when gone from the feed
	Error                  string     `gorm:"type:text" json:"error,omitempty"` // JSON field -> messages
	Reason                 string     `gorm:"size:255" json:"reason,omitempty"`
	Dismissed              bool       `json:"dismissed"`
	Fetched                time.Time  `json:"fetched"`
	RequirementOfID        *uint      `gorm:"index" json:"requirementOfId,omitempty"`
	TicketID               int64      `json:"ticketId,omitempty"`
	TicketRef              string     `gorm:"size:64" json:"ticketRef,omitempty"`
	ExtraNotificationsNum  int        `json:"extraNotificationsNum"`
	ExtraNotificationsDate *time.Time `json:"extraNotificationsDate,omitempty"`
	Status                 string     `gorm:"size:16" json:"status"`
	CreatedAt              time.Time  `json:"createdAt"`
	UpdatedAt              time.Time  `json:"updatedAt"`
}

// Key returns the identity of the proposal.
func (p Proposal) Key() Key {
	return Key{ASN: p.ASN, IPv4: p.IPv4, IPv6: p.IPv6}
}

// RemoteDataMissing reports whether the exchange no longer publishes the entry.
func (p Proposal) RemoteDataMissing() bool {
	return p.Data == "" || p.Data == "{}"
}

// IsRequirement reports whether the proposal is a dependency of another.
func (p Proposal) IsRequirement() bool {
	return p.RequirementOfID != nil
}
