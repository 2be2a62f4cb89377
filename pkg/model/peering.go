package model

import (
	"fmt"
	"time"
)

// PeeringRecord is a network's presence on an exchange LAN. An empty IPv4
// or IPv6 means the address is not set.
type PeeringRecord struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	NetworkID     uint      `gorm:"index" json:"networkId" yaml:"network_id"`
	ExchangeLANID uint      `gorm:"column:exchange_lan_id;index" json:"exchangeLanId" yaml:"exchange_lan_id"`
	ASN           uint32    `gorm:"index" json:"asn" yaml:"asn"`
	IPv4          string    `gorm:"column:ipv4;size:64;index" json:"ipv4,omitempty" yaml:"ipv4"`
	IPv6          string    `gorm:"column:ipv6;size:64;index" json:"ipv6,omitempty" yaml:"ipv6"`
	Speed         int64     `json:"speed" yaml:"speed"` // Mbit
	IsRSPeer      bool      `json:"isRsPeer" yaml:"is_rs_peer"`
	Operational   bool      `json:"operational" yaml:"operational"`
	Status        string    `gorm:"size:16;index" json:"status" yaml:"status"`
	Notes         string    `gorm:"type:text" json:"notes,omitempty" yaml:"notes"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Key returns the identity of the record.
func (r PeeringRecord) Key() Key {
	return Key{ASN: r.ASN, IPv4: r.IPv4, IPv6: r.IPv6}
}

// ActiveStatuses are the record statuses that hold their addresses.
var ActiveStatuses = []string{StatusOK, StatusPending}

// Active reports whether the record is not soft-deleted.
func (r PeeringRecord) Active() bool {
	return r.Status == StatusOK || r.Status == StatusPending
}

// RecordVersion is a snapshot of a PeeringRecord taken on every write.
type RecordVersion struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	RecordID  uint      `gorm:"index" json:"recordId"`
	Data      string    `gorm:"type:text" json:"data"` // JSON of the record after the write
	Comment   string    `gorm:"size:255" json:"comment,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Key identifies a peering relationship by ASN and addresses. An empty
// address stands for null.
type Key struct {
	ASN  uint32 `json:"asn"`
	IPv4 string `json:"ipv4,omitempty"`
	IPv6 string `json:"ipv6,omitempty"`
}

func (k Key) String() string {
	return fmt.Sprintf("AS%d - %s - %s", k.ASN, orDefault(k.IPv4, "IPv4 not set"), orDefault(k.IPv6, "IPv6 not set"))
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
