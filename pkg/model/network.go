package model

import (
	"sort"
	"time"
)

// Object lifecycle states shared by registry entities.
const (
	StatusOK      = "ok"
	StatusPending = "pending"
	StatusDeleted = "deleted"
)

// Contact roles, in the order they are tried when picking who to notify.
const (
	RoleTechnical = "Technical"
	RoleNOC       = "NOC"
	RolePolicy    = "Policy"
)

var contactRolePriority = []string{RoleTechnical, RoleNOC, RolePolicy}

// Contact is a point of contact for a network.
type Contact struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	NetworkID uint   `gorm:"index" json:"networkId"`
	Role      string `gorm:"size:32" json:"role" yaml:"role"`
	Email     string `gorm:"size:254" json:"email" yaml:"email"`
	Status    string `gorm:"size:16" json:"status" yaml:"status"`
}

// Network is a registry network identified by its ASN.
type Network struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ASN            uint32    `gorm:"uniqueIndex" json:"asn" yaml:"asn"`
	Name           string    `gorm:"size:255" json:"name" yaml:"name"`
	Status         string    `gorm:"size:16" json:"status" yaml:"status"`
	AllowIXPUpdate bool      `json:"allowIxpUpdate" yaml:"allow_ixp_update"` // exchange data may be applied without review
	IPv4Support    bool      `json:"ipv4Support" yaml:"ipv4_support"`
	IPv6Support    bool      `json:"ipv6Support" yaml:"ipv6_support"`
	Contacts       []Contact `gorm:"foreignKey:NetworkID" json:"contacts,omitempty" yaml:"contacts"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// NetContacts returns the emails of the active contacts in the first
// role that has any, trying Technical, NOC and Policy in that order.
func (n Network) NetContacts() []string {
	for _, role := range contactRolePriority {
		seen := map[string]struct{}{}
		var out []string
		for _, c := range n.Contacts {
			if c.Role != role || c.Email == "" || c.Status != StatusOK {
				continue
			}
			if _, ok := seen[c.Email]; ok {
				continue
			}
			seen[c.Email] = struct{}{}
			out = append(out, c.Email)
		}
		if len(out) > 0 {
			sort.Strings(out)
			return out
		}
	}
	return nil
}
