package model

import (
	"net/netip"
	"time"
)

// Exchange is an internet exchange point.
type Exchange struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	Name          string     `gorm:"size:255" json:"name" yaml:"name"`
	TechEmail     string     `gorm:"size:254" json:"techEmail" yaml:"tech_email"`
	PolicyEmail   string     `gorm:"size:254" json:"policyEmail" yaml:"policy_email"`
	Status        string     `gorm:"size:16" json:"status" yaml:"status"`
	IXFLastImport *time.Time `json:"ixfLastImport,omitempty"`
	IXFNetCount   int        `json:"ixfNetCount"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// Contacts returns the address to reach the exchange about IX-F conflicts:
// the technical email, else the policy email, else nothing.
func (e Exchange) Contacts() []string {
	if e.TechEmail != "" {
		return []string{e.TechEmail}
	}
	if e.PolicyEmail != "" {
		return []string{e.PolicyEmail}
	}
	return nil
}

// ExchangeLAN is one peering LAN of an exchange, with its announced prefixes
// and the URL of its IX-F member export.
type ExchangeLAN struct {
	ID                  uint       `gorm:"primaryKey" json:"id"`
	ExchangeID          uint       `gorm:"index" json:"exchangeId" yaml:"exchange_id"`
	Name                string     `gorm:"size:255" json:"name" yaml:"name"`
	Prefixes            []string   `gorm:"serializer:json" json:"prefixes" yaml:"prefixes"`
	IXFURL              string     `gorm:"column:ixf_url;size:2048" json:"ixfUrl" yaml:"ixf_url"`
	IXFImportEnabled    bool       `gorm:"column:ixf_import_enabled" json:"ixfImportEnabled" yaml:"ixf_import_enabled"`
	ProtocolConflict    int        `json:"protocolConflict"` // 0, 4 or 6
	ImportError         string     `gorm:"type:text" json:"importError,omitempty"`
	ImportErrorNotified *time.Time `json:"importErrorNotified,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

// ReadyForImport reports whether the LAN takes part in automated imports.
func (l ExchangeLAN) ReadyForImport() bool {
	return l.IXFImportEnabled && l.IXFURL != ""
}

// Contains reports whether addr lies inside one of the LAN prefixes of the
// same family. The network and last address of a prefix never match.
func (l ExchangeLAN) Contains(addr netip.Addr) bool {
	if !addr.IsValid() {
		return false
	}
	addr = addr.Unmap()
	for _, raw := range l.Prefixes {
		p, err := netip.ParsePrefix(raw)
		if err != nil {
			continue
		}
		p = p.Masked()
		if p.Addr().Is4() != addr.Is4() || !p.Contains(addr) {
			continue
		}
		if addr == p.Addr() || addr == lastAddr(p) {
			continue
		}
		return true
	}
	return false
}

// ContainsString is Contains for a textual address; unparsable input is false.
func (l ExchangeLAN) ContainsString(s string) bool {
	if s == "" {
		return false
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return false
	}
	return l.Contains(addr)
}

func lastAddr(p netip.Prefix) netip.Addr {
	b := p.Addr().AsSlice()
	bits := p.Bits()
	for i := range b {
		hostBits := len(b)*8 - bits - (len(b)-1-i)*8
		switch {
		case hostBits >= 8:
			b[i] = 0xff
		case hostBits > 0:
			b[i] |= byte(1<<hostBits) - 1
		}
	}
	out, _ := netip.AddrFromSlice(b)
	return out
}
