package feed

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Document is an IX-F member export. Only the parts the importer reads are
// typed; everything else is ignored.
type Document struct {
	Version    string   `json:"version,omitempty"`
	Timestamp  string   `json:"timestamp,omitempty"`
	MemberList []Member `json:"member_list"`
}

// Member is one network present at the exchange.
type Member struct {
	ASNum          uint32       `json:"asnum"`
	MemberType     string       `json:"member_type,omitempty"`
	Name           string       `json:"name,omitempty"`
	URL            string       `json:"url,omitempty"`
	ConnectionList []Connection `json:"connection_list,omitempty"`
}

// Connection is a physical connection of a member; its interface speeds
// add up to the connection speed.
type Connection struct {
	IXPID    int         `json:"ixp_id,omitempty"`
	State    string      `json:"state,omitempty"`
	IfList   []Interface `json:"if_list,omitempty"`
	VlanList []Vlan      `json:"vlan_list,omitempty"`
}

// Interface describes a port. IfSpeed is kept loosely typed since
// exporters publish numbers, strings and garbage alike.
type Interface struct {
	SwitchID any `json:"switch_id,omitempty"`
	IfSpeed  any `json:"if_speed,omitempty"`
	IfType   any `json:"if_type,omitempty"`
}

// Vlan is a vlan entry of a connection.
type Vlan struct {
	VlanID *int     `json:"vlan_id,omitempty"`
	IPv4   *Address `json:"ipv4,omitempty"`
	IPv6   *Address `json:"ipv6,omitempty"`
}

// Address is the per-family part of a vlan entry.
type Address struct {
	Address     string   `json:"address,omitempty"`
	RouteServer *bool    `json:"routeserver,omitempty"`
	MaxPrefix   *int     `json:"max_prefix,omitempty"`
	ASMacro     string   `json:"as_macro,omitempty"`
	MAC         []string `json:"mac_addresses,omitempty"`
}

func (a *Address) empty() bool {
	return a == nil || (a.Address == "" && a.RouteServer == nil && a.MaxPrefix == nil && a.ASMacro == "" && len(a.MAC) == 0)
}

// ID returns the vlan id, 0 when the exporter left it out.
func (v Vlan) ID() int {
	if v.VlanID == nil {
		return 0
	}
	return *v.VlanID
}

// HasIPv4 reports whether the entry carries an IPv4 part.
func (v Vlan) HasIPv4() bool { return v.IPv4 != nil }

// HasIPv6 reports whether the entry carries an IPv6 part.
func (v Vlan) HasIPv6() bool { return v.IPv6 != nil }

// Parse decodes a member export.
func Parse(b []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// speedKeys returns the non-empty if_speed values of a connection as sorted
// strings, used to tell whether two connections describe the same port set.
func (c Connection) speedKeys() []string {
	var out []string
	for _, iface := range c.IfList {
		if isZeroSpeed(iface.IfSpeed) {
			continue
		}
		out = append(out, fmt.Sprint(iface.IfSpeed))
	}
	sort.Strings(out)
	return out
}

func isZeroSpeed(v any) bool {
	switch s := v.(type) {
	case nil:
		return true
	case float64:
		return s == 0
	case string:
		return s == ""
	case bool:
		return !s
	}
	return false
}
