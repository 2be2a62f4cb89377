package feed

import (
	"encoding/json"
)

// Sanitize normalizes doc in place. Identical members are dropped, vlan
// entries that split one logical connection across address families are
// merged, and an address published on two distinct vlan entries fails the
// whole document with a *DuplicateAddressError.
func Sanitize(doc *Document) error {
	doc.MemberList = dedupeMembers(doc.MemberList)

	ipv4Seen := map[string]struct{}{}
	ipv6Seen := map[string]struct{}{}

	for mi := range doc.MemberList {
		member := &doc.MemberList[mi]
		for ci := range member.ConnectionList {
			normalizeAddresses(member.ConnectionList[ci].VlanList)
		}
		member.ConnectionList = pairAcrossConnections(member.ConnectionList)

		for ci := range member.ConnectionList {
			conn := &member.ConnectionList[ci]
			conn.VlanList = mergeVlans(conn.VlanList)
			for _, vlan := range conn.VlanList {
				if vlan.IPv4 != nil && vlan.IPv4.Address != "" {
					if _, ok := ipv4Seen[vlan.IPv4.Address]; ok {
						return &DuplicateAddressError{Address: vlan.IPv4.Address}
					}
					ipv4Seen[vlan.IPv4.Address] = struct{}{}
				}
				if vlan.IPv6 != nil && vlan.IPv6.Address != "" {
					if _, ok := ipv6Seen[vlan.IPv6.Address]; ok {
						return &DuplicateAddressError{Address: vlan.IPv6.Address}
					}
					ipv6Seen[vlan.IPv6.Address] = struct{}{}
				}
			}
		}
	}
	return nil
}

func dedupeMembers(members []Member) []Member {
	seen := map[string]struct{}{}
	out := members[:0]
	for _, m := range members {
		b, err := json.Marshal(m)
		if err != nil {
			out = append(out, m)
			continue
		}
		if _, ok := seen[string(b)]; ok {
			continue
		}
		seen[string(b)] = struct{}{}
		out = append(out, m)
	}
	return out
}

// normalizeAddresses drops address objects that carry nothing, which the
// schema allows to be published as null or {}.
func normalizeAddresses(vlans []Vlan) {
	for i := range vlans {
		if vlans[i].IPv4.empty() {
			vlans[i].IPv4 = nil
		}
		if vlans[i].IPv6.empty() {
			vlans[i].IPv6 = nil
		}
	}
}

// pairAcrossConnections moves a single-family vlan entry from a later
// connection into an earlier one when both connections share state and
// port speeds and the entries complement each other. Connections left
// without vlan entries are dropped.
func pairAcrossConnections(conns []Connection) []Connection {
	out := make([]Connection, 0, len(conns))
	for i := range conns {
		conn := &conns[i]
		if len(conn.VlanList) == 0 {
			continue
		}
		lone := loneVlans(conn.VlanList)
		if len(lone) == 0 {
			out = append(out, *conn)
			continue
		}
		var donors []int
		for j := i + 1; j < len(conns); j++ {
			if connectionsMatch(*conn, conns[j]) {
				donors = append(donors, j)
			}
		}
		for _, v := range lone {
			for _, j := range donors {
				if k := matchingVlan(v, conns[j].VlanList); k >= 0 {
					conn.VlanList = append(conn.VlanList, conns[j].VlanList[k])
					conns[j].VlanList = append(conns[j].VlanList[:k:k], conns[j].VlanList[k+1:]...)
					break
				}
			}
		}
		out = append(out, *conn)
	}
	return out
}

func loneVlans(vlans []Vlan) []Vlan {
	var out []Vlan
	for _, v := range vlans {
		if v.HasIPv4() != v.HasIPv6() {
			out = append(out, v)
		}
	}
	return out
}

func connectionsMatch(a, b Connection) bool {
	if a.State != b.State {
		return false
	}
	sa, sb := a.speedKeys(), b.speedKeys()
	if len(sa) != len(sb) {
		return false
	}
	for i := range sa {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}

func matchingVlan(lone Vlan, candidates []Vlan) int {
	for k, v := range candidates {
		if v.ID() != lone.ID() {
			continue
		}
		if (lone.HasIPv4() && v.HasIPv4()) || (lone.HasIPv6() && v.HasIPv6()) {
			continue
		}
		return k
	}
	return -1
}

// mergeVlans groups vlan entries by id and fills a family missing on the
// last entry of a group from a later entry of the same id. Entries without
// any address are dropped.
func mergeVlans(vlans []Vlan) []Vlan {
	var order []int
	groups := map[int][]Vlan{}
	for _, v := range vlans {
		if !v.HasIPv4() && !v.HasIPv6() {
			continue
		}
		id := v.ID()
		group, ok := groups[id]
		if !ok {
			order = append(order, id)
			groups[id] = []Vlan{v}
			continue
		}
		current := &group[len(group)-1]
		switch {
		case v.HasIPv4() && !current.HasIPv4():
			current.IPv4 = v.IPv4
		case v.HasIPv6() && !current.HasIPv6():
			current.IPv6 = v.IPv6
		default:
			group = append(group, v)
		}
		groups[id] = group
	}
	out := make([]Vlan, 0, len(vlans))
	for _, id := range order {
		out = append(out, groups[id]...)
	}
	return out
}
