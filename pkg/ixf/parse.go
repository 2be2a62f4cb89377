package ixf

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"strings"

	"ixf-sync/pkg/feed"
	"ixf-sync/pkg/model"
	"ixf-sync/pkg/store"
)

var allowedStates = map[string]bool{
	"":            true,
	"active":      true,
	"inactive":    true,
	"connected":   true,
	"operational": true,
}

// vlanAddrs holds the parsed addresses of a vlan entry.
type vlanAddrs struct {
	v4, v6     string
	v4ok, v6ok bool // inside a LAN prefix of the right family
}

// parseVlan canonicalizes the addresses of a vlan entry. Unparsable
// addresses are reported through bad and dropped.
func (r *run) parseVlan(vlan feed.Vlan, bad func(addr string)) vlanAddrs {
	var out vlanAddrs
	if vlan.IPv4 != nil && vlan.IPv4.Address != "" {
		if a, err := netip.ParseAddr(vlan.IPv4.Address); err != nil {
			bad(vlan.IPv4.Address)
		} else {
			a = a.Unmap()
			out.v4 = a.String()
			out.v4ok = a.Is4() && r.lan.Contains(a)
		}
	}
	if vlan.IPv6 != nil && vlan.IPv6.Address != "" {
		if a, err := netip.ParseAddr(vlan.IPv6.Address); err != nil {
			bad(vlan.IPv6.Address)
		} else {
			out.v6 = a.String()
			out.v6ok = a.Is6() && !a.Is4In6() && r.lan.Contains(a)
		}
	}
	return out
}

// outsideLAN reports whether the entry belongs to another LAN of the
// exchange.
func (a vlanAddrs) outsideLAN() bool {
	switch {
	case a.v4 != "" && !a.v4ok && a.v6 != "" && !a.v6ok:
		return true
	case !a.v4ok && a.v6 == "":
		return true
	case !a.v6ok && a.v4 == "":
		return true
	}
	return false
}

func vlanLabel(vlan feed.Vlan) string {
	if vlan.VlanID == nil {
		return "None"
	}
	return fmt.Sprint(*vlan.VlanID)
}

// usable reports whether the network exists, is ok and the connection
// state is one the importer understands. The reason is empty for a
// missing network that should be skipped silently.
func (r *run) usableMember(member feed.Member) (*model.Network, string, error) {
	net, err := r.network(member.ASNum)
	if err != nil {
		return nil, "", err
	}
	if net == nil {
		return nil, "Network does not exist in registry", nil
	}
	if net.Status != model.StatusOK {
		return nil, fmt.Sprintf("Network status is '%s'", net.Status), nil
	}
	return net, "", nil
}

// checkVlans fails when the entries inside the LAN prefixes carry more
// than one explicit vlan id.
func (r *run) checkVlans(doc *feed.Document) error {
	seen := map[int]struct{}{}
	for _, member := range doc.MemberList {
		if r.opts.ASN != 0 && member.ASNum != r.opts.ASN {
			continue
		}
		net, _, err := r.usableMember(member)
		if err != nil {
			return err
		}
		if net == nil {
			continue
		}
		for _, conn := range member.ConnectionList {
			if !allowedStates[strings.ToLower(conn.State)] {
				continue
			}
			for _, vlan := range conn.VlanList {
				addrs := r.parseVlan(vlan, func(string) {})
				if (addrs.v4 == "" && addrs.v6 == "") || addrs.outsideLAN() {
					continue
				}
				if vlan.VlanID != nil {
					seen[*vlan.VlanID] = struct{}{}
				}
				if len(seen) > 1 {
					return ErrMultipleVlansInPrefix
				}
			}
		}
	}
	return nil
}

// parse turns the member list into pending entries and builds the set of
// keys the exchange still publishes.
func (r *run) parse(doc *feed.Document) error {
	for _, member := range doc.MemberList {
		if r.opts.ASN != 0 && member.ASNum != r.opts.ASN {
			continue
		}
		net, reason, err := r.usableMember(member)
		if err != nil {
			return err
		}
		if net == nil {
			r.logPeer(r.peer(member.ASNum), "ignore", reason)
			continue
		}
		data, err := json.Marshal(member)
		if err != nil {
			return fmt.Errorf("encode member AS%d: %w", member.ASNum, err)
		}
		for _, conn := range member.ConnectionList {
			if err := r.parseConnection(net, member, conn, string(data)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *run) parseConnection(net *model.Network, member feed.Member, conn feed.Connection, data string) error {
	state := strings.ToLower(conn.State)
	if !allowedStates[state] {
		r.logPeer(r.peer(member.ASNum), "ignore", fmt.Sprintf("Invalid connection state: %s", conn.State))
		return nil
	}
	connErrors := map[string][]string{}
	speed, speedErrs := feed.ParseSpeed(conn.IfList)
	for _, msg := range speedErrs {
		r.logError(msg, false)
		connErrors["speed"] = append(connErrors["speed"], msg)
	}

	for _, vlan := range conn.VlanList {
		if vlan.IPv4 == nil && vlan.IPv6 == nil {
			r.logError(fmt.Sprintf("Could not find ipv4 or 6 address in vlan_list entry for vlan_id %s (AS%d)", vlanLabel(vlan), member.ASNum), false)
			continue
		}
		invalid := false
		addrs := r.parseVlan(vlan, func(addr string) {
			invalid = true
			r.invalidIPs = append(r.invalidIPs, addr)
			r.logError(fmt.Sprintf("Ip address error '%s' in vlan_list entry for vlan_id %s", addr, vlanLabel(vlan)), false)
		})
		if invalid || addrs.outsideLAN() {
			continue
		}
		if err := r.checkProtocolConflict(net, addrs); err != nil {
			return err
		}
		if err := r.addLive(net, addrs); err != nil {
			return err
		}

		var rs *bool
		switch {
		case vlan.IPv4 != nil && vlan.IPv4.RouteServer != nil:
			rs = vlan.IPv4.RouteServer
		case vlan.IPv6 != nil && vlan.IPv6.RouteServer != nil:
			rs = vlan.IPv6.RouteServer
		}
		e, err := r.instantiate(net, instance{
			v4:          addrs.v4,
			v6:          addrs.v6,
			speed:       speed,
			operational: state != "inactive",
			rs:          rs,
			data:        &data,
		})
		if err != nil {
			return err
		}
		if e == nil || (e.IPv4 == "" && e.IPv6 == "") {
			continue
		}
		if len(connErrors) > 0 {
			b, _ := json.Marshal(connErrors)
			e.Error = string(b)
		}
		r.pending = append(r.pending, e)
	}
	return nil
}

// checkProtocolConflict flags an exchange publishing an address family the
// network does not support. Only the first conflict of a run is kept and
// the exchange and network hear about it once.
func (r *run) checkProtocolConflict(net *model.Network, addrs vlanAddrs) error {
	conflict := 0
	switch {
	case addrs.v4 != "" && !net.IPv4Support:
		conflict = 4
	case addrs.v6 != "" && !net.IPv6Support:
		conflict = 6
	}
	if conflict == 0 || r.conflict != 0 {
		return nil
	}
	r.conflict = conflict
	if r.lan.ProtocolConflict != 0 {
		return nil
	}
	r.lan.ProtocolConflict = conflict
	if r.opts.Save {
		if err := r.st.SaveExchangeLAN(&r.lan); err != nil {
			return fmt.Errorf("save protocol conflict: %w", err)
		}
	}
	e := &entry{
		Proposal: model.Proposal{
			ExchangeLANID: r.lan.ID,
			ASN:           net.ASN,
			Status:        model.StatusOK,
			Data:          "{}",
		},
		net:      net,
		initIPv4: addrs.v4,
		initIPv6: addrs.v6,
	}
	r.enqueue(e, "protocol-conflict", false, true, true, map[string]string{
		"ipv4": addrs.v4,
		"ipv6": addrs.v6,
	})
	return nil
}

// addLive marks the entry as published, along with the keys a record of a
// network lacking one family would have.
func (r *run) addLive(net *model.Network, addrs vlanAddrs) error {
	r.live[model.Key{ASN: net.ASN, IPv4: addrs.v4, IPv6: addrs.v6}] = struct{}{}
	if !net.IPv6Support && addrs.v4 != "" {
		r.live[model.Key{ASN: net.ASN, IPv4: addrs.v4}] = struct{}{}
		recs, err := r.st.ListRecords(store.RecordFilter{IPv4: addrs.v4, Status: []string{model.StatusOK}})
		if err != nil {
			return fmt.Errorf("list records: %w", err)
		}
		for _, rec := range recs {
			r.live[model.Key{ASN: net.ASN, IPv4: addrs.v4, IPv6: canon(rec.IPv6)}] = struct{}{}
		}
	}
	if !net.IPv4Support && addrs.v6 != "" {
		r.live[model.Key{ASN: net.ASN, IPv6: addrs.v6}] = struct{}{}
		recs, err := r.st.ListRecords(store.RecordFilter{IPv6: addrs.v6, Status: []string{model.StatusOK}})
		if err != nil {
			return fmt.Errorf("list records: %w", err)
		}
		for _, rec := range recs {
			r.live[model.Key{ASN: net.ASN, IPv4: canon(rec.IPv4), IPv6: addrs.v6}] = struct{}{}
		}
	}
	return nil
}

func (r *run) isLive(asn uint32, v4, v6 string) bool {
	_, ok := r.live[model.Key{ASN: asn, IPv4: canon(v4), IPv6: canon(v6)}]
	return ok
}

// instance carries the values a proposal is instantiated with.
type instance struct {
	v4, v6      string
	speed       int64
	operational bool
	rs          *bool
	data        *string
	forDeletion bool
}

func idMatch(p model.Proposal, net *model.Network, v4, v6 string) bool {
	if net.IPv4Support && !sameAddr(p.IPv4, v4) {
		return false
	}
	if net.IPv6Support && !sameAddr(p.IPv6, v6) {
		return false
	}
	return true
}

// instantiate loads the proposal for the given identity or prepares a new
// one. Ambiguous matches are pruned down to the exact one. It returns nil
// when no address of a new proposal is usable.
func (r *run) instantiate(net *model.Network, in instance) (*entry, error) {
	ps, err := r.st.ListProposals(store.ProposalFilter{ExchangeLANID: r.lan.ID, ASN: net.ASN})
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	var matches []model.Proposal
	for _, p := range ps {
		if idMatch(p, net, in.v4, in.v6) {
			matches = append(matches, p)
		}
	}
	if len(matches) > 1 {
		var exact []model.Proposal
		for _, p := range matches {
			if sameAddr(p.IPv4, in.v4) && sameAddr(p.IPv6, in.v6) {
				exact = append(exact, p)
				continue
			}
			if err := r.st.DeleteProposal(p.ID); err != nil {
				return nil, fmt.Errorf("delete proposal %d: %w", p.ID, err)
			}
		}
		matches = exact
	}

	var e *entry
	if len(matches) > 0 {
		p := matches[0]
		e = &entry{Proposal: p, net: net}
		e.prev = &previous{
			speed:       p.Speed,
			operational: p.Operational,
			rs:          p.IsRSPeer,
			data:        p.Data,
			err:         p.Error,
		}
		e.Fetched = r.now()
		if err := r.st.SaveProposal(&e.Proposal); err != nil {
			return nil, fmt.Errorf("save proposal %d: %w", p.ID, err)
		}
	} else {
		p := model.Proposal{ExchangeLANID: r.lan.ID, ASN: net.ASN, Status: model.StatusOK, Data: "{}", CreatedAt: r.now()}
		if net.IPv4Support || in.v4 == "" || in.forDeletion {
			p.IPv4 = in.v4
		}
		if net.IPv6Support || in.v6 == "" || in.forDeletion {
			p.IPv6 = in.v6
		}
		if in.v4 != "" && in.v6 != "" && p.IPv4 == "" && p.IPv6 == "" {
			r.logError(ErrNoSuitableAddress.Error(), false)
			return nil, nil
		}
		e = &entry{Proposal: p, net: net}
	}
	e.Speed = in.speed
	e.Operational = in.operational
	e.IsRSPeer = in.rs
	e.Fetched = r.now()
	e.initIPv4 = in.v4
	e.initIPv6 = in.v6
	fd := in.forDeletion
	e.forDeletion = &fd
	if in.data != nil {
		e.Data = *in.data
	}
	return e, nil
}
