package ixf

import (
	"fmt"
	"net/netip"
	"strings"

	"ixf-sync/pkg/model"
	"ixf-sync/pkg/store"
)

// Reasons logged and stored on proposals.
const (
	reasonGone    = "The entry for (asn and IPv4 and IPv6) does not exist in the exchange's IX-F data as a singular member connection"
	reasonNew     = "The entry for (asn and IPv4 and IPv6) does not exist in the registry as a singular network -> ix connection"
	reasonChanged = "Data differences between the registry and the exchange's IX-F data"
	reasonStale   = "Stale record removed due to long-standing unresolved data conflict"
)

// Change is one field that differs between a proposal and its record.
type Change struct {
	Field string `json:"field"`
	From  any    `json:"from"`
	To    any    `json:"to"`
}

// previous holds the values a proposal had before the run touched it.
type previous struct {
	speed       int64
	operational bool
	rs          *bool
	data        string
	err         string
}

// entry is a proposal under evaluation together with the transient state a
// run derives for it.
type entry struct {
	model.Proposal

	net         *model.Network
	prev        *previous
	initIPv4    string // addresses the exchange published, before protocol filtering
	initIPv6    string
	forDeletion *bool

	rec      *model.PeeringRecord
	recDone  bool
	reqs     []*entry
	reqsDone bool
	logEntry *LogEntry
}

func canon(s string) string {
	if s == "" {
		return ""
	}
	a, err := netip.ParseAddr(s)
	if err != nil {
		return s
	}
	return a.Unmap().String()
}

func sameAddr(a, b string) bool {
	return canon(a) == canon(b)
}

func (e *entry) markedForDeletion() bool {
	if e.forDeletion != nil {
		return *e.forDeletion
	}
	return e.RemoteDataMissing()
}

func (e *entry) previousData() string {
	if e.prev == nil {
		return "{}"
	}
	return e.prev.data
}

func (e *entry) previousError() string {
	if e.prev == nil {
		return ""
	}
	return e.prev.err
}

// network resolves an ASN through the run cache. A nil result means the
// registry does not know the ASN.
func (r *run) network(asn uint32) (*model.Network, error) {
	if n, ok := r.nets[asn]; ok {
		return n, nil
	}
	n, ok, err := r.st.GetNetworkByASN(asn)
	if err != nil {
		return nil, fmt.Errorf("get network AS%d: %w", asn, err)
	}
	if !ok {
		r.nets[asn] = nil
		return nil, nil
	}
	r.nets[asn] = &n
	return &n, nil
}

// wrap turns a stored proposal into an entry.
func (r *run) wrap(p model.Proposal) (*entry, error) {
	net, err := r.network(p.ASN)
	if err != nil {
		return nil, err
	}
	if net == nil {
		return nil, fmt.Errorf("proposal %d: network AS%d: %w", p.ID, p.ASN, store.ErrNotFound)
	}
	return &entry{Proposal: p, net: net, initIPv4: p.IPv4, initIPv6: p.IPv6}, nil
}

// record returns the peering record the entry applies to. An entry without
// one gets an unsaved record built from its values.
func (r *run) record(e *entry) (*model.PeeringRecord, error) {
	if e.recDone {
		return e.rec, nil
	}
	checkProtocols := !e.markedForDeletion()
	useV4 := e.net.IPv4Support || !checkProtocols
	useV6 := e.net.IPv6Support || !checkProtocols

	var found *model.PeeringRecord
	if useV4 || useV6 {
		recs, err := r.st.ListRecords(store.RecordFilter{ExchangeLANID: e.ExchangeLANID, ASN: e.ASN})
		if err != nil {
			return nil, fmt.Errorf("list records: %w", err)
		}
		for i := range recs {
			rec := recs[i]
			if useV4 && !sameAddr(rec.IPv4, e.IPv4) {
				continue
			}
			if useV6 && !sameAddr(rec.IPv6, e.IPv6) {
				continue
			}
			if found == nil || (rec.Active() && !found.Active()) {
				found = &rec
			}
		}
	}
	if found == nil {
		rs := false
		if e.IsRSPeer != nil {
			rs = *e.IsRSPeer
		}
		found = &model.PeeringRecord{
			NetworkID:     e.net.ID,
			ExchangeLANID: e.ExchangeLANID,
			ASN:           e.ASN,
			IPv4:          e.IPv4,
			IPv6:          e.IPv6,
			Speed:         e.Speed,
			IsRSPeer:      rs,
			Operational:   e.Operational,
			Status:        model.StatusOK,
		}
	}
	e.rec = found
	e.recDone = true
	return found, nil
}

// requirements returns the proposals that must be applied before e.
func (r *run) requirements(e *entry) ([]*entry, error) {
	if e.reqsDone || e.ID == 0 {
		return e.reqs, nil
	}
	ps, err := r.st.ListRequirements(e.ID)
	if err != nil {
		return nil, fmt.Errorf("list requirements: %w", err)
	}
	for _, p := range ps {
		req, err := r.wrap(p)
		if err != nil {
			return nil, err
		}
		e.reqs = append(e.reqs, req)
	}
	e.reqsDone = true
	return e.reqs, nil
}

func (r *run) markedForRemoval(e *entry) bool {
	rec, err := r.record(e)
	if err != nil || rec == nil {
		return false
	}
	return rec.ID != 0 && rec.Status != model.StatusDeleted && e.RemoteDataMissing()
}

// changes lists the fields where e differs from rec.
func (r *run) changes(e *entry, rec *model.PeeringRecord) []Change {
	if rec == nil || r.markedForRemoval(e) {
		return nil
	}
	s := r.settings()
	var out []Change
	if s.ModifyRSPeer && e.IsRSPeer != nil && *e.IsRSPeer != rec.IsRSPeer {
		out = append(out, Change{Field: "is_rs_peer", From: rec.IsRSPeer, To: *e.IsRSPeer})
	}
	if s.ModifySpeed && e.Speed > 0 && e.Speed != rec.Speed {
		out = append(out, Change{Field: "speed", From: rec.Speed, To: e.Speed})
	}
	if e.Operational != rec.Operational {
		out = append(out, Change{Field: "operational", From: rec.Operational, To: e.Operational})
	}
	if rec.Status != e.Status {
		out = append(out, Change{Field: "status", From: rec.Status, To: e.Status})
	}
	return out
}

func (r *run) recordChanges(e *entry) []Change {
	rec, err := r.record(e)
	if err != nil {
		return nil
	}
	return r.changes(e, rec)
}

// action derives what applying e would do: add, modify, delete or noop.
func (r *run) action(e *entry) string {
	rec, err := r.record(e)
	if err != nil {
		return "noop"
	}
	act := "noop"
	switch {
	case !e.RemoteDataMissing():
		switch {
		case rec.ID == 0:
			act = "add"
		case e.Status == model.StatusOK && rec.Status == model.StatusDeleted:
			act = "add"
		case len(r.changes(e, rec)) > 0:
			act = "modify"
		}
	case r.markedForRemoval(e):
		act = "delete"
	}
	if act == "add" {
		reqs, _ := r.requirements(e)
		if len(reqs) > 0 && reqs[0].ASN == e.ASN && r.action(reqs[0]) == "delete" {
			act = "modify"
		}
	}
	return act
}

// remoteChanges lists the fields the exchange changed since the last run.
func (r *run) remoteChanges(e *entry) []string {
	rec, err := r.record(e)
	if err != nil {
		return nil
	}
	if e.ID == 0 && rec.ID != 0 {
		return nil
	}
	if e.prev == nil {
		return nil
	}
	var out []string
	if e.Speed != e.prev.speed {
		out = append(out, "speed")
	}
	if e.Operational != e.prev.operational {
		out = append(out, "operational")
	}
	if e.prev.rs != nil && (e.IsRSPeer == nil || *e.IsRSPeer != *e.prev.rs) {
		out = append(out, "is_rs_peer")
	}
	return out
}

// actionableChanges is what a network has to do to resolve e, requirements
// included.
func (r *run) actionableChanges(e *entry) []Change {
	out := r.recordChanges(e)
	reqs, _ := r.requirements(e)
	for _, req := range reqs {
		rec, err := r.record(req)
		if err != nil {
			continue
		}
		out = append(out, r.changes(e, rec)...)
	}
	if addrOnRequirement(reqs, func(x *entry) string { return x.IPv4 }, e.IPv4, e.initIPv4) {
		out = append(out, Change{Field: "ipv4", To: e.IPv4})
	}
	if addrOnRequirement(reqs, func(x *entry) string { return x.IPv6 }, e.IPv6, e.initIPv6) {
		out = append(out, Change{Field: "ipv6", To: e.IPv6})
	}
	return out
}

func addrOnRequirement(reqs []*entry, get func(*entry) string, addr, initAddr string) bool {
	for _, req := range reqs {
		v := get(req)
		if v == "" {
			continue
		}
		if sameAddr(v, addr) || sameAddr(v, initAddr) {
			return true
		}
	}
	return false
}

// actionableForNetwork is false when the conflict can only be fixed by the
// exchange.
func actionableForNetwork(e *entry) bool {
	for _, s := range []string{"address outside of prefix", "does not match any prefix", "speed value"} {
		if strings.Contains(e.Error, s) {
			return false
		}
	}
	return true
}

// proposalString names the proposal in subjects.
func (r *run) proposalString(e *entry) string {
	v4, v6 := e.IPv4, e.IPv6
	if v4 == "" {
		v4 = "No IPv4"
	}
	if v6 == "" {
		v6 = "No IPv6"
	}
	return fmt.Sprintf("%s AS%d %s %s", r.ix.Name, e.ASN, v4, v6)
}

func (r *run) saveEntry(e *entry) error {
	if err := r.st.SaveProposal(&e.Proposal); err != nil {
		return fmt.Errorf("save proposal AS%d: %w", e.ASN, err)
	}
	for _, req := range e.reqs {
		if req.RequirementOfID == nil && e.ID != 0 {
			id := e.ID
			req.RequirementOfID = &id
			if req.ID != 0 {
				if err := r.st.SaveProposal(&req.Proposal); err != nil {
					return fmt.Errorf("save requirement: %w", err)
				}
			}
		}
	}
	return nil
}

// grabValidationErrors stores the errors applying e would raise.
func (r *run) grabValidationErrors(e *entry) {
	rec, err := r.record(e)
	if err != nil || rec == nil {
		return
	}
	if verr := r.validateRecord(rec); !verr.empty() {
		e.Error = verr.JSON()
	}
}

func (r *run) netPresentAtIX(e *entry) (bool, error) {
	recs, err := r.st.ListRecords(store.RecordFilter{ExchangeLANID: r.lan.ID, ASN: e.ASN, Status: []string{model.StatusOK}})
	if err != nil {
		return false, fmt.Errorf("list records: %w", err)
	}
	for _, rec := range recs {
		if rec.NetworkID == e.net.ID {
			return true, nil
		}
	}
	return false, nil
}

// setAdd persists an add that could not be applied.
func (r *run) setAdd(e *entry) (bool, error) {
	e.Reason = reasonNew
	if e.ID == 0 && r.opts.Save {
		r.grabValidationErrors(e)
		return true, r.saveEntry(e)
	}
	if e.previousData() != e.Data && r.opts.Save {
		return false, r.saveEntry(e)
	}
	return false, nil
}

// setUpdate persists a modify that could not be applied.
func (r *run) setUpdate(e *entry, reason string) (bool, error) {
	e.Reason = reason
	rec, err := r.record(e)
	if err != nil {
		return false, err
	}
	if ((len(r.changes(e, rec)) > 0 && e.ID == 0) || len(r.remoteChanges(e)) > 0) && r.opts.Save {
		r.grabValidationErrors(e)
		e.Dismissed = false
		return true, r.saveEntry(e)
	}
	if e.previousData() != e.Data && r.opts.Save {
		return false, r.saveEntry(e)
	}
	return false, nil
}

// setRemove persists a delete that could not be applied.
func (r *run) setRemove(e *entry, reason string) (bool, error) {
	e.Reason = reason
	notSaved := e.ID == 0 && r.markedForRemoval(e)
	gone := e.ID != 0 && e.previousData() != "{}" && e.RemoteDataMissing()
	if (notSaved || gone) && r.opts.Save {
		e.Data = "{}"
		return true, r.saveEntry(e)
	}
	return false, nil
}

// setConflict persists an authorized change that failed validation.
func (r *run) setConflict(e *entry, verr *ValidationError) (bool, error) {
	if e.ID == 0 {
		ps, err := r.st.ListProposals(store.ProposalFilter{ASN: e.ASN})
		if err != nil {
			return false, fmt.Errorf("list proposals: %w", err)
		}
		for _, p := range ps {
			if p.Error == "" {
				continue
			}
			v4 := e.IPv4 != "" && sameAddr(p.IPv4, e.IPv4)
			v6 := e.IPv6 != "" && sameAddr(p.IPv6, e.IPv6)
			if v4 || v6 {
				return false, nil
			}
		}
	}
	hasErr := !verr.empty()
	if (len(r.remoteChanges(e)) > 0 || (hasErr && e.previousError() == "")) && r.opts.Save {
		e.Error = ""
		if hasErr {
			e.Error = verr.JSON()
		}
		e.Dismissed = false
		return true, r.saveEntry(e)
	}
	if e.previousData() != e.Data && r.opts.Save {
		return false, r.saveEntry(e)
	}
	return false, nil
}

// setResolved removes a proposal that no longer applies. A proposal with a
// ticket is kept until the ticket is updated.
func (r *run) setResolved(e *entry) (bool, error) {
	if e.ID == 0 || !r.opts.Save || e.IsRequirement() {
		return false, nil
	}
	if e.TicketID != 0 && r.imp.ticketsEnabled() {
		r.deferred[e.ID] = true
	} else if err := r.st.DeleteProposal(e.ID); err != nil {
		return false, fmt.Errorf("delete proposal %d: %w", e.ID, err)
	}
	r.resolved[e.ID] = struct{}{}
	return true, nil
}

// setRequirement makes child a requirement of parent.
func (r *run) setRequirement(parent, child *entry) (bool, error) {
	if child == nil || child.IsRequirement() || child == parent {
		return false, nil
	}
	if parent.ID != 0 && child.ID == parent.ID {
		return false, nil
	}
	if parent.ID != 0 {
		id := parent.ID
		child.RequirementOfID = &id
	}
	parent.reqs = append(parent.reqs, child)
	parent.reqsDone = true
	if r.opts.Save && parent.ID != 0 {
		if err := r.st.SaveProposal(&child.Proposal); err != nil {
			return false, fmt.Errorf("save requirement: %w", err)
		}
	}
	return true, nil
}
