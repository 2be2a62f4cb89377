package ixf

import (
	"errors"
	"fmt"
	"strings"

	"ixf-sync/pkg/model"
	"ixf-sync/pkg/store"
)

// processDeletions handles active records the exchange no longer
// publishes.
func (r *run) processDeletions() error {
	recs, err := r.st.ListRecords(store.RecordFilter{
		ExchangeLANID: r.lan.ID,
		ASN:           r.opts.ASN,
		Status:        []string{model.StatusOK, model.StatusPending},
	})
	if err != nil {
		return fmt.Errorf("list records: %w", err)
	}
	for i := range recs {
		rec := recs[i]
		if r.isLive(rec.ASN, rec.IPv4, rec.IPv6) {
			continue
		}
		net, err := r.network(rec.ASN)
		if err != nil {
			return err
		}
		if net == nil {
			r.logger.Warn("record without network", "record", rec.ID, "asn", rec.ASN)
			continue
		}
		empty := "{}"
		rs := rec.IsRSPeer
		e, err := r.instantiate(net, instance{
			v4:          rec.IPv4,
			v6:          rec.IPv6,
			speed:       rec.Speed,
			operational: rec.Operational,
			rs:          &rs,
			data:        &empty,
			forDeletion: true,
		})
		if err != nil {
			return err
		}
		if e == nil {
			continue
		}
		r.fixConsolidatedModify(e)
		r.deletions = append(r.deletions, e)

		if net.AllowIXPUpdate {
			e.Reason = reasonGone
			var verr *ValidationError
			if err := r.apply(e); errors.As(err, &verr) {
				r.logError(verr.Error(), false)
				continue
			} else if err != nil {
				return err
			}
			found, _ := r.record(e)
			e.logEntry = r.logPeer(recordPeer(r.peer(e.ASN), found), "delete", reasonGone)
			continue
		}
		notify, err := r.setRemove(e, reasonGone)
		if err != nil {
			return err
		}
		if notify {
			r.enqueue(e, "remove", true, true, true, nil)
		}
		r.logSuggest(e)
	}
	return nil
}

// fixConsolidatedModify keeps fields the importer may not change from
// flipping when a deletion and an add consolidate into a modify.
func (r *run) fixConsolidatedModify(del *entry) {
	s := r.settings()
	for _, e := range r.pending {
		if e.ASN != del.ASN {
			continue
		}
		if !(del.IPv4 != "" && sameAddr(e.initIPv4, del.IPv4)) && !(del.IPv6 != "" && sameAddr(e.initIPv6, del.IPv6)) {
			continue
		}
		if !s.ModifySpeed {
			e.Speed = del.Speed
		}
		if !s.ModifyRSPeer {
			e.IsRSPeer = del.IsRSPeer
		}
		return
	}
}

// processSaves handles every entry the exchange publishes.
func (r *run) processSaves() error {
	for _, e := range r.pending {
		rec, err := r.record(e)
		if err != nil {
			return err
		}
		if rec.ID != 0 && rec.Status == model.StatusOK {
			if len(r.changes(e, rec)) == 0 {
				notify, err := r.setResolved(e)
				if err != nil {
					return err
				}
				if notify {
					r.enqueue(e, "resolved", true, true, true, nil)
				}
				continue
			}
			if err := r.applyUpdate(e); err != nil {
				return err
			}
			continue
		}
		if err := r.applyAdd(e); err != nil {
			return err
		}
	}
	return nil
}

func changeFields(cs []Change) string {
	names := make([]string, 0, len(cs))
	for _, c := range cs {
		names = append(names, c.Field)
	}
	return strings.Join(names, ", ")
}

func (r *run) applyUpdate(e *entry) error {
	reason := reasonChanged + ": " + changeFields(r.recordChanges(e))
	if e.net.AllowIXPUpdate {
		e.Reason = reason
		act := r.action(e)
		var verr *ValidationError
		if err := r.apply(e); errors.As(err, &verr) {
			notify, err := r.setConflict(e, verr)
			if err != nil {
				return err
			}
			if notify {
				r.enqueue(e, act, true, true, true, nil)
			}
			return nil
		} else if err != nil {
			return err
		}
		rec, _ := r.record(e)
		e.logEntry = r.logPeer(recordPeer(r.peer(e.ASN), rec), act, reason)
		return nil
	}
	notify, err := r.setUpdate(e, reason)
	if err != nil {
		return err
	}
	if notify {
		r.enqueue(e, "modify", true, true, true, nil)
	}
	r.logSuggest(e)
	return nil
}

func (r *run) applyAdd(e *entry) error {
	if e.net.AllowIXPUpdate {
		e.Reason = reasonNew
		act := r.action(e)
		var verr *ValidationError
		if err := r.apply(e); errors.As(err, &verr) {
			notify, err := r.setConflict(e, verr)
			if err != nil {
				return err
			}
			if notify {
				r.enqueue(e, act, true, true, true, nil)
			}
			return nil
		} else if err != nil {
			return err
		}
		rec, _ := r.record(e)
		e.logEntry = r.logPeer(recordPeer(r.peer(e.ASN), rec), act, reasonNew)
		if !r.opts.Save {
			return r.consolidateDeleteAdd(e)
		}
		return nil
	}

	notify, err := r.setAdd(e)
	if err != nil {
		return err
	}
	r.logSuggest(e)
	if err := r.consolidateDeleteAdd(e); err != nil {
		return err
	}
	if notify {
		present, err := r.netPresentAtIX(e)
		if err != nil {
			return err
		}
		if present {
			r.enqueue(e, "add", true, true, true, nil)
		} else {
			r.enqueue(e, "add", false, false, true, nil)
		}
	}
	return nil
}

// consolidateDeleteAdd turns a deletion and an add that share an address
// into a single modify, with the deletions as requirements of the add.
func (r *run) consolidateDeleteAdd(e *entry) error {
	var del4, del6 *entry
	for _, d := range r.deletions {
		if d.ASN != e.ASN {
			continue
		}
		if del4 == nil && d.IPv4 != "" && sameAddr(d.IPv4, e.initIPv4) {
			del4 = d
		}
		if del6 == nil && d.IPv6 != "" && sameAddr(d.IPv6, e.initIPv6) {
			del6 = d
		}
	}
	ok4, err := r.setRequirement(e, del4)
	if err != nil {
		return err
	}
	var ok6 bool
	if del6 != del4 {
		if ok6, err = r.setRequirement(e, del6); err != nil {
			return err
		}
	} else {
		ok6 = ok4
	}
	if (!ok4 && !ok6) || len(e.reqs) == 0 {
		return nil
	}

	for _, d := range []*entry{del4, del6} {
		if d != nil && d.logEntry != nil {
			r.log.remove(d.logEntry)
			d.logEntry = nil
		}
	}

	var fields []Change
	for _, d := range []*entry{del4, del6} {
		if d == nil {
			continue
		}
		rec, err := r.record(d)
		if err != nil {
			return err
		}
		fields = r.changes(e, rec)
		break
	}

	var info string
	switch {
	case del4 != nil && del6 != nil:
		info = "IP addresses moved to same entry"
	case del4 != nil:
		info = "IPv6 not set"
	default:
		info = "IPv4 not set"
	}
	reason := reasonChanged + ": " + info
	if len(fields) > 0 {
		reason = reasonChanged + ": " + changeFields(fields) + " " + info
	}
	e.Reason = reason
	e.Error = ""
	if r.opts.Save {
		if err := r.saveEntry(e); err != nil {
			return err
		}
	}
	if e.logEntry != nil {
		if e.logEntry.Action == "add" {
			e.logEntry.Action = "modify"
		} else if e.logEntry.Action == "suggest-add" {
			e.logEntry.Action = "suggest-modify"
		}
		e.logEntry.Reason = reason
	}
	return nil
}

// cleanup resolves proposals that stopped applying.
func (r *run) cleanup() error {
	ps, err := r.st.ListProposals(store.ProposalFilter{ExchangeLANID: r.lan.ID, ASN: r.opts.ASN})
	if err != nil {
		return fmt.Errorf("list proposals: %w", err)
	}
	for _, p := range ps {
		if _, done := r.resolved[p.ID]; done {
			continue
		}
		if p.IsRequirement() {
			continue
		}
		e, err := r.wrap(p)
		if errors.Is(err, store.ErrNotFound) {
			r.logger.Warn("proposal without network", "proposal", p.ID, "asn", p.ASN)
			continue
		}
		if err != nil {
			return err
		}
		act := r.action(e)
		stale := act == "noop"
		if (act == "add" || act == "modify") && !r.isLive(e.ASN, e.IPv4, e.IPv6) {
			stale = true
		}
		if !stale {
			continue
		}
		notify, err := r.setResolved(e)
		if err != nil {
			return err
		}
		if notify {
			r.enqueue(e, "resolved", true, true, true, nil)
		}
	}
	return nil
}
