package ixf

import (
	"fmt"

	"ixf-sync/pkg/model"
	"ixf-sync/pkg/store"
)

// staleDeletions returns the deletion proposals of the LAN that the
// current run saw, filtered by keep.
func (r *run) staleDeletions(keep func(p model.Proposal) bool) ([]*entry, error) {
	ps, err := r.st.ListProposals(store.ProposalFilter{ExchangeLANID: r.lan.ID, ASN: r.opts.ASN})
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	var out []*entry
	for _, p := range ps {
		if p.IsRequirement() || p.Fetched.Before(r.start) || !keep(p) {
			continue
		}
		e, err := r.wrap(p)
		if err != nil {
			r.logger.Warn("skip stale proposal", "proposal", p.ID, "err", err)
			continue
		}
		if r.action(e) != "delete" {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// notifyStale reminds networks of deletions they have not acted on, at
// most NotifyCount times and once per NotifyPeriod. LANs that are not ready
// for import are left alone.
func (r *run) notifyStale() error {
	s := r.settings().Stale
	if !r.opts.Save || !s.Enabled || !r.lan.ReadyForImport() {
		return nil
	}
	cutoff := r.now().Add(-s.NotifyPeriod)
	stale, err := r.staleDeletions(func(p model.Proposal) bool {
		if p.CreatedAt.After(cutoff) || p.ExtraNotificationsNum >= s.NotifyCount {
			return false
		}
		return p.ExtraNotificationsDate == nil || !p.ExtraNotificationsDate.After(cutoff)
	})
	if err != nil {
		return err
	}
	for _, e := range stale {
		now := r.now()
		e.ExtraNotificationsNum++
		e.ExtraNotificationsDate = &now
		if err := r.st.SaveProposal(&e.Proposal); err != nil {
			return fmt.Errorf("save proposal %d: %w", e.ID, err)
		}
		r.enqueue(e, "remove", false, false, true, nil)
	}
	return nil
}

// cleanupAged deletes records whose deletion was proposed and reminded
// about often enough without the network acting on it.
func (r *run) cleanupAged() error {
	s := r.settings().Stale
	var cutoff = r.now().Add(-s.RemovalPeriod)
	stale, err := r.staleDeletions(func(p model.Proposal) bool {
		if p.ExtraNotificationsNum < s.NotifyCount {
			return false
		}
		return s.RemovalPeriod <= 0 || !p.CreatedAt.After(cutoff)
	})
	if err != nil {
		return err
	}
	for _, e := range stale {
		rec, err := r.record(e)
		if err != nil {
			return err
		}
		if rec.ID != 0 {
			before, err := r.latestVersion(rec.ID)
			if err != nil {
				return err
			}
			rec.Status = model.StatusDeleted
			if err := r.saveRecord(rec, "ixf stale removal"); err != nil {
				return err
			}
			r.recordAction("delete", *rec, before, reasonStale)
			r.logPeer(recordPeer(r.peer(e.ASN), rec), "delete", reasonStale)
		}
		if err := r.st.DeleteProposal(e.ID); err != nil {
			return fmt.Errorf("delete proposal %d: %w", e.ID, err)
		}
	}
	return nil
}
