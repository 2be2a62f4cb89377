package ixf

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"ixf-sync/pkg/model"
	"ixf-sync/pkg/store"
)

// ProposalView is a proposal with its derived state.
type ProposalView struct {
	model.Proposal
	Action               string   `json:"action"`
	Changes              []Change `json:"changes"`
	ActionableForNetwork bool     `json:"actionableForNetwork"`
}

// ExchangeProposals groups the open proposals of a network at one exchange.
type ExchangeProposals struct {
	Exchange model.Exchange `json:"exchange"`
	Add      []ProposalView `json:"add"`
	Modify   []ProposalView `json:"modify"`
	Delete   []ProposalView `json:"delete"`
}

// viewRun builds a read-only run for deriving proposal state outside an
// import.
func (imp *Importer) viewRun(ctx context.Context, lanID uint) (*run, bool, error) {
	lan, ok, err := imp.Store.GetExchangeLAN(lanID)
	if err != nil || !ok {
		return nil, false, err
	}
	ix, ok, err := imp.Store.GetExchange(lan.ExchangeID)
	if err != nil || !ok {
		return nil, false, err
	}
	return imp.newRun(ctx, lan, ix, Options{}), true, nil
}

func (r *run) view(p model.Proposal) (ProposalView, error) {
	e, err := r.wrap(p)
	if err != nil {
		return ProposalView{}, err
	}
	return ProposalView{
		Proposal:             p,
		Action:               r.action(e),
		Changes:              r.actionableChanges(e),
		ActionableForNetwork: actionableForNetwork(e),
	}, nil
}

// ProposalsForNetwork lists what a network should review, per exchange,
// ordered by exchange name.
func (imp *Importer) ProposalsForNetwork(ctx context.Context, asn uint32) ([]ExchangeProposals, error) {
	ps, err := imp.Store.ListProposals(store.ProposalFilter{ASN: asn})
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	runs := map[uint]*run{}
	groups := map[uint]*ExchangeProposals{}
	for _, p := range ps {
		if p.Dismissed || p.IsRequirement() {
			continue
		}
		r, ok := runs[p.ExchangeLANID]
		if !ok {
			var found bool
			r, found, err = imp.viewRun(ctx, p.ExchangeLANID)
			if err != nil {
				return nil, err
			}
			if !found || !r.lan.ReadyForImport() {
				r = nil
			}
			runs[p.ExchangeLANID] = r
		}
		if r == nil {
			continue
		}
		v, err := r.view(p)
		if err != nil {
			return nil, err
		}
		if v.Action == "noop" || !v.ActionableForNetwork {
			continue
		}
		g, ok := groups[r.ix.ID]
		if !ok {
			g = &ExchangeProposals{Exchange: r.ix}
			groups[r.ix.ID] = g
		}
		switch v.Action {
		case "add":
			g.Add = append(g.Add, v)
		case "modify":
			g.Modify = append(g.Modify, v)
		case "delete":
			g.Delete = append(g.Delete, v)
		}
	}
	out := make([]ExchangeProposals, 0, len(groups))
	for _, g := range groups {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Exchange.Name) < strings.ToLower(out[j].Exchange.Name)
	})
	return out, nil
}

// ProposalsForExchangeLAN lists every proposal of the LAN with its
// derived state.
func (imp *Importer) ProposalsForExchangeLAN(ctx context.Context, lanID uint) ([]ProposalView, error) {
	r, ok, err := imp.viewRun(ctx, lanID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("exchange lan %d: %w", lanID, store.ErrNotFound)
	}
	ps, err := imp.Store.ListProposals(store.ProposalFilter{ExchangeLANID: lanID})
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	out := make([]ProposalView, 0, len(ps))
	for _, p := range ps {
		v, err := r.view(p)
		if err != nil {
			r.logger.Warn("skip proposal", "proposal", p.ID, "err", err)
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// DismissForNetwork hides proposals of the network from its review list
// until the exchange data changes again.
func (imp *Importer) DismissForNetwork(ctx context.Context, actor string, asn uint32, ids []uint) error {
	return imp.Store.Transaction(func(tx store.Store) error {
		for _, id := range ids {
			p, ok, err := tx.GetProposal(id)
			if err != nil {
				return fmt.Errorf("get proposal %d: %w", id, err)
			}
			if !ok || p.ASN != asn {
				return fmt.Errorf("proposal %d: %w", id, store.ErrNotFound)
			}
			p.Dismissed = true
			if err := tx.SaveProposal(&p); err != nil {
				return fmt.Errorf("save proposal %d: %w", id, err)
			}
		}
		return tx.AppendAudit(model.AuditEntry{
			Actor:     actor,
			Action:    "dismiss",
			Target:    fmt.Sprintf("AS%d", asn),
			Detail:    fmt.Sprint(ids),
			Timestamp: imp.now(),
		})
	})
}
