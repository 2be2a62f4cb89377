package ixf

import (
	"fmt"
	"sort"
	"strings"

	"ixf-sync/pkg/metrics"
	"ixf-sync/pkg/model"
	"ixf-sync/pkg/notify"
)

// notification is a queued message about a proposal. ac asks for a
// helpdesk ticket, ix and net for mail to the exchange and the network.
type notification struct {
	e       *entry
	typ     string
	ac      bool
	ix      bool
	net     bool
	context map[string]string
}

func (r *run) enqueue(e *entry, typ string, ac, ix, net bool, context map[string]string) {
	r.queue = append(r.queue, notification{e: e, typ: typ, ac: ac, ix: ix, net: net, context: context})
}

// peerProposals holds the rendered proposals of one counterpart.
type peerProposals struct {
	Name             string
	Add              []string
	Modify           []string
	Delete           []string
	ProtocolConflict string
}

func (p *peerProposals) push(action, msg string) bool {
	switch action {
	case "add":
		p.Add = append(p.Add, msg)
	case "modify":
		p.Modify = append(p.Modify, msg)
	case "delete":
		p.Delete = append(p.Delete, msg)
	case "protocol_conflict":
		if p.ProtocolConflict != "" {
			return false
		}
		p.ProtocolConflict = msg
	default:
		return false
	}
	return true
}

// digest is the consolidated mail to one network or exchange.
type digest struct {
	Recipient  string // net or ix
	Entity     string
	Count      int
	TicketDays int
	Proposals  []*peerProposals

	net      *model.Network
	contacts []string
	byName   map[string]*peerProposals
}

func (d *digest) peer(name string) *peerProposals {
	if p, ok := d.byName[name]; ok {
		return p
	}
	p := &peerProposals{Name: name}
	d.byName[name] = p
	d.Proposals = append(d.Proposals, p)
	return p
}

// notifyProposals consolidates the queued notifications into one mail per
// network and one for the exchange, then files a ticket for every network
// nobody can be mailed at.
func (r *run) notifyProposals() {
	if !r.opts.Save {
		return
	}
	days := r.settings().Notify.TicketDays
	netDigests := map[uint32]*digest{}
	var netOrder []uint32
	ixDigest := &digest{Recipient: "ix", Entity: r.ix.Name, TicketDays: days, contacts: r.ix.Contacts(), byName: map[string]*peerProposals{}}
	tickets := map[uint32][]notification{}
	var ticketOrder []uint32

	for _, n := range r.queue {
		e := n.e
		if n.typ == "resolved" {
			if e.TicketID != 0 {
				err := r.ticketProposal(n)
				switch {
				case err != nil:
					// kept so the next run retries the ticket update
					r.logger.Warn("resolution not delivered", "proposal", e.ID, "err", err)
				case r.deferred[e.ID]:
					if err := r.st.DeleteProposal(e.ID); err != nil {
						r.logger.Error("delete resolved proposal", "proposal", e.ID, "err", err)
					}
				}
			}
			continue
		}
		action := r.action(e)
		if n.typ == "protocol-conflict" {
			action = "protocol_conflict"
		}
		if action == "noop" {
			continue
		}
		if n.typ == "modify" && len(r.actionableChanges(e)) == 0 {
			continue
		}
		if e.IsRequirement() {
			continue
		}

		if len(r.ix.Contacts()) == 0 && n.typ != "protocol-conflict" {
			if err := r.ticketProposal(n); err != nil {
				r.logger.Error("ticket proposal", "asn", e.ASN, "err", err)
			}
		}
		if len(e.net.NetContacts()) == 0 && n.typ != "protocol-conflict" && n.ac {
			if _, ok := tickets[e.ASN]; !ok {
				ticketOrder = append(ticketOrder, e.ASN)
			}
			tickets[e.ASN] = append(tickets[e.ASN], n)
		}

		tmpl := n.typ + "-inline"
		if n.net && (actionableForNetwork(e) || action == "protocol_conflict") {
			d, ok := netDigests[e.ASN]
			if !ok {
				d = &digest{
					Recipient:  "net",
					Entity:     fmt.Sprintf("AS%d", e.ASN),
					TicketDays: days,
					net:        e.net,
					contacts:   e.net.NetContacts(),
					byName:     map[string]*peerProposals{},
				}
				netDigests[e.ASN] = d
				netOrder = append(netOrder, e.ASN)
			}
			if msg, err := r.renderNotice(tmpl, "net", n); err != nil {
				r.logger.Error("render notification", "template", tmpl, "err", err)
			} else if d.peer(r.ix.Name).push(action, msg) {
				d.Count++
			}
		}
		if n.ix {
			if msg, err := r.renderNotice(tmpl, "ix", n); err != nil {
				r.logger.Error("render notification", "template", tmpl, "err", err)
			} else if ixDigest.peer(fmt.Sprintf("AS%d %s", e.ASN, e.net.Name)).push(action, msg) {
				ixDigest.Count++
			}
		}
	}

	for _, asn := range netOrder {
		d := netDigests[asn]
		r.sendDigest(d, fmt.Sprintf("Action May Be Needed: IX-F Importer data mismatch between AS%d and one or more IXPs", asn))
	}
	r.sendDigest(ixDigest, fmt.Sprintf("Action May Be Needed: IX-F Importer data mismatch between %s and one or more networks", r.ix.Name))

	if r.imp.ticketsEnabled() {
		for _, asn := range ticketOrder {
			r.ticketConsolidated(tickets[asn])
		}
	}
}

func (r *run) sendDigest(d *digest, subject string) {
	if len(d.contacts) == 0 || d.Count == 0 {
		return
	}
	body, err := render("consolidated", d)
	if err != nil {
		r.logger.Error("render digest", "err", err)
		return
	}
	if d.Recipient == "net" {
		r.email(subject, body, d.contacts, d.net, nil)
		return
	}
	r.email(subject, body, d.contacts, nil, &r.ix)
}

// ticketConsolidated files a single ticket for all notifications of a
// network without contacts.
func (r *run) ticketConsolidated(list []notification) {
	if len(list) == 0 {
		return
	}
	net := list[0].e.net
	messages := make([]string, 0, len(list))
	for i, n := range list {
		typ := n.typ
		heading := r.proposalString(n.e)
		if typ == "add" && len(n.e.reqs) > 0 {
			typ = r.action(n.e)
			heading = r.proposalString(n.e.reqs[0])
		}
		msg, err := r.renderNotice(typ, "ac", n)
		if err != nil {
			r.logger.Error("render ticket", "template", typ, "err", err)
			continue
		}
		messages = append(messages, fmt.Sprintf("%s IX-F Conflict Resolution (%d/%d) \n", heading, i+1, len(list))+msg)
	}
	subject := r.subject(fmt.Sprintf("Several Actions May Be Needed for Network %s AS%d", net.Name, net.ASN))
	ticket := model.Ticket{
		Subject: subject,
		Body:    strings.Join(messages, strings.Repeat("-", 80)+"\n"),
	}
	if err := r.publish(&ticket); err != nil {
		r.logger.Error("consolidated ticket", "asn", net.ASN, "err", err)
	}
	for _, n := range list {
		n.e.TicketID = ticket.TicketID
		n.e.TicketRef = ticket.TicketRef
		if n.e.ID != 0 {
			if err := r.st.SaveProposal(&n.e.Proposal); err != nil {
				r.logger.Error("save proposal ticket", "proposal", n.e.ID, "err", err)
			}
		}
	}
}

// ticketProposal files or updates the ticket of a single proposal.
func (r *run) ticketProposal(n notification) error {
	if !n.ac || !r.imp.ticketsEnabled() {
		return nil
	}
	e := n.e
	typ := n.typ
	subject := r.proposalString(e)
	reqs, err := r.requirements(e)
	if err != nil {
		return err
	}
	if typ == "add" && len(reqs) > 0 {
		typ = r.action(e)
		subject = r.proposalString(reqs[0])
	}
	msg, err := r.renderNotice(typ, "ac", n)
	if err != nil {
		return err
	}
	return r.ticket(e, subject+" IX-F Conflict Resolution", msg, n.ix, n.net)
}

func (r *run) subject(s string) string {
	return r.settings().Notify.SubjectPrefix + "[IX-F] " + s
}

func (r *run) ticket(e *entry, subject, body string, ix, net bool) error {
	subject = r.subject(subject)
	if e.TicketID == 0 {
		old, ok, err := r.st.FindTicketBySubject(subject)
		if err != nil {
			return fmt.Errorf("find ticket: %w", err)
		}
		if ok {
			e.TicketID = old.TicketID
			e.TicketRef = old.TicketRef
		}
	}
	var cc []string
	if ix {
		cc = append(cc, r.ix.Contacts()...)
	}
	if net {
		cc = append(cc, e.net.NetContacts()...)
	}
	ticket := model.Ticket{
		Subject:   subject,
		Body:      body,
		CC:        dedupe(cc),
		TicketID:  e.TicketID,
		TicketRef: e.TicketRef,
	}
	perr := r.publish(&ticket)
	e.TicketID = ticket.TicketID
	e.TicketRef = ticket.TicketRef
	if e.ID != 0 {
		if err := r.st.SaveProposal(&e.Proposal); err != nil {
			return fmt.Errorf("save proposal ticket: %w", err)
		}
	}
	return perr
}

// publish sends the ticket to the helpdesk and keeps the local copy. A
// failed ticket is kept with the error appended and the helpdesk error is
// returned.
func (r *run) publish(t *model.Ticket) error {
	var err error
	if t.TicketID != 0 {
		err = r.imp.Ticketer.AppendMessage(r.ctx, t.TicketID, t.Body)
	} else {
		var ref notify.TicketRef
		ref, err = r.imp.Ticketer.CreateTicket(r.ctx, notify.TicketRequest{
			Subject:   t.Subject,
			Body:      t.Body,
			Requester: r.settings().Notify.TicketRequester,
			CC:        t.CC,
		})
		if err == nil {
			t.TicketID = ref.ID
			t.TicketRef = ref.Ref
		}
	}
	if err != nil {
		metrics.Notifications.WithLabelValues("ticket", "failed").Inc()
		r.logger.Warn("ticket failed", "subject", t.Subject, "err", err)
		t.Subject = "[FAILED]" + t.Subject
		t.Body = t.Body + "\n\n" + err.Error()
	} else {
		metrics.Notifications.WithLabelValues("ticket", "sent").Inc()
		now := r.now()
		t.Published = &now
	}
	if serr := r.st.SaveTicket(t); serr != nil {
		r.logger.Error("save ticket", "err", serr)
	}
	return err
}

// email logs the mail and sends it when mail to that kind of recipient is
// enabled.
func (r *run) email(subject, body string, to []string, net *model.Network, ix *model.Exchange) {
	r.imp.email(r.ctx, r.logger, r.subject(subject), body, to, net, ix)
}

func dedupe(in []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, s := range in {
		if _, ok := seen[s]; ok || s == "" {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// notifyError tells the exchange its export could not be processed. It is
// rate limited per LAN.
func (r *run) notifyError(msg string) {
	if !r.opts.Save {
		return
	}
	now := r.now()
	period := r.settings().Notify.ErrorPeriod
	if notified := r.lan.ImportErrorNotified; notified != nil && now.Sub(*notified) < period {
		return
	}
	r.lan.ImportErrorNotified = &now
	r.lan.ImportError = msg
	if err := r.st.SaveExchangeLAN(&r.lan); err != nil {
		r.logger.Error("save import error", "err", err)
	}
	body, err := render("source-error", map[string]any{
		"Error":    msg,
		"Exchange": r.ix,
		"LAN":      r.lan,
		"Time":     now.UTC().Format("2006-01-02 15:04:05 MST"),
	})
	if err != nil {
		r.logger.Error("render source error", "err", err)
		return
	}
	r.email(fmt.Sprintf("Could not process IX-F Data - %s (%d)", r.ix.Name, r.ix.ID), body, r.ix.Contacts(), nil, &r.ix)
}
