package ixf

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ixf-sync/pkg/model"
)

func TestConsolidatedTicketForNetworkWithoutContacts(t *testing.T) {
	f := newFixture(t)
	f.record(f.network(1008, noContacts), f.lan, "195.69.147.30", "2001:7f8:1::a500:1008:30", 10000, false)
	f.publish(member(1008,
		vlan("195.69.147.30", "2001:7f8:1::a500:1008:30", false),
		vlan("195.69.147.31", "2001:7f8:1::a500:1008:31", false),
		vlan("195.69.147.32", "2001:7f8:1::a500:1008:32", false),
	))

	res := f.update(true)
	assert.Equal(t, []string{"suggest-add", "suggest-add"}, res.Log.Actions())

	tickets := f.tickets.Tickets()
	require.Len(t, tickets, 1)
	req := tickets[0].Request
	assert.Equal(t, "[test] [IX-F] Several Actions May Be Needed for Network Net 1008 AS1008", req.Subject)
	assert.Contains(t, req.Body, "IX-F Conflict Resolution (1/2)")
	assert.Contains(t, req.Body, "IX-F Conflict Resolution (2/2)")
	assert.Contains(t, req.Body, strings.Repeat("-", 80))
	assert.Equal(t, "ixf@localhost", req.Requester)

	ps := f.proposals(1008)
	require.Len(t, ps, 2)
	for _, p := range ps {
		assert.Equal(t, tickets[0].ID, p.TicketID)
		assert.Equal(t, tickets[0].Ref, p.TicketRef)
	}
	// the exchange still gets its digest
	assert.Len(t, f.mailTo("ops@ix.example"), 1)

	f.update(true)
	assert.Len(t, f.tickets.Tickets(), 1)

	// the exchange drops both entries: the ticket hears about it
	f.publish(member(1008, vlan("195.69.147.30", "2001:7f8:1::a500:1008:30", false)))
	f.update(true)
	tickets = f.tickets.Tickets()
	require.Len(t, tickets, 1)
	assert.Len(t, tickets[0].Messages, 2)
	assert.Contains(t, tickets[0].Messages[0], "has been resolved")
	assert.Empty(t, f.proposals(1008))
}

func TestTicketPerProposalWhenExchangeHasNoContacts(t *testing.T) {
	f := newFixture(t)
	f.ix.TechEmail = ""
	require.NoError(t, f.st.SaveExchange(&f.ix))
	f.record(f.network(1002), f.lan, "195.69.146.10", "", 1000, false)
	f.publish(member(1002, vlan("195.69.146.10", "", false)))

	f.update(true)
	tickets := f.tickets.Tickets()
	require.Len(t, tickets, 1)
	assert.Equal(t, "[test] [IX-F] Test IX AS1002 195.69.146.10 No IPv6 IX-F Conflict Resolution", tickets[0].Request.Subject)
	assert.Equal(t, []string{"noc@as1002.example"}, tickets[0].Request.CC)
	assert.Len(t, f.mailTo("noc@as1002.example"), 1)
}

func TestFailedTicketIsKept(t *testing.T) {
	f := newFixture(t)
	f.tickets.Fail = errors.New("helpdesk down")
	f.record(f.network(1008, noContacts), f.lan, "195.69.147.30", "", 10000, false)
	f.publish(member(1008,
		vlan("195.69.147.30", "", false),
		vlan("195.69.147.31", "", false),
	))

	res := f.update(true)
	assert.True(t, res.Success)
	for _, p := range f.proposals(1008) {
		assert.Zero(t, p.TicketID)
	}
	_, ok, err := f.st.FindTicketBySubject("[FAILED][test] [IX-F] Several Actions May Be Needed for Network Net 1008 AS1008")
	require.NoError(t, err)
	// failed tickets carry no helpdesk id and are never reused
	assert.False(t, ok)
}

func TestResolvedProposalWaitsForTicketUpdate(t *testing.T) {
	tests := []struct {
		name         string
		fail         error
		wantLeft     int
		wantMessages int
	}{
		{name: "delivered", wantLeft: 0, wantMessages: 1},
		{name: "helpdesk down", fail: errors.New("helpdesk down"), wantLeft: 1, wantMessages: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.ix.TechEmail = ""
			require.NoError(t, f.st.SaveExchange(&f.ix))
			f.record(f.network(1002), f.lan, "195.69.146.10", "", 1000, false)
			f.publish(member(1002, vlan("195.69.146.10", "", false)))
			f.update(true)
			require.Len(t, f.tickets.Tickets(), 1)
			require.Len(t, f.proposals(1002), 1)

			f.tickets.Fail = tt.fail
			f.publish(memberSpeed(1002, "1000", vlan("195.69.146.10", "", false)))
			f.now = f.now.Add(time.Hour)
			f.update(true)
			assert.Len(t, f.proposals(1002), tt.wantLeft)
			assert.Len(t, f.tickets.Tickets()[0].Messages, tt.wantMessages)

			// the next run delivers what is still pending
			f.tickets.Fail = nil
			f.now = f.now.Add(time.Hour)
			f.update(true)
			assert.Empty(t, f.proposals(1002))
			tickets := f.tickets.Tickets()
			require.Len(t, tickets, 1)
			require.Len(t, tickets[0].Messages, 1)
			assert.Contains(t, tickets[0].Messages[0], "has been resolved")
		})
	}
}

func TestMailDebugOnlyLogsMail(t *testing.T) {
	f := newFixture(t)
	f.imp.Settings.Notify.MailDebug = true
	f.record(f.network(1002), f.lan, "195.69.146.10", "", 1000, false)
	f.publish(member(1002, vlan("195.69.146.10", "", false)))

	f.update(true)
	assert.Empty(t, f.mail.Sent())
	unsent, err := f.st.ListUnsentEmails()
	require.NoError(t, err)
	require.Len(t, unsent, 2)
	assert.NotNil(t, unsent[0].NetworkID)
	assert.NotNil(t, unsent[1].ExchangeID)

	// resending is off while debugging
	f.imp.Settings.Notify.ResendFailedEmails = true
	out, err := f.imp.ResendEmails(context.Background())
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestResendFailedEmails(t *testing.T) {
	f := newFixture(t)
	f.imp.Settings.Notify.ResendFailedEmails = true
	f.mail.Fail = errors.New("relay down")
	f.record(f.network(1002), f.lan, "195.69.146.10", "", 1000, false)
	f.publish(member(1002, vlan("195.69.146.10", "", false)))
	f.update(true)

	unsent, err := f.st.ListUnsentEmails()
	require.NoError(t, err)
	require.Len(t, unsent, 2)
	assert.Equal(t, "relay down", unsent[0].Error)

	f.mail.Fail = nil
	out, err := f.imp.ResendEmails(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 2)
	sent := f.mail.Sent()
	require.Len(t, sent, 2)
	assert.True(t, strings.HasPrefix(sent[0].Body, resendNotice))

	unsent, err = f.st.ListUnsentEmails()
	require.NoError(t, err)
	assert.Empty(t, unsent)
}

func TestResetClearsLANState(t *testing.T) {
	f := newFixture(t)
	f.mail.Fail = errors.New("relay down")
	f.network(1002)
	f.network(1003)
	f.publish(
		member(1002, vlan("195.69.147.2", "", false)),
		member(1003, vlan("195.69.147.3", "", false)),
	)
	f.update(true)
	ps := f.proposals(0)
	require.Len(t, ps, 2)
	require.NoError(t, f.imp.DismissForNetwork(context.Background(), "noc", 1002, []uint{f.proposals(1002)[0].ID}))
	unsent, err := f.st.ListUnsentEmails()
	require.NoError(t, err)
	require.NotEmpty(t, unsent)

	require.NoError(t, f.imp.Reset(context.Background(), "admin", f.lan.ID, ResetOptions{Dismisses: true, Email: true}))
	for _, p := range f.proposals(0) {
		assert.False(t, p.Dismissed)
	}
	unsent, err = f.st.ListUnsentEmails()
	require.NoError(t, err)
	assert.Empty(t, unsent)

	require.NoError(t, f.imp.Reset(context.Background(), "admin", f.lan.ID, ResetOptions{Hints: true, Tickets: true}))
	assert.Empty(t, f.proposals(0))

	audit, err := f.st.ListAudit(0)
	require.NoError(t, err)
	var actions []string
	for _, a := range audit {
		actions = append(actions, a.Action)
	}
	assert.Equal(t, []string{"dismiss", "reset-dismisses", "reset-email", "reset-hints", "reset-tickets"}, actions)
}

func TestExchangeMailDisabled(t *testing.T) {
	f := newFixture(t)
	f.imp.Settings.Notify.NotifyExchanges = false
	f.record(f.network(1002), f.lan, "195.69.146.10", "", 1000, false)
	f.publish(member(1002, vlan("195.69.146.10", "", false)))

	f.update(true)
	assert.Empty(t, f.mailTo("ops@ix.example"))
	assert.Len(t, f.mailTo("noc@as1002.example"), 1)

	var logged []model.EmailLog
	unsent, err := f.st.ListUnsentEmails()
	require.NoError(t, err)
	for _, e := range unsent {
		if e.ExchangeID != nil {
			logged = append(logged, e)
		}
	}
	assert.Len(t, logged, 1)
}
