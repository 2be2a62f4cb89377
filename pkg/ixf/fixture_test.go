package ixf

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ixf-sync/pkg/feed"
	"ixf-sync/pkg/model"
	"ixf-sync/pkg/notify"
	"ixf-sync/pkg/store"
	"ixf-sync/pkg/watch"
)

type eventLog struct {
	mu     sync.Mutex
	events []watch.Event
}

func (l *eventLog) Push(ev watch.Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) all() []watch.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]watch.Event(nil), l.events...)
}

// fakeFetcher serves raw exports by url.
type fakeFetcher struct {
	docs map[string]string
	errs map[string]error
}

func (f *fakeFetcher) Fetch(_ context.Context, url string, _ time.Duration) (*feed.Document, error) {
	if err := f.errs[url]; err != nil {
		return nil, err
	}
	raw, ok := f.docs[url]
	if !ok {
		return nil, &feed.StatusError{Code: 404}
	}
	doc, err := feed.Parse([]byte(raw))
	if err != nil {
		return nil, feed.ErrInvalidJSON
	}
	if err := feed.Sanitize(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (f *fakeFetcher) FetchCached(ctx context.Context, url string) (*feed.Document, error) {
	return f.Fetch(ctx, url, 0)
}

type fixture struct {
	t       *testing.T
	st      store.Store
	imp     *Importer
	mail    *notify.Recorder
	tickets *notify.MockTicketer
	events  *eventLog
	fetcher *fakeFetcher
	now     time.Time
	ix      model.Exchange
	lan     model.ExchangeLAN
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:       t,
		st:      store.NewMemory(),
		mail:    &notify.Recorder{},
		tickets: notify.NewMockTicketer(),
		events:  &eventLog{},
		fetcher: &fakeFetcher{docs: map[string]string{}, errs: map[string]error{}},
		now:     time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.ix = model.Exchange{Name: "Test IX", TechEmail: "ops@ix.example", Status: model.StatusOK}
	require.NoError(t, f.st.SaveExchange(&f.ix))
	f.lan = f.addLAN("https://ix.example/members.json")

	settings := DefaultSettings()
	settings.Notify.MailDebug = false
	settings.Notify.NotifyNetworks = true
	settings.Notify.NotifyExchanges = true
	settings.Notify.SubjectPrefix = "[test] "

	f.imp = New(f.st, f.fetcher, settings)
	f.imp.Mailer = f.mail
	f.imp.Ticketer = f.tickets
	f.imp.Fanout = f.events
	f.imp.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	f.imp.Now = func() time.Time { return f.now }
	return f
}

func (f *fixture) addLAN(url string) model.ExchangeLAN {
	f.t.Helper()
	lan := model.ExchangeLAN{
		ExchangeID:       f.ix.ID,
		Name:             "peering lan",
		Prefixes:         []string{"195.69.144.0/22", "2001:7f8:1::/64"},
		IXFURL:           url,
		IXFImportEnabled: true,
	}
	require.NoError(f.t, f.st.SaveExchangeLAN(&lan))
	return lan
}

type netOpt func(*model.Network)

func authorized(n *model.Network) { n.AllowIXPUpdate = true }

func noContacts(n *model.Network) { n.Contacts = nil }

func ipv4Only(n *model.Network) { n.IPv6Support = false }

func (f *fixture) network(asn uint32, opts ...netOpt) model.Network {
	f.t.Helper()
	n := model.Network{
		ASN:         asn,
		Name:        fmt.Sprintf("Net %d", asn),
		Status:      model.StatusOK,
		IPv4Support: true,
		IPv6Support: true,
		Contacts: []model.Contact{
			{Role: model.RoleTechnical, Email: fmt.Sprintf("noc@as%d.example", asn), Status: model.StatusOK},
		},
	}
	for _, o := range opts {
		o(&n)
	}
	require.NoError(f.t, f.st.SaveNetwork(&n))
	return n
}

func (f *fixture) record(n model.Network, lan model.ExchangeLAN, v4, v6 string, speed int64, rs bool) model.PeeringRecord {
	f.t.Helper()
	rec := model.PeeringRecord{
		NetworkID:     n.ID,
		ExchangeLANID: lan.ID,
		ASN:           n.ASN,
		IPv4:          v4,
		IPv6:          v6,
		Speed:         speed,
		IsRSPeer:      rs,
		Operational:   true,
		Status:        model.StatusOK,
	}
	_, err := f.st.SaveRecord(&rec, "seed")
	require.NoError(f.t, err)
	return rec
}

func (f *fixture) reload(id uint) model.PeeringRecord {
	f.t.Helper()
	rec, ok, err := f.st.GetRecord(id)
	require.NoError(f.t, err)
	require.True(f.t, ok)
	return rec
}

func (f *fixture) proposals(asn uint32) []model.Proposal {
	f.t.Helper()
	ps, err := f.st.ListProposals(store.ProposalFilter{ExchangeLANID: f.lan.ID, ASN: asn})
	require.NoError(f.t, err)
	return ps
}

// publish sets the export of the fixture LAN.
func (f *fixture) publish(members ...string) {
	f.fetcher.docs[f.lan.IXFURL] = exportJSON(members...)
}

func (f *fixture) update(save bool) *Result {
	f.t.Helper()
	res, err := f.imp.Update(context.Background(), f.lan.ID, Options{Save: save})
	require.NoError(f.t, err)
	return res
}

func (f *fixture) mailTo(addr string) []notify.Message {
	var out []notify.Message
	for _, m := range f.mail.Sent() {
		for _, to := range m.To {
			if to == addr {
				out = append(out, m)
			}
		}
	}
	return out
}

func exportJSON(members ...string) string {
	return `{"version":"1.0","member_list":[` + strings.Join(members, ",") + `]}`
}

// member renders a member with one 10G connection per vlan.
func member(asn uint32, vlans ...string) string {
	return memberSpeed(asn, "10000", vlans...)
}

func memberSpeed(asn uint32, speed string, vlans ...string) string {
	conns := make([]string, 0, len(vlans))
	for _, v := range vlans {
		conns = append(conns, connection("active", speed, v))
	}
	return fmt.Sprintf(`{"asnum":%d,"member_type":"peering","connection_list":[%s]}`, asn, strings.Join(conns, ","))
}

func connection(state, speed string, vlans ...string) string {
	return fmt.Sprintf(`{"ixp_id":1,"state":%q,"if_list":[{"if_speed":%s}],"vlan_list":[%s]}`, state, speed, strings.Join(vlans, ","))
}

func vlan(v4, v6 string, rs bool) string {
	var parts []string
	if v4 != "" {
		parts = append(parts, fmt.Sprintf(`"ipv4":{"address":%q,"routeserver":%t}`, v4, rs))
	}
	if v6 != "" {
		parts = append(parts, fmt.Sprintf(`"ipv6":{"address":%q,"routeserver":%t}`, v6, rs))
	}
	return "{" + strings.Join(parts, ",") + "}"
}
