package ixf

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ixf-sync/pkg/feed"
	"ixf-sync/pkg/model"
	"ixf-sync/pkg/store"
)

func TestUpdateAddsAuthorizedConnection(t *testing.T) {
	f := newFixture(t)
	n := f.network(1001, authorized)
	f.publish(member(1001, vlan("195.69.147.250", "2001:7f8:1::a500:1001:1", true)))

	res := f.update(true)
	assert.True(t, res.Success)
	assert.Equal(t, []string{"add"}, res.Log.Actions())

	recs, err := f.st.ListRecords(store.RecordFilter{ExchangeLANID: f.lan.ID, ASN: 1001})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	rec := recs[0]
	assert.Equal(t, "195.69.147.250", rec.IPv4)
	assert.Equal(t, "2001:7f8:1::a500:1001:1", rec.IPv6)
	assert.Equal(t, int64(10000), rec.Speed)
	assert.True(t, rec.IsRSPeer)
	assert.True(t, rec.Operational)
	assert.Equal(t, model.StatusOK, rec.Status)
	assert.Equal(t, n.ID, rec.NetworkID)

	require.NotZero(t, res.ImportLogID)
	log, ok, err := f.st.GetImportLog(res.ImportLogID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, log.Entries, 1)
	assert.Equal(t, "add", log.Entries[0].Action)
	assert.Nil(t, log.Entries[0].VersionBefore)

	events := f.events.all()
	require.Len(t, events, 1)
	assert.Equal(t, "ixf", events[0].Source)
	assert.Equal(t, rec.ID, events[0].RecordID)

	assert.Empty(t, f.proposals(1001))
	assert.Empty(t, f.mail.Sent())

	ix, _, err := f.st.GetExchange(f.ix.ID)
	require.NoError(t, err)
	require.NotNil(t, ix.IXFLastImport)
	assert.Equal(t, 1, ix.IXFNetCount)

	attempt, ok, err := f.st.GetImportAttempt(f.lan.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, attempt.Info, `"action":"add"`)
}

func TestUpdateIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.network(1001, authorized)
	f.network(1002)
	f.record(f.network(1003), f.lan, "195.69.147.3", "", 1000, false)
	f.publish(
		member(1001, vlan("195.69.147.250", "2001:7f8:1::a500:1001:1", true)),
		member(1002, vlan("195.69.147.2", "2001:7f8:1::a500:1002:1", false)),
	)
	f.update(true)
	sent := len(f.mail.Sent())
	props := len(f.proposals(0))
	events := len(f.events.all())

	f.now = f.now.Add(time.Hour)
	res := f.update(true)
	assert.Zero(t, res.ImportLogID)
	assert.NotContains(t, res.Log.Actions(), "add")
	assert.Len(t, f.mail.Sent(), sent)
	assert.Len(t, f.proposals(0), props)
	assert.Len(t, f.events.all(), events)

	recs, err := f.st.ListRecords(store.RecordFilter{ASN: 1001})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	versions, err := f.st.ListVersions(recs[0].ID)
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}

func TestUpdateSuggestsModifyForUnauthorizedNetwork(t *testing.T) {
	f := newFixture(t)
	rec := f.record(f.network(1002), f.lan, "195.69.146.10", "2001:7f8:1::a500:1002:1", 1000, false)
	f.publish(member(1002, vlan("195.69.146.10", "2001:7f8:1::a500:1002:1", false)))

	res := f.update(true)
	assert.Equal(t, []string{"suggest-modify"}, res.Log.Actions())
	assert.Equal(t, int64(1000), f.reload(rec.ID).Speed)

	ps := f.proposals(1002)
	require.Len(t, ps, 1)
	assert.Equal(t, int64(10000), ps[0].Speed)
	assert.Contains(t, ps[0].Reason, "speed")

	net := f.mailTo("noc@as1002.example")
	require.Len(t, net, 1)
	assert.Equal(t, "[test] [IX-F] Action May Be Needed: IX-F Importer data mismatch between AS1002 and one or more IXPs", net[0].Subject)
	assert.Contains(t, net[0].Body, "speed: 1000 -> 10000")
	require.Len(t, f.mailTo("ops@ix.example"), 1)

	// unchanged data does not notify twice
	f.now = f.now.Add(time.Hour)
	res = f.update(true)
	assert.Equal(t, []string{"suggest-modify"}, res.Log.Actions())
	assert.Len(t, f.mailTo("noc@as1002.example"), 1)
	assert.Len(t, f.proposals(1002), 1)

	// the exchange now agrees with the record
	f.publish(memberSpeed(1002, "1000", vlan("195.69.146.10", "2001:7f8:1::a500:1002:1", false)))
	f.now = f.now.Add(time.Hour)
	f.update(true)
	assert.Empty(t, f.proposals(1002))
}

func TestUpdateAbortsOnDuplicateAddress(t *testing.T) {
	f := newFixture(t)
	rec := f.record(f.network(1003), f.lan, "195.69.147.1", "", 1000, false)
	f.network(1004)
	f.publish(
		member(1003, vlan("195.69.147.1", "", false)),
		member(1004, vlan("195.69.147.1", "", false)),
	)

	res, err := f.imp.Update(context.Background(), f.lan.ID, Options{Save: true})
	require.Error(t, err)
	var dup *feed.DuplicateAddressError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, "195.69.147.1", dup.Address)
	assert.False(t, res.Success)
	require.Len(t, res.Log.Errors, 1)

	mails := f.mailTo("ops@ix.example")
	require.Len(t, mails, 1)
	assert.Contains(t, mails[0].Subject, "Could not process IX-F Data - Test IX")
	lan, _, err := f.st.GetExchangeLAN(f.lan.ID)
	require.NoError(t, err)
	assert.Contains(t, lan.ImportError, "more than one distinct connection")
	require.NotNil(t, lan.ImportErrorNotified)

	f.now = f.now.Add(time.Hour)
	_, err = f.imp.Update(context.Background(), f.lan.ID, Options{Save: true})
	require.Error(t, err)
	assert.Len(t, f.mailTo("ops@ix.example"), 1)

	f.now = f.now.Add(16 * 24 * time.Hour)
	_, err = f.imp.Update(context.Background(), f.lan.ID, Options{Save: true})
	require.Error(t, err)
	assert.Len(t, f.mailTo("ops@ix.example"), 2)

	assert.Equal(t, model.StatusOK, f.reload(rec.ID).Status)
	assert.Empty(t, f.proposals(0))
}

func TestUpdateClearsImportErrorAfterGoodRun(t *testing.T) {
	f := newFixture(t)
	f.network(1001, authorized)
	f.fetcher.errs[f.lan.IXFURL] = &feed.StatusError{Code: 500}
	_, err := f.imp.Update(context.Background(), f.lan.ID, Options{Save: true})
	var status *feed.StatusError
	require.True(t, errors.As(err, &status))

	delete(f.fetcher.errs, f.lan.IXFURL)
	f.publish(member(1001, vlan("195.69.147.250", "", false)))
	f.update(true)
	lan, _, err := f.st.GetExchangeLAN(f.lan.ID)
	require.NoError(t, err)
	assert.Empty(t, lan.ImportError)
	assert.Nil(t, lan.ImportErrorNotified)
}

func TestUpdateNoPrefixes(t *testing.T) {
	f := newFixture(t)
	f.lan.Prefixes = nil
	require.NoError(t, f.st.SaveExchangeLAN(&f.lan))
	f.publish(member(1001, vlan("195.69.147.250", "", false)))

	_, err := f.imp.Update(context.Background(), f.lan.ID, Options{Save: true})
	assert.ErrorIs(t, err, ErrNoPrefixes)
}

func TestUpdateRejectsMultipleVlans(t *testing.T) {
	f := newFixture(t)
	f.network(1001)
	f.network(1002)
	f.publish(
		member(1001, `{"vlan_id":10,"ipv4":{"address":"195.69.147.1"}}`),
		member(1002, `{"vlan_id":20,"ipv4":{"address":"195.69.147.2"}}`),
	)
	_, err := f.imp.Update(context.Background(), f.lan.ID, Options{Save: true})
	assert.ErrorIs(t, err, ErrMultipleVlansInPrefix)
	assert.Len(t, f.mailTo("ops@ix.example"), 1)
	assert.Empty(t, f.proposals(0))
}

func TestUpdateProtocolConflict(t *testing.T) {
	f := newFixture(t)
	f.network(1005, ipv4Only)
	f.publish(member(1005, vlan("195.69.147.5", "2001:7f8:1::a500:1005:1", false)))

	res := f.update(true)
	assert.Equal(t, []string{"suggest-add"}, res.Log.Actions())
	lan, _, err := f.st.GetExchangeLAN(f.lan.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, lan.ProtocolConflict)

	ps := f.proposals(1005)
	require.Len(t, ps, 1)
	assert.Equal(t, "195.69.147.5", ps[0].IPv4)
	assert.Empty(t, ps[0].IPv6)

	net := f.mailTo("noc@as1005.example")
	require.Len(t, net, 1)
	assert.Contains(t, net[0].Body, "does not declare support for IPv6")
	assert.Len(t, f.mailTo("ops@ix.example"), 1)

	// the conflict is reported once
	f.now = f.now.Add(time.Hour)
	f.update(true)
	assert.Len(t, f.mailTo("noc@as1005.example"), 1)
	assert.Len(t, f.mailTo("ops@ix.example"), 1)

	f.publish(member(1005, vlan("195.69.147.5", "", false)))
	f.now = f.now.Add(time.Hour)
	f.update(true)
	lan, _, err = f.st.GetExchangeLAN(f.lan.ID)
	require.NoError(t, err)
	assert.Zero(t, lan.ProtocolConflict)
}

func TestProtocolConflictReportedOncePerRun(t *testing.T) {
	ipv6Only := func(n *model.Network) { n.IPv4Support = false }
	tests := []struct {
		name   string
		opt    netOpt
		family string
		want   int
	}{
		{name: "ipv6 on ipv4-only networks", opt: ipv4Only, family: "IPv6", want: 6},
		{name: "ipv4 on ipv6-only networks", opt: ipv6Only, family: "IPv4", want: 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.network(1005, tt.opt)
			f.network(1006, tt.opt)
			f.publish(
				member(1005, vlan("195.69.147.5", "2001:7f8:1::a500:1005:1", false)),
				member(1006, vlan("195.69.147.6", "2001:7f8:1::a500:1006:1", false)),
			)
			f.update(true)

			lan, _, err := f.st.GetExchangeLAN(f.lan.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, lan.ProtocolConflict)

			ix := f.mailTo("ops@ix.example")
			require.Len(t, ix, 1)
			assert.Equal(t, 1, strings.Count(ix[0].Body, "which does not declare support for "+tt.family))

			first := f.mailTo("noc@as1005.example")
			require.Len(t, first, 1)
			assert.Contains(t, first[0].Body, "does not declare support for "+tt.family)
			for _, m := range f.mailTo("noc@as1006.example") {
				assert.NotContains(t, m.Body, "does not declare support")
			}
		})
	}
}

func TestUpdateDeletesGoneRecords(t *testing.T) {
	f := newFixture(t)
	gone := f.record(f.network(1006, authorized), f.lan, "195.69.147.6", "2001:7f8:1::a500:1006:1", 10000, false)
	kept := f.record(f.network(1007, authorized), f.lan, "195.69.147.7", "2001:7f8:1::a500:1007:1", 10000, false)
	other := f.addLAN("https://ix.example/other.json")
	elsewhere := f.record(f.network(1008, authorized), other, "195.69.145.8", "", 1000, false)
	f.publish(member(1007, vlan("195.69.147.7", "2001:7f8:1::a500:1007:1", false)))

	res := f.update(true)
	assert.Equal(t, []string{"delete"}, res.Log.Actions())
	assert.Equal(t, uint32(1006), res.Log.Data[0].Peer.ASN)
	assert.Equal(t, model.StatusDeleted, f.reload(gone.ID).Status)
	assert.Equal(t, model.StatusOK, f.reload(kept.ID).Status)
	assert.Equal(t, model.StatusOK, f.reload(elsewhere.ID).Status)
	assert.Empty(t, f.proposals(1006))

	log, _, err := f.st.GetImportLog(res.ImportLogID)
	require.NoError(t, err)
	require.Len(t, log.Entries, 1)
	assert.NotNil(t, log.Entries[0].VersionBefore)
}

func TestUpdateSuggestsDeleteWithASNFilter(t *testing.T) {
	f := newFixture(t)
	rec := f.record(f.network(1008), f.lan, "195.69.147.8", "", 1000, false)
	f.network(1009)
	f.publish(member(1009, vlan("195.69.147.9", "", false)))

	_, err := f.imp.Update(context.Background(), f.lan.ID, Options{Save: true, ASN: 1009})
	require.NoError(t, err)
	assert.Empty(t, f.proposals(1008))

	res := f.update(true)
	assert.Contains(t, res.Log.Actions(), "suggest-delete")
	assert.Equal(t, model.StatusOK, f.reload(rec.ID).Status)
	ps := f.proposals(1008)
	require.Len(t, ps, 1)
	assert.True(t, ps[0].RemoteDataMissing())
	assert.Equal(t, reasonGone, ps[0].Reason)

	net := f.mailTo("noc@as1008.example")
	require.Len(t, net, 1)
	assert.Contains(t, net[0].Body, "no longer lists")
}

func TestUpdateConsolidatesDeleteAndAdd(t *testing.T) {
	f := newFixture(t)
	rec := f.record(f.network(1010), f.lan, "195.69.147.10", "2001:7f8:1::a500:1010:1", 10000, false)
	f.publish(member(1010, vlan("195.69.147.10", "2001:7f8:1::a500:1010:2", false)))

	res := f.update(true)
	assert.Equal(t, []string{"suggest-modify"}, res.Log.Actions())
	assert.Contains(t, res.Log.Data[0].Reason, "IPv6 not set")

	ps := f.proposals(1010)
	require.Len(t, ps, 2)
	var parent, req model.Proposal
	for _, p := range ps {
		if p.IsRequirement() {
			req = p
		} else {
			parent = p
		}
	}
	require.NotNil(t, req.RequirementOfID)
	assert.Equal(t, parent.ID, *req.RequirementOfID)
	assert.Equal(t, "2001:7f8:1::a500:1010:2", parent.IPv6)
	assert.Empty(t, parent.Error)
	assert.True(t, req.RemoteDataMissing())
	assert.Equal(t, model.StatusOK, f.reload(rec.ID).Status)

	// the network hears about one modify, not a delete and an add
	net := f.mailTo("noc@as1010.example")
	require.Len(t, net, 1)
	assert.Contains(t, net[0].Body, "Modify:")
	assert.NotContains(t, net[0].Body, "Remove:")

	views, err := f.imp.ProposalsForExchangeLAN(context.Background(), f.lan.ID)
	require.NoError(t, err)
	for _, v := range views {
		if v.ID == parent.ID {
			assert.Equal(t, "modify", v.Action)
		}
	}
}

func TestUpdateMovesAddressForAuthorizedNetwork(t *testing.T) {
	f := newFixture(t)
	rec := f.record(f.network(1011, authorized), f.lan, "195.69.147.11", "2001:7f8:1::a500:1011:1", 10000, false)
	f.publish(member(1011, vlan("195.69.147.11", "2001:7f8:1::a500:1011:2", false)))

	res := f.update(true)
	assert.Equal(t, []string{"delete", "add"}, res.Log.Actions())
	got := f.reload(rec.ID)
	assert.Equal(t, model.StatusOK, got.Status)
	assert.Equal(t, "2001:7f8:1::a500:1011:2", got.IPv6)

	recs, err := f.st.ListRecords(store.RecordFilter{ASN: 1011})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestPreviewConsolidatesAndRollsBack(t *testing.T) {
	f := newFixture(t)
	rec := f.record(f.network(1011, authorized), f.lan, "195.69.147.11", "2001:7f8:1::a500:1011:1", 10000, false)
	f.network(1001, authorized)
	f.publish(
		member(1011, vlan("195.69.147.11", "2001:7f8:1::a500:1011:2", false)),
		member(1001, vlan("195.69.147.250", "", false)),
	)

	res := f.update(false)
	assert.True(t, res.Success)
	assert.False(t, res.Saved)
	assert.ElementsMatch(t, []string{"modify", "add"}, res.Log.Actions())

	got := f.reload(rec.ID)
	assert.Equal(t, "2001:7f8:1::a500:1011:1", got.IPv6)
	recs, err := f.st.ListRecords(store.RecordFilter{ASN: 1001})
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Empty(t, f.proposals(0))
	assert.Empty(t, f.mail.Sent())
	assert.Empty(t, f.events.all())
	_, ok, err := f.st.GetImportAttempt(f.lan.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

// txWatch reports whether a store transaction is open.
type txWatch struct {
	store.Store
	open bool
}

func (s *txWatch) Transaction(fn func(store.Store) error) error {
	s.open = true
	defer func() { s.open = false }()
	return s.Store.Transaction(fn)
}

type txCheckingFetcher struct {
	Fetcher
	st       *txWatch
	inTxSeen []bool
}

func (f *txCheckingFetcher) Fetch(ctx context.Context, url string, timeout time.Duration) (*feed.Document, error) {
	f.inTxSeen = append(f.inTxSeen, f.st.open)
	return f.Fetcher.Fetch(ctx, url, timeout)
}

func TestUpdateFetchesOutsideTransactions(t *testing.T) {
	for _, save := range []bool{false, true} {
		t.Run(fmt.Sprintf("save=%t", save), func(t *testing.T) {
			f := newFixture(t)
			st := &txWatch{Store: f.st}
			fetcher := &txCheckingFetcher{Fetcher: f.fetcher, st: st}
			f.imp.Store = st
			f.imp.Fetcher = fetcher
			f.network(1001, authorized)
			f.publish(member(1001, vlan("195.69.147.250", "2001:7f8:1::a500:1001:1", true)))

			res := f.update(save)
			assert.True(t, res.Success)
			assert.Equal(t, []string{"add"}, res.Log.Actions())
			assert.Equal(t, []bool{false}, fetcher.inTxSeen)
		})
	}
}

func TestUpdateConflictWhenAddressUsedInAnotherLAN(t *testing.T) {
	for _, status := range model.ActiveStatuses {
		t.Run(status, func(t *testing.T) {
			f := newFixture(t)
			other := f.addLAN("https://ix.example/other.json")
			holder := f.record(f.network(1012), other, "195.69.147.12", "", 1000, false)
			holder.Status = status
			_, err := f.st.SaveRecord(&holder, "status")
			require.NoError(t, err)
			f.network(1013, authorized)
			f.publish(member(1013, vlan("195.69.147.12", "", false)))

			res := f.update(true)
			assert.True(t, res.Success)
			assert.Empty(t, res.Log.Actions())
			recs, err := f.st.ListRecords(store.RecordFilter{IPv4: "195.69.147.12"})
			require.NoError(t, err)
			assert.Len(t, recs, 1)

			ps := f.proposals(1013)
			require.Len(t, ps, 1)
			assert.Contains(t, ps[0].Error, "already exists in another lan")
			assert.Len(t, f.mailTo("noc@as1013.example"), 1)
		})
	}
}

func TestValidateRecordCountsActiveHolders(t *testing.T) {
	tests := []struct {
		status  string
		wantErr bool
	}{
		{status: model.StatusOK, wantErr: true},
		{status: model.StatusPending, wantErr: true},
		{status: model.StatusDeleted, wantErr: false},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			f := newFixture(t)
			holder := f.record(f.network(1012), f.lan, "195.69.147.12", "", 1000, false)
			holder.Status = tt.status
			_, err := f.st.SaveRecord(&holder, "status")
			require.NoError(t, err)

			r := f.imp.newRun(context.Background(), f.lan, f.ix, Options{Save: true})
			verr := r.validateRecord(&model.PeeringRecord{
				ExchangeLANID: f.lan.ID,
				ASN:           1013,
				IPv4:          "195.69.147.12",
				Speed:         1000,
				Status:        model.StatusOK,
			})
			if !tt.wantErr {
				assert.Nil(t, verr)
				return
			}
			require.NotNil(t, verr)
			assert.Equal(t, []string{"IP already exists"}, verr.Fields["ipv4"])
		})
	}
}

func TestUpdateReclaimsAddressOfDeletedRecordInAnotherLAN(t *testing.T) {
	const v4, v6 = "195.69.147.12", "2001:7f8:1::a500:1013:1"
	tests := []struct {
		name   string
		v4, v6 string
		want   string
	}{
		{name: "ipv4", v4: v4, want: v4},
		{name: "ipv6", v6: v6, want: v6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			other := f.addLAN("https://ix.example/other.json")
			old := f.record(f.network(1012), other, tt.v4, tt.v6, 1000, false)
			old.Status = model.StatusDeleted
			_, err := f.st.SaveRecord(&old, "gone")
			require.NoError(t, err)
			f.network(1013, authorized)
			f.publish(member(1013, vlan(v4, v6, false)))

			res := f.update(true)
			assert.Equal(t, []string{"add"}, res.Log.Actions())
			got := f.reload(old.ID)
			assert.Empty(t, got.IPv4)
			assert.Empty(t, got.IPv6)
			assert.Equal(t, "Ip address "+tt.want+" was claimed by other record", got.Notes)

			recs, err := f.st.ListRecords(store.RecordFilter{ExchangeLANID: f.lan.ID, ASN: 1013})
			require.NoError(t, err)
			require.Len(t, recs, 1)
			assert.Equal(t, v4, recs[0].IPv4)
			assert.Equal(t, v6, recs[0].IPv6)
		})
	}
}

func TestUpdateSpeedErrorsBlockApply(t *testing.T) {
	f := newFixture(t)
	f.network(1014, authorized)
	f.publish(memberSpeed(1014, `"fast"`, vlan("195.69.147.14", "", false)))

	res := f.update(true)
	assert.Contains(t, res.Log.Errors, "Invalid speed value: fast")
	recs, err := f.st.ListRecords(store.RecordFilter{ASN: 1014})
	require.NoError(t, err)
	assert.Empty(t, recs)
	ps := f.proposals(1014)
	require.Len(t, ps, 1)
	assert.Contains(t, ps[0].Error, "Invalid speed value")
	// not something the network can fix
	assert.Empty(t, f.mailTo("noc@as1014.example"))
	assert.Len(t, f.mailTo("ops@ix.example"), 1)
}

func TestUpdateReportsInvalidAddresses(t *testing.T) {
	f := newFixture(t)
	f.network(1015, authorized)
	f.publish(member(1015, `{"ipv4":{"address":"195.69.147.300"}}`, vlan("195.69.147.15", "", false)))

	res := f.update(true)
	assert.True(t, res.Success)
	assert.Equal(t, []string{"add"}, res.Log.Actions())
	mails := f.mailTo("ops@ix.example")
	require.Len(t, mails, 1)
	assert.Contains(t, mails[0].Body, "195.69.147.300")
}

func TestUpdateIgnoresUnknownNetworksAndStates(t *testing.T) {
	f := newFixture(t)
	f.network(1016, authorized)
	f.publish(
		member(64500, vlan("195.69.147.20", "", false)),
		`{"asnum":1016,"connection_list":[`+connection("decommissioned", "10000", vlan("195.69.147.16", "", false))+`]}`,
	)

	res := f.update(true)
	require.Len(t, res.Log.Data, 2)
	assert.Equal(t, "ignore", res.Log.Data[0].Action)
	assert.Equal(t, "Network does not exist in registry", res.Log.Data[0].Reason)
	assert.Equal(t, "Invalid connection state: decommissioned", res.Log.Data[1].Reason)
}

func TestUpdateInactiveConnectionIsNotOperational(t *testing.T) {
	f := newFixture(t)
	f.network(1017, authorized)
	f.publish(`{"asnum":1017,"connection_list":[` + connection("inactive", "1000", vlan("195.69.147.17", "", false)) + `]}`)

	f.update(true)
	recs, err := f.st.ListRecords(store.RecordFilter{ASN: 1017})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.False(t, recs[0].Operational)
}

func TestUpdateAllContinuesPastFailures(t *testing.T) {
	f := newFixture(t)
	f.network(1001, authorized)
	broken := f.addLAN("https://ix.example/broken.json")
	f.fetcher.errs[broken.IXFURL] = &feed.StatusError{Code: 503}
	disabled := f.addLAN("")
	f.publish(member(1001, vlan("195.69.147.250", "", false)))

	results, err := f.imp.UpdateAll(context.Background(), Options{Save: true})
	require.NoError(t, err)
	require.Len(t, results, 2)
	byLAN := map[uint]*Result{}
	for _, r := range results {
		byLAN[r.ExchangeLANID] = r
	}
	assert.True(t, byLAN[f.lan.ID].Success)
	assert.False(t, byLAN[broken.ID].Success)
	assert.Contains(t, byLAN[broken.ID].Error, "503")
	assert.NotContains(t, byLAN, disabled.ID)
}
