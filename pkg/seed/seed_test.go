package seed

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ixf-sync/pkg/model"
	"ixf-sync/pkg/store"
)

const fixture = `
networks:
  - asn: 1001
    name: Net 1001
    allow_ixp_update: true
    ipv4_support: true
    ipv6_support: true
    contacts:
      - role: Technical
        email: noc@as1001.example
  - asn: 1002
    name: Net 1002
    ipv4_support: true
exchanges:
  - name: Test IX
    tech_email: ops@ix.example
    lans:
      - name: peering lan
        prefixes: ["195.69.144.0/22", "2001:7f8:1::/64"]
        ixf_url: https://ix.example/members.json
        ixf_import_enabled: true
        records:
          - asn: 1001
            ipv4: 195.69.147.250
            ipv6: 2001:7f8:1::a500:1001:1
            speed: 10000
            operational: true
`

func TestLoadAndApply(t *testing.T) {
	f, err := Load(strings.NewReader(fixture))
	require.NoError(t, err)
	require.Len(t, f.Networks, 2)
	require.Len(t, f.Exchanges, 1)
	require.Len(t, f.Exchanges[0].LANs, 1)

	st := store.NewMemory()
	sum, err := Apply(st, f)
	require.NoError(t, err)
	assert.Equal(t, Summary{Networks: 2, Exchanges: 1, LANs: 1, Records: 1}, sum)

	n, ok, err := st.GetNetworkByASN(1001)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, n.AllowIXPUpdate)
	assert.Equal(t, model.StatusOK, n.Status)
	assert.Equal(t, []string{"noc@as1001.example"}, n.NetContacts())

	lans, err := st.ListExchangeLANs()
	require.NoError(t, err)
	require.Len(t, lans, 1)
	assert.True(t, lans[0].ReadyForImport())

	recs, err := st.ListRecords(store.RecordFilter{ExchangeLANID: lans[0].ID})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, n.ID, recs[0].NetworkID)
	assert.Equal(t, model.StatusOK, recs[0].Status)

	// applying again updates in place
	sum, err = Apply(st, f)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Records)
	lans, err = st.ListExchangeLANs()
	require.NoError(t, err)
	assert.Len(t, lans, 1)
	recs, err = st.ListRecords(store.RecordFilter{ExchangeLANID: lans[0].ID})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(strings.NewReader("networks:\n  - asn: 1\n    colour: red\n"))
	assert.Error(t, err)

	f, err := Load(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, f.Networks)
}

func TestApplyUnknownNetwork(t *testing.T) {
	f, err := Load(strings.NewReader(`
exchanges:
  - name: Test IX
    lans:
      - name: lan
        ixf_url: https://ix.example/x.json
        records:
          - asn: 64500
            ipv4: 195.69.147.1
`))
	require.NoError(t, err)
	st := store.NewMemory()
	_, err = Apply(st, f)
	assert.ErrorIs(t, err, store.ErrNotFound)

	lans, err := st.ListExchangeLANs()
	require.NoError(t, err)
	assert.Empty(t, lans)
}
