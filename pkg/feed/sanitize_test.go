package feed

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, raw string) *Document {
	t.Helper()
	doc, err := Parse([]byte(raw))
	require.NoError(t, err)
	return doc
}

func TestSanitizeDropsDuplicateMembers(t *testing.T) {
	doc := mustParse(t, `{"member_list":[
		{"asnum":100,"connection_list":[{"state":"active","vlan_list":[{"ipv4":{"address":"192.0.2.1"}}]}]},
		{"asnum":100,"connection_list":[{"state":"active","vlan_list":[{"ipv4":{"address":"192.0.2.1"}}]}]},
		{"asnum":200,"connection_list":[{"state":"active","vlan_list":[{"ipv4":{"address":"192.0.2.2"}}]}]}
	]}`)

	require.NoError(t, Sanitize(doc))
	require.Len(t, doc.MemberList, 2)
	assert.Equal(t, uint32(100), doc.MemberList[0].ASNum)
	assert.Equal(t, uint32(200), doc.MemberList[1].ASNum)
}

func TestSanitizeNullLists(t *testing.T) {
	doc := mustParse(t, `{"member_list":[
		{"asnum":100,"connection_list":[{"state":"active","if_list":null,"vlan_list":null}]},
		{"asnum":200,"connection_list":[{"state":"active","vlan_list":[{"vlan_id":1,"ipv4":null,"ipv6":{"address":"2001:db8::2"}}]}]}
	]}`)

	require.NoError(t, Sanitize(doc))
	assert.Empty(t, doc.MemberList[0].ConnectionList)
	vlans := doc.MemberList[1].ConnectionList[0].VlanList
	require.Len(t, vlans, 1)
	assert.Nil(t, vlans[0].IPv4)
	assert.Equal(t, "2001:db8::2", vlans[0].IPv6.Address)
}

func TestSanitizeMergesVlansWithinConnection(t *testing.T) {
	doc := mustParse(t, `{"member_list":[{"asnum":100,"connection_list":[{"state":"active","vlan_list":[
		{"vlan_id":10,"ipv4":{"address":"192.0.2.1","routeserver":true}},
		{"vlan_id":10,"ipv6":{"address":"2001:db8::1"}},
		{"vlan_id":20,"ipv4":{"address":"192.0.2.99"}},
		{"vlan_id":10}
	]}]}]}`)

	require.NoError(t, Sanitize(doc))
	vlans := doc.MemberList[0].ConnectionList[0].VlanList
	require.Len(t, vlans, 2)
	assert.Equal(t, 10, vlans[0].ID())
	assert.Equal(t, "192.0.2.1", vlans[0].IPv4.Address)
	assert.Equal(t, "2001:db8::1", vlans[0].IPv6.Address)
	assert.Equal(t, 20, vlans[1].ID())
}

func TestSanitizeKeepsSameFamilyEntriesSeparate(t *testing.T) {
	doc := mustParse(t, `{"member_list":[{"asnum":100,"connection_list":[{"state":"active","vlan_list":[
		{"ipv4":{"address":"192.0.2.1"}},
		{"ipv4":{"address":"192.0.2.2"}}
	]}]}]}`)

	require.NoError(t, Sanitize(doc))
	assert.Len(t, doc.MemberList[0].ConnectionList[0].VlanList, 2)
}

func TestSanitizePairsAcrossConnections(t *testing.T) {
	doc := mustParse(t, `{"member_list":[{"asnum":100,"connection_list":[
		{"state":"active","if_list":[{"if_speed":10000}],"vlan_list":[{"vlan_id":5,"ipv4":{"address":"192.0.2.1"}}]},
		{"state":"active","if_list":[{"if_speed":10000}],"vlan_list":[{"vlan_id":5,"ipv6":{"address":"2001:db8::1"}}]}
	]}]}`)

	require.NoError(t, Sanitize(doc))
	conns := doc.MemberList[0].ConnectionList
	require.Len(t, conns, 1)
	require.Len(t, conns[0].VlanList, 1)
	assert.Equal(t, "192.0.2.1", conns[0].VlanList[0].IPv4.Address)
	assert.Equal(t, "2001:db8::1", conns[0].VlanList[0].IPv6.Address)
}

func TestSanitizeDoesNotPairMismatchedConnections(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{
			name: "different state",
			raw: `{"member_list":[{"asnum":100,"connection_list":[
				{"state":"active","vlan_list":[{"ipv4":{"address":"192.0.2.1"}}]},
				{"state":"inactive","vlan_list":[{"ipv6":{"address":"2001:db8::1"}}]}]}]}`,
		},
		{
			name: "different speeds",
			raw: `{"member_list":[{"asnum":100,"connection_list":[
				{"state":"active","if_list":[{"if_speed":1000}],"vlan_list":[{"ipv4":{"address":"192.0.2.1"}}]},
				{"state":"active","if_list":[{"if_speed":10000}],"vlan_list":[{"ipv6":{"address":"2001:db8::1"}}]}]}]}`,
		},
		{
			name: "different vlan id",
			raw: `{"member_list":[{"asnum":100,"connection_list":[
				{"state":"active","vlan_list":[{"vlan_id":1,"ipv4":{"address":"192.0.2.1"}}]},
				{"state":"active","vlan_list":[{"vlan_id":2,"ipv6":{"address":"2001:db8::1"}}]}]}]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := mustParse(t, tt.raw)
			require.NoError(t, Sanitize(doc))
			assert.Len(t, doc.MemberList[0].ConnectionList, 2)
		})
	}
}

func TestSanitizeDuplicateAddress(t *testing.T) {
	doc := mustParse(t, `{"member_list":[
		{"asnum":100,"connection_list":[{"state":"active","vlan_list":[{"ipv4":{"address":"203.0.113.5"}}]}]},
		{"asnum":200,"connection_list":[{"state":"active","vlan_list":[{"ipv4":{"address":"203.0.113.5"}}]}]}
	]}`)

	err := Sanitize(doc)
	var dup *DuplicateAddressError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, "203.0.113.5", dup.Address)
	assert.Equal(t, "Address 203.0.113.5 assigned to more than one distinct connection", err.Error())
}

func TestParseSpeed(t *testing.T) {
	tests := []struct {
		name   string
		ifs    []Interface
		want   int64
		errors int
	}{
		{name: "numbers", ifs: []Interface{{IfSpeed: float64(10000)}, {IfSpeed: float64(10000)}}, want: 20000},
		{name: "string", ifs: []Interface{{IfSpeed: " 1000 "}}, want: 1000},
		{name: "missing", ifs: []Interface{{}}, want: 0},
		{name: "garbage", ifs: []Interface{{IfSpeed: "fast"}, {IfSpeed: float64(100)}}, want: 100, errors: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, errs := ParseSpeed(tt.ifs)
			assert.Equal(t, tt.want, got)
			assert.Len(t, errs, tt.errors)
		})
	}

	_, errs := ParseSpeed([]Interface{{IfSpeed: "fast"}})
	assert.Equal(t, []string{"Invalid speed value: fast"}, errs)
}
