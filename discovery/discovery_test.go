package discovery

import (
	"context"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datum-cloud/datum-connect/nodeid"
)

func txtRR(name string, attrs ...string) *dns.TXT {
	return &dns.TXT{
		Hdr: dns.RR_Header{Name: name, Rrtype: dns.TypeTXT, Class: dns.ClassINET},
		Txt: attrs,
	}
}

func TestParseTXTRecordsRelayAndAddrs(t *testing.T) {
	answer := []dns.RR{
		txtRR("node.nodes.example.com.", "relay=relay.example.com:4433"),
		txtRR("node.nodes.example.com.", "addr=10.0.0.1:4433"),
		txtRR("node.nodes.example.com.", "addr=192.168.1.5:4433"),
	}

	details := parseTXTRecords(answer)

	assert.Equal(t, "relay.example.com:4433", details.HomeRelay)
	assert.Equal(t, []string{"10.0.0.1:4433", "192.168.1.5:4433"}, details.DirectAddrs)
}

func TestParseTXTRecordsIgnoresUnknownKeysAndNonTXT(t *testing.T) {
	answer := []dns.RR{
		txtRR("node.nodes.example.com.", "unknown=whatever", "addr=10.0.0.1:4433"),
		&dns.A{Hdr: dns.RR_Header{Name: "node.nodes.example.com.", Rrtype: dns.TypeA}},
	}

	details := parseTXTRecords(answer)

	assert.Equal(t, "", details.HomeRelay)
	assert.Equal(t, []string{"10.0.0.1:4433"}, details.DirectAddrs)
}

func TestParseTXTRecordsEmpty(t *testing.T) {
	details := parseTXTRecords(nil)
	assert.Empty(t, details.HomeRelay)
	assert.Empty(t, details.DirectAddrs)
}

func TestStaticResolveKnownNode(t *testing.T) {
	id, err := nodeid.FromBytes(make([]byte, nodeid.Size))
	require.NoError(t, err)

	want := ConnectionDetails{HomeRelay: "relay.example.com:4433", DirectAddrs: []string{"10.0.0.1:4433"}}
	static := NewStatic(map[nodeid.NodeId]ConnectionDetails{id: want})

	got, err := static.Resolve(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestStaticResolveUnknownNode(t *testing.T) {
	id, err := nodeid.FromBytes(make([]byte, nodeid.Size))
	require.NoError(t, err)

	static := NewStatic(nil)

	_, err = static.Resolve(context.Background(), id)
	assert.Error(t, err)
}
