package router

import (
	"net/http"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datum-cloud/datum-connect/nodeid"
	"github.com/datum-cloud/datum-connect/proxyerr"
)

func testLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func testID() nodeid.NodeId {
	id, _ := nodeid.FromBytes(make([]byte, nodeid.Size))
	return id
}

func TestRouteMetadataHappyPath(t *testing.T) {
	id := testID()
	r := New(ModeMetadata, nil, testLogger())
	req, _ := http.NewRequest(http.MethodGet, "/api/users", nil)
	req.Header.Set(HeaderNodeID, id.String())
	req.Header.Set(HeaderTargetHost, "localhost")
	req.Header.Set(HeaderTargetPort, "5173")
	req.Header.Set(HeaderTargetProto, "tcp")

	key, err := r.Route(req)
	require.NoError(t, err)
	assert.Equal(t, id, key.NodeID)
	assert.Equal(t, "localhost", key.TargetHost)
	assert.EqualValues(t, 5173, key.TargetPort)
}

func TestRouteMetadataMissingNodeID(t *testing.T) {
	r := New(ModeMetadata, nil, testLogger())
	req, _ := http.NewRequest(http.MethodGet, "/api/users", nil)
	req.Header.Set(HeaderTargetHost, "localhost")
	req.Header.Set(HeaderTargetPort, "5173")
	req.Header.Set(HeaderTargetProto, "tcp")

	_, err := r.Route(req)
	require.Error(t, err)
	assert.Equal(t, proxyerr.KindBadRequest, proxyerr.KindOf(err))
}

func TestRouteMetadataInvalidPort(t *testing.T) {
	id := testID()
	r := New(ModeMetadata, nil, testLogger())
	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderNodeID, id.String())
	req.Header.Set(HeaderTargetHost, "localhost")
	req.Header.Set(HeaderTargetPort, "70000")
	req.Header.Set(HeaderTargetProto, "tcp")

	_, err := r.Route(req)
	require.Error(t, err)
	assert.Equal(t, proxyerr.KindBadRequest, proxyerr.KindOf(err))
}

type staticDirectory struct {
	id   nodeid.NodeId
	host string
	port uint16
}

func (d staticDirectory) Resolve(codename string) (nodeid.NodeId, string, uint16, bool) {
	if codename != "myapp" {
		return nodeid.NodeId{}, "", 0, false
	}
	return d.id, d.host, d.port, true
}

func TestRouteCodenameHappyPath(t *testing.T) {
	id := testID()
	dir := staticDirectory{id: id, host: "localhost", port: 8080}
	r := New(ModeCodename, dir, testLogger())
	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	req.Host = "myapp.example.com"

	key, err := r.Route(req)
	require.NoError(t, err)
	assert.Equal(t, id, key.NodeID)
	assert.Equal(t, "localhost", key.TargetHost)
}

func TestRouteCodenameUnknown(t *testing.T) {
	dir := staticDirectory{}
	r := New(ModeCodename, dir, testLogger())
	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	req.Host = "unknown.example.com"

	_, err := r.Route(req)
	require.Error(t, err)
	assert.Equal(t, proxyerr.KindNotFound, proxyerr.KindOf(err))
}

func TestRouteForwardCONNECT(t *testing.T) {
	id := testID()
	r := New(ModeForward, nil, testLogger())
	req, _ := http.NewRequest(http.MethodConnect, "localhost:5173", nil)
	req.Host = "localhost:5173"
	req.Header.Set(ForwardEndpointHeader, id.String())

	key, err := r.Route(req)
	require.NoError(t, err)
	assert.Equal(t, id, key.NodeID)
	assert.Equal(t, "localhost", key.TargetHost)
	assert.EqualValues(t, 5173, key.TargetPort)
}

func TestRouteForwardRejectsNonConnect(t *testing.T) {
	r := New(ModeForward, nil, testLogger())
	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	_, err := r.Route(req)
	require.Error(t, err)
	assert.Equal(t, proxyerr.KindBadRequest, proxyerr.KindOf(err))
}

func TestFirstMatchSelector(t *testing.T) {
	a, b := testID(), testID()
	b[0] = 1
	got, err := FirstMatchSelector{}.Select([]nodeid.NodeId{a, b})
	require.NoError(t, err)
	assert.Equal(t, a, got)
}

func TestRoundRobinSelector(t *testing.T) {
	a, b := testID(), testID()
	b[0] = 1
	sel := &RoundRobinSelector{}
	first, _ := sel.Select([]nodeid.NodeId{a, b})
	second, _ := sel.Select([]nodeid.NodeId{a, b})
	third, _ := sel.Select([]nodeid.NodeId{a, b})
	assert.Equal(t, a, first)
	assert.Equal(t, b, second)
	assert.Equal(t, a, third)
}
