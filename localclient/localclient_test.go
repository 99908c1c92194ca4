package localclient

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func TestDoRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "4")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("pong"))
	}))
	defer srv.Close()

	c := New(DefaultConfig(), testLogger())
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/users", nil)
	require.NoError(t, err)

	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDoConnectionRefusedIsUpstreamError(t *testing.T) {
	c := New(Config{ConnectTimeout: 200 * time.Millisecond, RequestTimeout: time.Second}, testLogger())
	req, err := http.NewRequest(http.MethodGet, "http://127.0.0.1:1", nil)
	require.NoError(t, err)

	_, err = c.Do(req)
	assert.Error(t, err)
}

func TestConnectionReuseAcrossRequests(t *testing.T) {
	var remoteAddrs []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		remoteAddrs = append(remoteAddrs, r.RemoteAddr)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(DefaultConfig(), testLogger())
	for i := 0; i < 3; i++ {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+"/", nil)
		resp, err := c.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
	}

	require.Len(t, remoteAddrs, 3)
	assert.Equal(t, remoteAddrs[0], remoteAddrs[1])
	assert.Equal(t, remoteAddrs[1], remoteAddrs[2])
}
