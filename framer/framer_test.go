package framer

import (
	"bufio"
	"bytes"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteParseRequestRoundTripKnownLength(t *testing.T) {
	body := "hello world"
	req, err := http.NewRequest(http.MethodPost, "http://localhost:5173/api/users?x=1", strings.NewReader(body))
	require.NoError(t, err)
	req.ContentLength = int64(len(body))
	req.Header.Set("X-Test", "abc")
	req.Header.Set("Connection", "keep-alive") // hop-by-hop, must be dropped

	var buf bytes.Buffer
	require.NoError(t, WriteRequest(&buf, req))

	parsed, err := ParseRequest(bufio.NewReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, parsed.Method)
	assert.Equal(t, "/api/users", parsed.URL.Path)
	assert.Equal(t, "x=1", parsed.URL.RawQuery)
	assert.Equal(t, "localhost:5173", parsed.Host)
	assert.Equal(t, "abc", parsed.Header.Get("X-Test"))
	assert.Empty(t, parsed.Header.Get("Connection"))

	got, err := io.ReadAll(parsed.Body)
	require.NoError(t, err)
	assert.Equal(t, body, string(got))
}

func TestWriteParseRequestChunked(t *testing.T) {
	chunks := []string{"abcd", "efgh", "ijkl"}
	pr, pw := io.Pipe()
	go func() {
		for _, c := range chunks {
			_, _ = pw.Write([]byte(c))
		}
		pw.Close()
	}()

	req, err := http.NewRequest(http.MethodPut, "http://localhost:9000/upload", pr)
	require.NoError(t, err)
	req.ContentLength = -1 // unknown length -> chunked

	var buf bytes.Buffer
	require.NoError(t, WriteRequest(&buf, req))
	assert.Contains(t, buf.String(), "Transfer-Encoding: chunked")

	parsed, err := ParseRequest(bufio.NewReader(&buf))
	require.NoError(t, err)
	got, err := io.ReadAll(parsed.Body)
	require.NoError(t, err)
	assert.Equal(t, "abcdefghijkl", string(got))
}

func TestZeroLengthBodyEmitsContentLengthZero(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "http://localhost:80/", nil)
	require.NoError(t, err)
	req.ContentLength = 0

	var buf bytes.Buffer
	require.NoError(t, WriteRequest(&buf, req))
	assert.Contains(t, buf.String(), "Content-Length: 0")

	parsed, err := ParseRequest(bufio.NewReader(&buf))
	require.NoError(t, err)
	got, err := io.ReadAll(parsed.Body)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestWriteParseResponseRoundTrip(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "http://localhost/api/users", nil)
	resp := &http.Response{
		StatusCode: 200,
		Status:     "200 OK",
		Header:     http.Header{"Content-Type": {"text/plain"}},
		Body:       io.NopCloser(strings.NewReader("pong")),
	}
	resp.ContentLength = 4

	var buf bytes.Buffer
	require.NoError(t, WriteResponse(&buf, resp))

	parsed, err := ParseResponse(bufio.NewReader(&buf), req)
	require.NoError(t, err)
	assert.Equal(t, 200, parsed.StatusCode)
	assert.Equal(t, "text/plain", parsed.Header.Get("Content-Type"))

	got, err := io.ReadAll(parsed.Body)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(got))
}

func TestResponseNoContentHasNoBody(t *testing.T) {
	req, _ := http.NewRequest(http.MethodPut, "http://localhost/upload", nil)
	resp := &http.Response{StatusCode: http.StatusNoContent, Status: "204 No Content", Header: http.Header{}}

	var buf bytes.Buffer
	require.NoError(t, WriteResponse(&buf, resp))
	assert.NotContains(t, buf.String(), "Content-Length")
	assert.NotContains(t, buf.String(), "Transfer-Encoding")

	parsed, err := ParseResponse(bufio.NewReader(&buf), req)
	require.NoError(t, err)
	assert.Equal(t, 204, parsed.StatusCode)
}

func TestParseRequestRejectsOriginForm(t *testing.T) {
	raw := "GET /path HTTP/1.1\r\nHost: example.com\r\n\r\n"
	_, err := ParseRequest(bufio.NewReader(strings.NewReader(raw)))
	assert.Error(t, err)
	var fe *FramingError
	assert.ErrorAs(t, err, &fe)
}

func TestParseTruncatedResponse(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "http://localhost/", nil)
	raw := "HTTP/1.1 200 OK\r\nContent-Length: 10\r\n\r\nabc"
	resp, err := ParseResponse(bufio.NewReader(strings.NewReader(raw)), req)
	require.NoError(t, err) // headers parsed fine; truncation surfaces when reading the body
	_, err = io.ReadAll(resp.Body)
	assert.Error(t, err)
}

func TestIsHopByHop(t *testing.T) {
	assert.True(t, IsHopByHop("Connection"))
	assert.True(t, IsHopByHop("proxy-authorization"))
	assert.True(t, IsHopByHop("TE"))
	assert.False(t, IsHopByHop("Content-Type"))
}
