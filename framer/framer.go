// Package framer implements the HTTP/1.1 absolute-form wire protocol spoken on overlay streams
// (spec.md §4.1): serializing a forwarded request, and parsing a proxied response, with mandatory
// chunked-transfer support in both directions.
//
// Request/response line and header parsing is built on net/http's own RFC 7230 implementation
// (http.ReadRequest, http.ReadResponse, net/http/httputil's chunked writer) rather than a
// hand-rolled parser: no third-party HTTP/1.1 framing library appears anywhere in the retrieval
// pack (cloudflared's own wire formats are h2mux and HTTP/2, never literal HTTP/1.1 bytes), and
// net/http already implements exactly the chunked/content-length/read-to-EOF precedence this
// package needs to get right.
package framer

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/textproto"
	"strings"
)

// MaxLineSize bounds the per-line buffer used while reading a status line or header line,
// matching the 8 KiB bound spec.md §5 calls for.
const MaxLineSize = 8 * 1024

// FramingError indicates the peer sent bytes that do not parse as valid HTTP/1.1 framing.
type FramingError struct {
	Cause error
}

func (e *FramingError) Error() string { return fmt.Sprintf("framing error: %v", e.Cause) }
func (e *FramingError) Unwrap() error { return e.Cause }

// TruncatedError indicates the stream ended before a fully-framed request or response was read.
type TruncatedError struct {
	Cause error
}

func (e *TruncatedError) Error() string { return fmt.Sprintf("truncated: %v", e.Cause) }
func (e *TruncatedError) Unwrap() error { return e.Cause }

// hopByHop is the fixed set of header names spec.md §4.1 requires dropping in both directions.
var hopByHop = map[string]bool{
	"connection":        true,
	"keep-alive":        true,
	"transfer-encoding": true,
	"te":                true,
	"trailer":           true,
	"upgrade":           true,
}

// IsHopByHop reports whether name (any case) must never cross the overlay stream verbatim.
func IsHopByHop(name string) bool {
	lower := strings.ToLower(name)
	return hopByHop[lower] || strings.HasPrefix(lower, "proxy-")
}

// stripHopByHop returns a copy of h with hop-by-hop headers removed.
func stripHopByHop(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for name, values := range h {
		if IsHopByHop(name) {
			continue
		}
		out[textproto.CanonicalMIMEHeaderKey(name)] = values
	}
	return out
}

// WriteRequest serializes req onto w in absolute-form, per spec.md §4.1: request line carries the
// full URI, a Host header matching the URI authority is always present, and the body is framed by
// Content-Length when req.ContentLength is known (>= 0) or by chunked encoding otherwise.
func WriteRequest(w io.Writer, req *http.Request) error {
	if !req.URL.IsAbs() {
		return &FramingError{Cause: fmt.Errorf("request target %q is not absolute-form", req.URL)}
	}

	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintf(bw, "%s %s HTTP/1.1\r\n", req.Method, req.URL.String()); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(bw, "Host: %s\r\n", req.URL.Host); err != nil {
		return err
	}

	headers := stripHopByHop(req.Header)
	headers.Del("Host")
	for name, values := range headers {
		for _, v := range values {
			if _, err := fmt.Fprintf(bw, "%s: %s\r\n", name, v); err != nil {
				return err
			}
		}
	}

	chunked := req.ContentLength < 0
	if chunked {
		if _, err := bw.WriteString("Transfer-Encoding: chunked\r\n"); err != nil {
			return err
		}
	} else {
		if _, err := fmt.Fprintf(bw, "Content-Length: %d\r\n", req.ContentLength); err != nil {
			return err
		}
	}
	if _, err := bw.WriteString("\r\n"); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}

	return writeBody(w, req.Body, req.ContentLength, chunked)
}

// WriteResponse serializes resp onto w using the same framing rules as WriteRequest.
func WriteResponse(w io.Writer, resp *http.Response) error {
	bw := bufio.NewWriter(w)
	// resp.Status carries the code too ("200 OK"); only the reason phrase goes after the code.
	statusText := strings.TrimPrefix(resp.Status, fmt.Sprintf("%d ", resp.StatusCode))
	if statusText == "" {
		statusText = http.StatusText(resp.StatusCode)
	}
	if _, err := fmt.Fprintf(bw, "HTTP/1.1 %d %s\r\n", resp.StatusCode, statusText); err != nil {
		return err
	}

	headers := stripHopByHop(resp.Header)
	for name, values := range headers {
		for _, v := range values {
			if _, err := fmt.Fprintf(bw, "%s: %s\r\n", name, v); err != nil {
				return err
			}
		}
	}

	hasBody := resp.Body != nil && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotModified
	chunked := hasBody && resp.ContentLength < 0
	switch {
	case !hasBody:
		// Nothing to frame; neither Content-Length nor Transfer-Encoding is emitted.
	case chunked:
		if _, err := bw.WriteString("Transfer-Encoding: chunked\r\n"); err != nil {
			return err
		}
	default:
		if _, err := fmt.Fprintf(bw, "Content-Length: %d\r\n", resp.ContentLength); err != nil {
			return err
		}
	}
	if _, err := bw.WriteString("\r\n"); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}

	if !hasBody {
		return nil
	}
	return writeBody(w, resp.Body, resp.ContentLength, chunked)
}

func writeBody(w io.Writer, body io.Reader, contentLength int64, chunked bool) error {
	if body == nil {
		return nil
	}
	if chunked {
		cw := httputil.NewChunkedWriter(w)
		if _, err := io.Copy(cw, body); err != nil {
			return err
		}
		return cw.Close()
	}
	if contentLength == 0 {
		return nil
	}
	_, err := io.CopyN(w, body, contentLength)
	if err == io.EOF {
		return &TruncatedError{Cause: err}
	}
	return err
}

// ParseRequest reads one absolute-form HTTP/1.1 request from r. The returned request's Body must
// be fully read (or closed) by the caller before the stream is reused for anything else.
func ParseRequest(r *bufio.Reader) (*http.Request, error) {
	req, err := http.ReadRequest(r)
	if err != nil {
		return nil, classifyParseError(err)
	}
	if req.URL.Host == "" {
		// http.ReadRequest accepts origin-form targets too; absolute-form is mandatory here.
		return nil, &FramingError{Cause: fmt.Errorf("request target %q is not absolute-form", req.RequestURI)}
	}
	if req.URL.Scheme == "" {
		req.URL.Scheme = "http"
	}
	return req, nil
}

// ParseResponse reads one HTTP/1.1 response from r, associated with the request that produced it
// (http.ReadResponse needs req to know whether a body is expected for HEAD responses, etc). Body
// length is resolved, in order, by Transfer-Encoding: chunked, then Content-Length, then
// read-to-EOF, exactly as net/http's own client does for a persistent connection.
func ParseResponse(r *bufio.Reader, req *http.Request) (*http.Response, error) {
	resp, err := http.ReadResponse(r, req)
	if err != nil {
		return nil, classifyParseError(err)
	}
	return resp, nil
}

func classifyParseError(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return &TruncatedError{Cause: err}
	}
	return &FramingError{Cause: err}
}
