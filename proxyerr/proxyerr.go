// Package proxyerr defines the error taxonomy shared by the Gateway and UpstreamProxy (spec.md
// §7) and its mapping onto HTTP status codes. Grounded on the ConnectError pattern in
// tunnelrpc/pogs, carried through connection/manager.go's retryConnection helper.
package proxyerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure the way §7's taxonomy does, independent of which side (Gateway or
// UpstreamProxy) observed it.
type Kind int

const (
	// KindBadRequest: routing inputs malformed. No overlay work performed.
	KindBadRequest Kind = iota
	// KindNotFound: routing key unresolved (unknown codename).
	KindNotFound
	// KindConnectError: overlay connect(node_id) failed.
	KindConnectError
	// KindStreamError: open_bi/read/write failed mid-request.
	KindStreamError
	// KindFraming: peer sent invalid HTTP framing.
	KindFraming
	// KindTruncated: peer sent incomplete HTTP framing (stream ended before body end).
	KindTruncated
	// KindUpstream: the device's local HTTP client could not reach the local service.
	KindUpstream
	// KindTimeout: an operation exceeded its configured deadline.
	KindTimeout
	// KindCancelled: the inbound request was cancelled by its caller.
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "bad_request"
	case KindNotFound:
		return "not_found"
	case KindConnectError:
		return "connect_error"
	case KindStreamError:
		return "stream_error"
	case KindFraming:
		return "framing_error"
	case KindTruncated:
		return "truncated"
	case KindUpstream:
		return "upstream_error"
	case KindTimeout:
		return "timeout"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// HTTPStatus maps a Kind to the status code §7 assigns it. KindCancelled has no status of its
// own (HTTPStatus falls back to 500 for it): the inbound stream is reset instead of answered, so
// callers must check for it before writing a response at all.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConnectError, KindStreamError, KindFraming, KindTruncated, KindUpstream:
		return http.StatusBadGateway
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Error is a Kind-tagged error that carries the underlying cause without losing it, matching the
// cloudflared style of wrapping with github.com/pkg/errors while exposing a typed Kind for
// dispatch (see tunnelrpc/pogs.ConnectError for the structural precedent).
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, cause error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Cause)
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// As reports whether err is (or wraps) a *Error, mirroring the stdlib errors.As signature so call
// sites don't need to import both packages.
func As(err error, target **Error) bool {
	return errors.As(err, target)
}

// KindOf extracts the Kind of err if it is a *Error, defaulting to KindStreamError (a caught-all
// 502) for anything else — an unrecognized failure mid-proxy is still surfaced as a gateway
// failure, never a 500 that implies the Gateway itself is broken.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindStreamError
}
