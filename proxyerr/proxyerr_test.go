package proxyerr

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[Kind]int{
		KindBadRequest:   http.StatusBadRequest,
		KindNotFound:     http.StatusNotFound,
		KindConnectError: http.StatusBadGateway,
		KindStreamError:  http.StatusBadGateway,
		KindFraming:      http.StatusBadGateway,
		KindTruncated:    http.StatusBadGateway,
		KindUpstream:     http.StatusBadGateway,
		KindTimeout:      http.StatusGatewayTimeout,
		KindCancelled:    http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, kind.HTTPStatus(), kind.String())
	}
}

func TestKindStringKnownAndUnknown(t *testing.T) {
	assert.Equal(t, "connect_error", KindConnectError.String())
	assert.Equal(t, "unknown", Kind(999).String())
}

func TestErrorWrapsCauseAndUnwraps(t *testing.T) {
	cause := errors.New("dial refused")
	err := Wrap(KindConnectError, cause, "could not reach device")

	assert.Equal(t, "could not reach device: dial refused", err.Error())
	assert.Same(t, cause, errors.Unwrap(err))
}

func TestErrorWithoutCause(t *testing.T) {
	err := New(KindBadRequest, "missing header")
	assert.Equal(t, "missing header", err.Error())
	assert.Nil(t, err.Unwrap())
}

func TestAsExtractsTypedError(t *testing.T) {
	original := New(KindNotFound, "unknown codename")
	wrapped := errors.New("boom")

	var target *Error
	assert.False(t, As(wrapped, &target))
	assert.True(t, As(original, &target))
	assert.Equal(t, KindNotFound, target.Kind)
}

func TestKindOfDefaultsToStreamErrorForUntypedErrors(t *testing.T) {
	assert.Equal(t, KindStreamError, KindOf(errors.New("plain error")))
	assert.Equal(t, KindTimeout, KindOf(New(KindTimeout, "deadline exceeded")))
}
