package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(cause, CodeUnavailable, "ledger append failed")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "ledger append failed: connection refused", err.Error())
	assert.True(t, HasCode(err, CodeUnavailable))
}

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(CodeForbidden, "tier K2 cannot append critical actions"))

	assert.ErrorIs(t, err, New(CodeForbidden, ""))
	assert.NotErrorIs(t, err, New(CodeUnavailable, ""))
	assert.True(t, Is(err, CodeForbidden))
	assert.Equal(t, CodeForbidden, CodeOf(err))
}

func TestCodeOfPlainErrorIsInternal(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeValidation:     http.StatusBadRequest,
		CodeForbidden:      http.StatusForbidden,
		CodeUnknownVersion: http.StatusUnprocessableEntity,
		CodeUnavailable:    http.StatusServiceUnavailable,
		CodeIntegrity:      http.StatusConflict,
		CodeCooldownActive: http.StatusTooManyRequests,
		Code("mystery"):    http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, HTTPStatus(code), string(code))
	}
}
