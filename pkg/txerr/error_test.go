package txerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesKindThroughWrapping(t *testing.T) {
	base := New(LockConflict, "row held by another xid")
	wrapped := fmt.Errorf("register branch: %w", base)

	assert.True(t, Is(wrapped, LockConflict))
	assert.False(t, Is(wrapped, DirtyWrite))
}

func TestWrapPreservesCauseForUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(Network, "dial tc", cause)

	assert.Same(t, cause, errors.Unwrap(err))
	assert.Contains(t, err.Error(), "connection reset")
	assert.Contains(t, err.Error(), "dial tc")
}

func TestIsRetryableOnlyForRetryableKinds(t *testing.T) {
	assert.True(t, IsRetryable(New(Network, "timed out")))
	assert.True(t, IsRetryable(New(Timeout, "deadline exceeded")))
	assert.True(t, IsRetryable(New(LockConflict, "locked")))
	assert.False(t, IsRetryable(New(DirtyWrite, "row diverged")))
	assert.False(t, IsRetryable(New(GlobalNotFound, "no such xid")))
	assert.False(t, IsRetryable(errors.New("plain error, not ours")))
}

func TestIsTimeoutOnlyMatchesTimeoutKind(t *testing.T) {
	assert.True(t, IsTimeout(New(Timeout, "exceeded")))
	assert.False(t, IsTimeout(New(Network, "reset")))
}

func TestKindStringRoundTrip(t *testing.T) {
	cases := map[Kind]string{
		Internal:         "Internal",
		Wire:             "WireError",
		Network:          "NetworkError",
		Protocol:         "ProtocolError",
		Auth:             "AuthError",
		LockConflict:     "LockConflict",
		DirtyWrite:       "DirtyWrite",
		NoUndoLog:        "NoUndoLog",
		ResourceNotFound: "ResourceNotFound",
		Timeout:          "Timeout",
		GlobalNotFound:   "GlobalNotFound",
		GlobalNotActive:  "GlobalNotActive",
	}
	for kind, want := range cases {
		assert.Equal(t, want, kind.String())
	}
}
