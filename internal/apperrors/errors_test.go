package apperrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewAndIs(t *testing.T) {
	err := New(NotFound, "chat not found")
	assert.True(t, Is(err, NotFound))
	assert.False(t, Is(err, AuthFailure))
	assert.Equal(t, NotFound, KindOf(err))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(PersistenceError, cause, "saving chats.db")

	assert.True(t, Is(err, PersistenceError))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "disk full")
	assert.Contains(t, err.Error(), "saving chats.db")
}

func TestIsFalseForPlainError(t *testing.T) {
	assert.False(t, Is(errors.New("plain"), CryptoError))
	assert.Equal(t, Unknown, KindOf(errors.New("plain")))
}

func TestKindString(t *testing.T) {
	cases := map[Kind]string{
		AuthFailure:      "auth_failure",
		Unauthorized:     "unauthorized",
		NotFound:         "not_found",
		CryptoError:      "crypto_error",
		ProtocolError:    "protocol_error",
		TransportError:   "transport_error",
		PersistenceError: "persistence_error",
		Unknown:          "unknown",
	}
	for k, want := range cases {
		assert.Equal(t, want, k.String())
	}
}
