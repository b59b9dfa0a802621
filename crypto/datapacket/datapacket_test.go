package datapacket

import (
	"testing"

	"github.com/chatrelay/chatrelay/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	p, err := New([]byte("the handshake payload"), nil)
	require.NoError(t, err)
	assert.False(t, p.Encrypted)

	require.NoError(t, p.Encrypt(kp.PublicKey(), true))
	assert.True(t, p.Encrypted)
	assert.NotEqual(t, "the handshake payload", string(p.Payload))

	require.NoError(t, p.Decrypt(kp.PrivateKey(), true))
	assert.False(t, p.Encrypted)
	assert.Equal(t, "the handshake payload", string(p.Payload))
}

func TestEncryptTwiceStrictFails(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	p, err := New([]byte("payload"), nil)
	require.NoError(t, err)

	require.NoError(t, p.Encrypt(kp.PublicKey(), true))
	err = p.Encrypt(kp.PublicKey(), true)
	assert.Error(t, err)
}

func TestDecryptTwiceStrictFails(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	p, err := New([]byte("payload"), nil)
	require.NoError(t, err)
	require.NoError(t, p.Encrypt(kp.PublicKey(), true))
	require.NoError(t, p.Decrypt(kp.PrivateKey(), true))

	err = p.Decrypt(kp.PrivateKey(), true)
	assert.Error(t, err)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	p, err := New([]byte("a message body"), nil)
	require.NoError(t, err)
	require.NoError(t, p.Encrypt(kp.PublicKey(), true))

	wire := Encode(p)
	decoded, err := Decode(wire)
	require.NoError(t, err)

	assert.Equal(t, p.Payload, decoded.Payload)
	assert.Equal(t, p.SymKey, decoded.SymKey)
	assert.Equal(t, p.Encrypted, decoded.Encrypted)
}

func TestDecodeTruncatedFails(t *testing.T) {
	_, err := Decode([]byte{0, 0, 0, 5, 1, 2})
	assert.Error(t, err)
}
