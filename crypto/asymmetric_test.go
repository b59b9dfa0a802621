package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKeyPair(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	assert.NotEmpty(t, kp.ID())
	assert.Equal(t, 2048, kp.PublicKey().N.BitLen())
	assert.Equal(t, rsaPublicExponent, kp.PublicKey().E)
}

func TestAsymmetricEncryptDecryptRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	plaintext := []byte("a short payload")
	ciphertext, err := EncryptAsymmetric(plaintext, kp.PublicKey())
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)

	decrypted, err := DecryptAsymmetric(ciphertext, kp.PrivateKey())
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestAsymmetricDecryptWrongKeyFails(t *testing.T) {
	kp1, err := GenerateKeyPair()
	require.NoError(t, err)
	kp2, err := GenerateKeyPair()
	require.NoError(t, err)

	ciphertext, err := EncryptAsymmetric([]byte("hello"), kp1.PublicKey())
	require.NoError(t, err)

	_, err = DecryptAsymmetric(ciphertext, kp2.PrivateKey())
	assert.Error(t, err)
}

func TestPEMRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	pubPEM, err := PublicKeyToPEM(kp.PublicKey())
	require.NoError(t, err)
	privPEM, err := PrivateKeyToPEM(kp.PrivateKey())
	require.NoError(t, err)

	restored, err := KeyPairFromPEM(pubPEM, privPEM)
	require.NoError(t, err)
	assert.Equal(t, kp.ID(), restored.ID())
	assert.Equal(t, kp.PublicKey().N, restored.PublicKey().N)
}

func TestPublicKeyFromPEMRejectsGarbage(t *testing.T) {
	_, err := PublicKeyFromPEM([]byte("not pem"))
	assert.Error(t, err)
}
