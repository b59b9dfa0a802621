package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"

	"github.com/chatrelay/chatrelay/internal/apperrors"
)

const (
	rsaPublicExponent = 65537
	rsaKeySize        = 2048
)

// rsaKeyPair implements KeyPair for RSA-OAEP keys used to wrap
// handshake payloads.
type rsaKeyPair struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	id         string
}

// GenerateKeyPair generates a new 2048-bit RSA key pair with the
// standard public exponent.
func GenerateKeyPair() (KeyPair, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, rsaKeySize)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CryptoError, err, "generating RSA key pair")
	}
	if privateKey.PublicKey.E != rsaPublicExponent {
		// crypto/rsa always uses 65537; this only guards against a future stdlib change.
		return nil, apperrors.New(apperrors.CryptoError, "unexpected public exponent")
	}
	return newRSAKeyPair(privateKey, &privateKey.PublicKey), nil
}

func newRSAKeyPair(priv *rsa.PrivateKey, pub *rsa.PublicKey) *rsaKeyPair {
	modBytes := pub.N.Bytes()
	hash := sha256.Sum256(modBytes)
	return &rsaKeyPair{
		privateKey: priv,
		publicKey:  pub,
		id:         hex.EncodeToString(hash[:8]),
	}
}

func (kp *rsaKeyPair) PublicKey() *rsa.PublicKey  { return kp.publicKey }
func (kp *rsaKeyPair) PrivateKey() *rsa.PrivateKey { return kp.privateKey }
func (kp *rsaKeyPair) ID() string                  { return kp.id }

// PublicKeyToPEM marshals a public key as PEM-encoded SubjectPublicKeyInfo.
func PublicKeyToPEM(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CryptoError, err, "marshaling public key")
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// PrivateKeyToPEM marshals a private key as PEM-encoded unencrypted PKCS8.
func PrivateKeyToPEM(priv *rsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CryptoError, err, "marshaling private key")
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// PublicKeyFromPEM parses a PEM-encoded SubjectPublicKeyInfo block.
func PublicKeyFromPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, apperrors.New(apperrors.CryptoError, "no PEM block found")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CryptoError, err, "parsing public key")
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, apperrors.New(apperrors.CryptoError, "PEM block is not an RSA public key")
	}
	return rsaKey, nil
}

// PrivateKeyFromPEM parses a PEM-encoded unencrypted PKCS8 block.
func PrivateKeyFromPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, apperrors.New(apperrors.CryptoError, "no PEM block found")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CryptoError, err, "parsing private key")
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, apperrors.New(apperrors.CryptoError, "PEM block is not an RSA private key")
	}
	return rsaKey, nil
}

// KeyPairFromPEM reconstructs a KeyPair from its PEM-encoded halves.
func KeyPairFromPEM(pubPEM, privPEM []byte) (KeyPair, error) {
	pub, err := PublicKeyFromPEM(pubPEM)
	if err != nil {
		return nil, err
	}
	priv, err := PrivateKeyFromPEM(privPEM)
	if err != nil {
		return nil, err
	}
	return newRSAKeyPair(priv, pub), nil
}

// EncryptAsymmetric encrypts bytes with RSA-OAEP (SHA-256, MGF1-SHA-256,
// empty label), mirroring the padding scheme the relay's original
// implementation used.
func EncryptAsymmetric(data []byte, pub *rsa.PublicKey) ([]byte, error) {
	ct, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, data, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CryptoError, err, "RSA-OAEP encrypt")
	}
	return ct, nil
}

// DecryptAsymmetric decrypts RSA-OAEP ciphertext produced by EncryptAsymmetric.
func DecryptAsymmetric(data []byte, priv *rsa.PrivateKey) ([]byte, error) {
	pt, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, data, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CryptoError, err, "RSA-OAEP decrypt")
	}
	return pt, nil
}

// MaxAsymmetricPayload returns the largest payload EncryptAsymmetric can
// wrap directly for the given key size, useful for callers that want to
// fail fast rather than rely on the underlying OAEP error.
func MaxAsymmetricPayload(pub *rsa.PublicKey) int {
	k := (pub.N.BitLen() + 7) / 8
	return k - 2*sha256.Size - 2
}
