package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"time"

	"github.com/chatrelay/chatrelay/internal/apperrors"
	"golang.org/x/crypto/pbkdf2"
)

// fixedSalt is deliberately constant: it is used only when deriving a
// symmetric key from a password or a machine identifier, where the
// "secret" is already low-entropy and a random salt would buy nothing
// but would need to be stored alongside the derived key. Matches the
// upstream system's key-derivation salt exactly so keys derived the
// same way remain stable across processes.
var fixedSalt = []byte{0x85, 0x94, 0xa2, 0x20, 0x9e, 0xc4, 0x33, 0xa1, 0x31, 0xdb, 0xbc, 0x1f, 0x48, 0xf6, 0x0e, 0xbc}

const (
	pbkdf2Iterations = 100000
	symKeyLength     = 32
)

// CreateSymmetricKey derives (or generates) a base64url-encoded 32-byte
// key suitable for EncryptSymmetric/DecryptSymmetric.
//
// If password is nil, a fresh random key is generated (random salt,
// arbitrary PBKDF2 passphrase — the salt is what actually provides
// entropy in that branch). If password is non-nil, the fixed salt above
// is used instead, so the same password always derives the same key.
func CreateSymmetricKey(password []byte) ([]byte, error) {
	pw := password
	salt := make([]byte, 16)
	if password != nil {
		salt = fixedSalt
	} else {
		if _, err := rand.Read(salt); err != nil {
			return nil, apperrors.Wrap(apperrors.CryptoError, err, "generating salt")
		}
		pw = []byte("69420")
	}

	derived := pbkdf2.Key(pw, salt, pbkdf2Iterations, symKeyLength, sha256.New)
	encoded := make([]byte, base64.URLEncoding.EncodedLen(len(derived)))
	base64.URLEncoding.Encode(encoded, derived)
	return encoded, nil
}

// EncryptSymmetric encrypts data with a Fernet-style scheme: a random
// 16-byte IV, AES-128-CBC (half of the 32-byte key) for confidentiality,
// and HMAC-SHA256 (the other half) over version+timestamp+iv+ciphertext
// for integrity, all base64url-framed as a single self-contained token.
func EncryptSymmetric(data, symKey []byte) ([]byte, error) {
	signKey, cryptKey, err := splitFernetKey(symKey)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, apperrors.Wrap(apperrors.CryptoError, err, "generating IV")
	}

	block, err := aes.NewCipher(cryptKey)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CryptoError, err, "initializing AES cipher")
	}
	padded := pkcs7Pad(data, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	timestamp := uint64(time.Now().Unix())
	body := make([]byte, 0, 1+8+len(iv)+len(ciphertext))
	body = append(body, 0x80) // version byte, matches Fernet's wire format
	tsBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(tsBuf, timestamp)
	body = append(body, tsBuf...)
	body = append(body, iv...)
	body = append(body, ciphertext...)

	mac := hmac.New(sha256.New, signKey)
	mac.Write(body)
	token := append(body, mac.Sum(nil)...)

	out := make([]byte, base64.URLEncoding.EncodedLen(len(token)))
	base64.URLEncoding.Encode(out, token)
	return out, nil
}

// DecryptSymmetric reverses EncryptSymmetric, verifying the HMAC before
// returning any plaintext.
func DecryptSymmetric(data, symKey []byte) ([]byte, error) {
	signKey, cryptKey, err := splitFernetKey(symKey)
	if err != nil {
		return nil, err
	}

	token := make([]byte, base64.URLEncoding.DecodedLen(len(data)))
	n, err := base64.URLEncoding.Decode(token, data)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CryptoError, err, "decoding token")
	}
	token = token[:n]

	if len(token) < 1+8+aes.BlockSize+sha256.Size {
		return nil, apperrors.New(apperrors.CryptoError, "token too short")
	}

	macStart := len(token) - sha256.Size
	body, gotMAC := token[:macStart], token[macStart:]

	mac := hmac.New(sha256.New, signKey)
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), gotMAC) {
		return nil, apperrors.New(apperrors.CryptoError, "invalid token signature")
	}

	if body[0] != 0x80 {
		return nil, apperrors.New(apperrors.CryptoError, "unsupported token version")
	}
	iv := body[9 : 9+aes.BlockSize]
	ciphertext := body[9+aes.BlockSize:]
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, apperrors.New(apperrors.CryptoError, "malformed ciphertext")
	}

	block, err := aes.NewCipher(cryptKey)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CryptoError, err, "initializing AES cipher")
	}
	plainPadded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plainPadded, ciphertext)

	return pkcs7Unpad(plainPadded)
}

// splitFernetKey decodes the base64url symmetric key and splits it into
// a signing half and an encryption half, the way Fernet does.
func splitFernetKey(symKey []byte) (signKey, cryptKey []byte, err error) {
	raw := make([]byte, base64.URLEncoding.DecodedLen(len(symKey)))
	n, decErr := base64.URLEncoding.Decode(raw, symKey)
	if decErr != nil {
		return nil, nil, apperrors.Wrap(apperrors.CryptoError, decErr, "decoding symmetric key")
	}
	raw = raw[:n]
	if len(raw) != symKeyLength {
		return nil, nil, apperrors.New(apperrors.CryptoError, "symmetric key must decode to 32 bytes")
	}
	return raw[:16], raw[16:], nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := make([]byte, padLen)
	for i := range padding {
		padding[i] = byte(padLen)
	}
	return append(append([]byte{}, data...), padding...)
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, apperrors.New(apperrors.CryptoError, "empty plaintext")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) {
		return nil, apperrors.New(apperrors.CryptoError, "invalid padding")
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, apperrors.New(apperrors.CryptoError, "invalid padding")
		}
	}
	return data[:len(data)-padLen], nil
}
