// Package keystore implements the client's encrypted local key store:
// an append-only list of per-chat RSA key pairs, encrypted at rest
// with a key derived from the machine identifier.
package keystore

import (
	"bytes"
	"encoding/json"
	"os"

	"github.com/chatrelay/chatrelay/crypto"
	"github.com/chatrelay/chatrelay/internal/apperrors"
	"github.com/chatrelay/chatrelay/internal/logger"
)

const lineWrapWidth = 64

// Record is one entry in the key store: a key-id and its PEM-encoded
// public/private halves.
type Record struct {
	EncryptionKeyID string `json:"encryption_key_id"`
	Public          []byte `json:"public"`
	Private         []byte `json:"private"`
}

type fileFormat struct {
	Entries []Record `json:"entries"`
}

// Store is the in-memory, load/save-able view of the key store file.
// Missing-file-on-open is not an error: Load leaves records empty.
type Store struct {
	path    string
	symKey  []byte
	records []Record
	log     logger.Logger
}

// New creates a Store for path, deriving the at-rest key from
// identifier via fixed-salt PBKDF2, so the same machine identifier
// always unlocks the same store.
func New(path string, identifier []byte, log logger.Logger) (*Store, error) {
	symKey, err := crypto.CreateSymmetricKey(identifier)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	return &Store{path: path, symKey: symKey, log: log}, nil
}

// Load reads and decrypts the store file. A missing file is treated as
// an empty store, not an error.
func (s *Store) Load() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.records = nil
			return nil
		}
		return apperrors.Wrap(apperrors.PersistenceError, err, "reading key store file")
	}

	unwrapped := stripLineWraps(raw)
	plaintext, err := crypto.DecryptSymmetric(unwrapped, s.symKey)
	if err != nil {
		return apperrors.Wrap(apperrors.CryptoError, err, "decrypting key store")
	}

	var decoded fileFormat
	if err := json.Unmarshal(plaintext, &decoded); err != nil {
		return apperrors.Wrap(apperrors.PersistenceError, err, "parsing key store JSON")
	}
	s.records = decoded.Entries
	return nil
}

// Save encrypts and writes the store file, line-wrapped at 64
// characters for cosmetic reasons (stripped again on the next Load).
func (s *Store) Save() error {
	encoded, err := json.Marshal(fileFormat{Entries: s.records})
	if err != nil {
		return apperrors.Wrap(apperrors.PersistenceError, err, "encoding key store JSON")
	}

	ciphertext, err := crypto.EncryptSymmetric(encoded, s.symKey)
	if err != nil {
		return apperrors.Wrap(apperrors.CryptoError, err, "encrypting key store")
	}

	wrapped := lineWrap(ciphertext, lineWrapWidth)
	if err := os.WriteFile(s.path, wrapped, 0o600); err != nil {
		return apperrors.Wrap(apperrors.PersistenceError, err, "writing key store file")
	}
	return nil
}

// Put inserts or replaces the record for keyID.
func (s *Store) Put(keyID string, pub, priv []byte) {
	for i, r := range s.records {
		if r.EncryptionKeyID == keyID {
			s.records[i].Public = pub
			s.records[i].Private = priv
			return
		}
	}
	s.records = append(s.records, Record{EncryptionKeyID: keyID, Public: pub, Private: priv})
}

// Get returns the (public, private) PEM bytes for keyID, and whether
// it was found.
func (s *Store) Get(keyID string) (pub, priv []byte, ok bool) {
	for _, r := range s.records {
		if r.EncryptionKeyID == keyID {
			return r.Public, r.Private, true
		}
	}
	return nil, nil, false
}

// Has reports whether keyID has a stored record.
func (s *Store) Has(keyID string) bool {
	_, _, ok := s.Get(keyID)
	return ok
}

func lineWrap(data []byte, width int) []byte {
	var out bytes.Buffer
	for i := 0; i < len(data); i += width {
		end := i + width
		if end > len(data) {
			end = len(data)
		}
		out.Write(data[i:end])
		out.WriteByte('\n')
	}
	return out.Bytes()
}

func stripLineWraps(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for _, b := range data {
		if b == '\n' || b == '\r' {
			continue
		}
		out = append(out, b)
	}
	return out
}
