package main

import (
	"crypto/sha256"
	"encoding/hex"
)

// hashPassword stands in for the opaque hash a GUI front-end would
// supply already computed; it lets the scriptable client take a
// plaintext password on the command line. The server only ever sees
// the hash.
func hashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}
