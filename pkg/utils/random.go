package utils

import (
	"crypto/rand"
	"math/big"

	"github.com/google/uuid"
)

const charset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// GenerateShortCode generates a random uppercase code of fixed length.
// Ambiguous characters (0/O, 1/I) are left out of the charset.
func GenerateShortCode(length int) string {
	b := make([]byte, length)
	max := big.NewInt(int64(len(charset)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("crypto/rand unavailable: " + err.Error())
		}
		b[i] = charset[n.Int64()]
	}
	return string(b)
}

// NewID returns a random UUID string used as a record identifier.
func NewID() string {
	return uuid.NewString()
}
