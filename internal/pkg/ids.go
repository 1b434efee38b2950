package pkg

import (
	"crypto/rand"
	"math/big"

	"github.com/google/uuid"
)

const (
	matchIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	matchIDLength   = 12
)

// GenerateMatchID - generates a short random key for a new match.
func GenerateMatchID() string {
	out := make([]byte, matchIDLength)
	limit := big.NewInt(int64(len(matchIDAlphabet)))

	for i := range out {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out[i] = matchIDAlphabet[n.Int64()]
	}

	return string(out)
}

// GeneratePlayerToken - generates an opaque identifier for a claimed seat.
func GeneratePlayerToken() string {
	return uuid.NewString()
}
