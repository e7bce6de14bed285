package logintoken

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// Token material constants. The token is the sole authentication factor, so
// it is drawn with crypto/rand over the full mixed-case alphanumeric
// alphabet. Length is a tunable, not a protocol requirement.
const (
	tokenAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	tokenLength   = 36
)

// Generate returns a new unguessable login token string.
func Generate() (string, error) {
	max := big.NewInt(int64(len(tokenAlphabet)))
	buf := make([]byte, tokenLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		buf[i] = tokenAlphabet[n.Int64()]
	}
	return string(buf), nil
}
