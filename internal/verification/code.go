package verification

import (
	"crypto/rand"
	"math/big"
	"strings"
)

const CodeLength = 6

var ten = big.NewInt(10)

// GenerateCode returns a numeric one-time code. Every digit is drawn
// independently from crypto/rand, so leading zeros are possible.
func GenerateCode() (string, error) {
	var b strings.Builder
	b.Grow(CodeLength)
	for i := 0; i < CodeLength; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}
