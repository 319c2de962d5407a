package random

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// Hex returns a hex-encoded opaque identifier drawn from n random bytes.
// It is the single entropy primitive shared by key issuance, token minting
// and payload variable naming.
func Hex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("random: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// UpperHex is Hex with uppercase output, used for license key serials.
func UpperHex(n int) string {
	return strings.ToUpper(Hex(n))
}

// Byte returns one random byte.
func Byte() byte {
	var b [1]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("random: " + err.Error())
	}
	return b[0]
}
