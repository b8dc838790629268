// Package idgen mints local issue ids: a fixed prefix plus a short
// base36 hash of the issue content. Hash ids stay stable across
// machines for the same content and avoid coordination on a counter.
package idgen

import (
	"crypto/sha256"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// Prefix is the local id namespace.
const Prefix = "td"

// hashLength is the number of base36 characters after the prefix.
const hashLength = 8

// base36Alphabet is the character set for base36 encoding (0-9, a-z).
const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// encodeBase36 converts a byte slice to a base36 string of the given
// length, keeping the least significant digits.
func encodeBase36(data []byte, length int) string {
	num := new(big.Int).SetBytes(data)

	base := big.NewInt(36)
	zero := big.NewInt(0)
	mod := new(big.Int)

	chars := make([]byte, 0, length)
	for num.Cmp(zero) > 0 {
		num.DivMod(num, base, mod)
		chars = append(chars, base36Alphabet[mod.Int64()])
	}
	for i, j := 0, len(chars)-1; i < j; i, j = i+1, j-1 {
		chars[i], chars[j] = chars[j], chars[i]
	}

	str := string(chars)
	if len(str) < length {
		str = strings.Repeat("0", length-len(str)) + str
	}
	if len(str) > length {
		str = str[len(str)-length:]
	}
	return str
}

// NewID creates a content-hashed issue id. The nonce disambiguates
// collisions: callers retry with an incremented nonce when the store
// rejects a duplicate.
func NewID(title, creator string, timestamp time.Time, nonce int) string {
	content := fmt.Sprintf("%s|%s|%d|%d", title, creator, timestamp.UnixNano(), nonce)
	sum := sha256.Sum256([]byte(content))
	return Prefix + "-" + encodeBase36(sum[:], hashLength)
}
