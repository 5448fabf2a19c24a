// Package util provides the stable, mostly-deterministic helpers shared by
// every other package: hashing, id generation, tokenization and timestamps
// (spec.md §4.1).
package util

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math/big"
	"strings"
	"time"
)

const alphanumeric = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NowISO returns the current time as an RFC-3339 UTC timestamp.
func NowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// NowMillis returns the current Unix time in milliseconds.
func NowMillis() int64 {
	return time.Now().UTC().UnixMilli()
}

// RandomHex returns a lowercase hex string encoding n random bytes (2n chars).
func RandomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(err) // crypto/rand failing is not recoverable
	}
	return hex.EncodeToString(buf)
}

// RandomToken returns a length-len alphanumeric token drawn from a CSPRNG.
func RandomToken(length int) string {
	out := make([]byte, length)
	idx := make([]byte, length)
	if _, err := rand.Read(idx); err != nil {
		panic(err)
	}
	for i, b := range idx {
		out[i] = alphanumeric[int(b)%len(alphanumeric)]
	}
	return string(out)
}

// SHA256Hex returns the lowercase hex SHA-256 digest of s.
func SHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashToU64 returns the big-endian uint64 formed from the first 8 bytes of
// SHA-256(s). Used for XOR-distance DHT routing.
func HashToU64(s string) uint64 {
	sum := sha256.Sum256([]byte(s))
	return binary.BigEndian.Uint64(sum[:8])
}

// ShuffleStrings performs an in-place CSPRNG Fisher-Yates shuffle.
func ShuffleStrings(s []string) {
	for i := len(s) - 1; i > 0; i-- {
		jBig, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return
		}
		j := int(jBig.Int64())
		s[i], s[j] = s[j], s[i]
	}
}

// Tokenize splits s on any run of non [A-Za-z0-9_-] characters, lowercases
// each token, and drops empty tokens. Order and duplicates are preserved.
func Tokenize(s string) []string {
	var tokens []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			current.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			current.WriteRune(r - 'A' + 'a')
		default:
			flush()
		}
	}
	flush()
	return tokens
}
