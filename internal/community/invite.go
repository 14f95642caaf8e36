package community

import (
	"crypto/rand"
	"math/big"
	"strings"
	"unicode"
)

// inviteAlphabet leaves out characters that are easy to misread (0/O, 1/I/L).
const (
	inviteAlphabet   = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	inviteCodeLength = 8
)

// RandomSource supplies the randomness for invite codes. *math/rand.Rand
// satisfies it, which lets tests use a seeded source.
type RandomSource interface {
	Intn(n int) int
}

// CryptoSource draws from crypto/rand.
type CryptoSource struct{}

func (CryptoSource) Intn(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		panic("crypto/rand unavailable: " + err.Error())
	}
	return int(v.Int64())
}

// GenerateInviteCode returns a new invite code drawn from src.
func GenerateInviteCode(src RandomSource) string {
	var b strings.Builder
	b.Grow(inviteCodeLength)
	for i := 0; i < inviteCodeLength; i++ {
		b.WriteByte(inviteAlphabet[src.Intn(len(inviteAlphabet))])
	}
	return b.String()
}

// NormalizeInviteCode makes user-typed codes comparable with stored ones.
// Whitespace and dashes are dropped wherever they appear.
func NormalizeInviteCode(code string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '-' {
			return -1
		}
		return unicode.ToUpper(r)
	}, code)
}
