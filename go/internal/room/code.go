package room

import (
	"math/rand/v2"
	"strings"
)

// CodeAlphabet is the character set for room codes. Visually confusable
// glyphs (I, O, 0, 1) are excluded so codes survive being read aloud or
// typed from a screenshot.
const CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// CodeLength is the fixed length of a room code.
const CodeLength = 4

// maxCodeAttempts bounds collision retries during generation. With a
// 32^4 code space and a handful of concurrent rooms this never trips in
// practice; hitting it means the registry is pathologically full.
const maxCodeAttempts = 1000

func randomCode() string {
	var b strings.Builder
	b.Grow(CodeLength)
	for i := 0; i < CodeLength; i++ {
		b.WriteByte(CodeAlphabet[rand.IntN(len(CodeAlphabet))])
	}
	return b.String()
}

// NormalizeCode uppercases a user-supplied code. Join codes are
// case-insensitive on input and stored uppercase.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
