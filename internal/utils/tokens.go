package utils

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"unicode"
)

// LinkCodeLen is the length of a Telegram link code in hex characters.
const LinkCodeLen = 32

// NewLinkCode returns a random upper-case hex code (128 бит).
func NewLinkCode() (string, error) {
	b := make([]byte, LinkCodeLen/2)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(b)), nil
}

// NormalizeLinkCode strips whatever a chat client may wrap around a pasted
// code and reports whether exactly LinkCodeLen hex digits remain.
func NormalizeLinkCode(s string) (string, bool) {
	var b strings.Builder
	for _, r := range strings.ToUpper(strings.TrimSpace(s)) {
		if unicode.Is(unicode.Hex_Digit, r) {
			b.WriteRune(r)
		}
	}
	code := b.String()
	if len(code) != LinkCodeLen {
		return "", false
	}
	return code, true
}
