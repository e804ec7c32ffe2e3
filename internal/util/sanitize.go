package util

import (
	"crypto/rand"
	"encoding/hex"
	"html"
	"strings"
)

// SanitizeInput trims and escapes HTML/script-like characters before any
// free-text content is stored or echoed back to the UI layer.
func SanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return html.EscapeString(s)
}

// SecureToken returns length random bytes as a hex string. Session ids and
// the client pseudonym are minted through this.
func SecureToken(length int) string {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms
		panic("util: crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(buf)
}
