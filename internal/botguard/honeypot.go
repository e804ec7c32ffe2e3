package botguard

import (
	"strings"

	"github.com/google/uuid"
)

// Honeypot is a uniquely named form field that must stay empty. Real users
// never see it; anything that fills it in is a bot. Callers must fail
// silently on a trip so the trap is not revealed.
type Honeypot struct {
	FieldName string
}

func NewHoneypot() *Honeypot {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return &Honeypot{FieldName: "field_" + suffix}
}

// IsBot reports whether the honeypot field carried a value.
func (h *Honeypot) IsBot(value string) bool {
	return value != ""
}
