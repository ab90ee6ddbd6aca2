// Package email normalizes operator login addresses.
package email

import (
	"net/mail"
	"strings"
	"unicode"
)

// Normalize trims and lowercases addr. Logins compare normalized forms.
func Normalize(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// Valid reports whether addr is a bare address without a display name.
func Valid(addr string) bool {
	parsed, err := mail.ParseAddress(addr)
	return err == nil && parsed.Address == addr
}

// DisplayName derives a readable name from the local part of addr, e.g.
// "ana.gomez@site" becomes "Ana Gomez". Used when an operator is created
// without a name.
func DisplayName(addr string) string {
	local := addr
	if at := strings.IndexByte(addr, '@'); at > 0 {
		local = addr[:at]
	}
	parts := strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+'
	})
	if len(parts) == 0 {
		return "Operador"
	}
	for i, p := range parts {
		parts[i] = capitalize(p)
	}
	return strings.Join(parts, " ")
}

func capitalize(s string) string {
	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
