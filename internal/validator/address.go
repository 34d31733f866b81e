package validator

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidAddress is returned for physical addresses that are not 12 hex digits
var ErrInvalidAddress = errors.New("invalid physical address")

// addressLength is the number of hex digits in a MAC address
const addressLength = 12

// NormalizeAddress converts a MAC address to its canonical form:
// 12 lowercase hex digits without separators.
// Colons and dashes are accepted as separators.
func NormalizeAddress(raw string) (string, error) {
	stripped := strings.NewReplacer(":", "", "-", "").Replace(strings.TrimSpace(raw))

	if len(stripped) != addressLength {
		return "", fmt.Errorf("%w: %q has %d hex digits, want %d", ErrInvalidAddress, raw, len(stripped), addressLength)
	}

	for i := 0; i < len(stripped); i++ {
		if !isHexDigit(stripped[i]) {
			return "", fmt.Errorf("%w: %q contains non-hex character %q", ErrInvalidAddress, raw, stripped[i])
		}
	}

	return strings.ToLower(stripped), nil
}

// IsValidAddress reports whether raw can be normalized
func IsValidAddress(raw string) bool {
	_, err := NormalizeAddress(raw)
	return err == nil
}

func isHexDigit(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}
