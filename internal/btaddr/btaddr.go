package btaddr

import (
	"errors"
	"strings"
)

var ErrInvalid = errors.New("invalid bluetooth address")

// Normalize canonicalizes a Bluetooth address to uppercase colon-separated
// hex (AA:BB:CC:DD:EE:FF). Accepts colon, dash, or bare hex input.
func Normalize(addr string) (string, error) {
	var hexDigits [12]byte
	n := 0
	for _, r := range strings.TrimSpace(addr) {
		switch {
		case r >= '0' && r <= '9', r >= 'A' && r <= 'F':
			if n == 12 {
				return "", ErrInvalid
			}
			hexDigits[n] = byte(r)
			n++
		case r >= 'a' && r <= 'f':
			if n == 12 {
				return "", ErrInvalid
			}
			hexDigits[n] = byte(r) - 'a' + 'A'
			n++
		case r == ':' || r == '-':
		default:
			return "", ErrInvalid
		}
	}
	if n != 12 {
		return "", ErrInvalid
	}
	var b strings.Builder
	b.Grow(17)
	for i := 0; i < 12; i += 2 {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteByte(hexDigits[i])
		b.WriteByte(hexDigits[i+1])
	}
	return b.String(), nil
}

// IsRandomized reports whether the address carries the locally-administered
// bit in its most significant octet, the convention used for privacy-rotated
// random addresses. Such addresses have no cross-session identity value.
func IsRandomized(addr string) bool {
	norm, err := Normalize(addr)
	if err != nil {
		return false
	}
	msb := hexVal(norm[0])<<4 | hexVal(norm[1])
	return msb&0x02 != 0
}

// OUIPrefix returns the vendor prefix (first three octets) of a normalized
// address, used as the key for vendor lookups.
func OUIPrefix(normalized string) string {
	if len(normalized) < 8 {
		return ""
	}
	return normalized[:8]
}

func hexVal(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	}
	return 0
}
