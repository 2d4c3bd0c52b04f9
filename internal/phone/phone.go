// Package phone canonicalizes raw contact input into channel addresses.
//
// Every path that accepts a phone number from a human (sheet cells, shared
// contact cards, free text) goes through Normalizer.Normalize. A failure is
// always recoverable: callers ask the contact for a corrected number.
package phone

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ChannelPrefix is the transport prefix carried by every channel address.
const ChannelPrefix = "whatsapp:"

// DefaultCountryCode is used when no country code is configured.
const DefaultCountryCode = "972"

var ErrInvalidPhone = errors.New("phone: invalid number")

// Normalizer rewrites local trunk-prefixed numbers to a fixed country code.
type Normalizer struct {
	CountryCode string
}

func New(countryCode string) Normalizer {
	cc := strings.TrimPrefix(strings.TrimSpace(countryCode), "+")
	if cc == "" {
		cc = DefaultCountryCode
	}
	return Normalizer{CountryCode: cc}
}

// Normalize returns "whatsapp:+<digits>" or ErrInvalidPhone.
// It is pure and idempotent: normalizing an address returns it unchanged.
func (n Normalizer) Normalize(raw string) (string, error) {
	cc := n.CountryCode
	if cc == "" {
		cc = DefaultCountryCode
	}

	s := stripChannelPrefix(strings.TrimSpace(raw))
	s = clean(s)
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPhone)
	}

	switch {
	case strings.HasPrefix(s, "+"):
		if !validInternational(s[1:]) {
			return "", fmt.Errorf("%w: %q", ErrInvalidPhone, raw)
		}
		return ChannelPrefix + s, nil

	case strings.HasPrefix(s, "00"):
		if !validInternational(s[2:]) {
			return "", fmt.Errorf("%w: %q", ErrInvalidPhone, raw)
		}
		return ChannelPrefix + "+" + s[2:], nil

	case strings.HasPrefix(s, cc):
		national := s[len(cc):]
		if !validNational(national) {
			return "", fmt.Errorf("%w: %q", ErrInvalidPhone, raw)
		}
		return ChannelPrefix + "+" + s, nil

	case strings.HasPrefix(s, "0"):
		// 9 digits for landlines (0X-XXXXXXX), 10 for mobiles (05X-XXXXXXX).
		if len(s) != 9 && len(s) != 10 {
			return "", fmt.Errorf("%w: %q has %d digits", ErrInvalidPhone, raw, len(s))
		}
		return ChannelPrefix + "+" + cc + s[1:], nil
	}

	return "", fmt.Errorf("%w: %q", ErrInvalidPhone, raw)
}

// Normalize uses the default country code.
func Normalize(raw string) (string, error) {
	return New(DefaultCountryCode).Normalize(raw)
}

// E164 strips the channel prefix from an address.
func E164(address string) string {
	return stripChannelPrefix(strings.TrimSpace(address))
}

// LooksLikeLocalMobile reports whether free text starts like a local mobile number.
func LooksLikeLocalMobile(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), "05")
}

func stripChannelPrefix(s string) string {
	if len(s) >= len(ChannelPrefix) && strings.EqualFold(s[:len(ChannelPrefix)], ChannelPrefix) {
		return strings.TrimSpace(s[len(ChannelPrefix):])
	}
	return s
}

// clean keeps digits and a single leading '+'.
func clean(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsDigit(r) && r < unicode.MaxASCII:
			b.WriteRune(r)
		case r == '+' && b.Len() == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func validInternational(digits string) bool {
	if len(digits) < 8 || len(digits) > 15 {
		return false
	}
	return digits[0] != '0'
}

func validNational(digits string) bool {
	if len(digits) < 8 || len(digits) > 9 {
		return false
	}
	return digits[0] != '0'
}
