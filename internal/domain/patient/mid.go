package patient

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// MID format: "MM", 11 random digits, one Luhn check digit.
const (
	midPrefix     = "MM"
	midBodyDigits = 11
	midLength     = len(midPrefix) + midBodyDigits + 1
)

// NewMID mints a random MID.
func NewMID() (string, error) {
	var b strings.Builder
	b.Grow(midBodyDigits)
	ten := big.NewInt(10)
	for i := 0; i < midBodyDigits; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("generate mid: %w", err)
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	body := b.String()
	return midPrefix + body + string(luhnCheckDigit(body)), nil
}

// NormalizeMID upper-cases and strips spaces and dashes.
func NormalizeMID(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "", "-", "").Replace(s)
}

// ValidMID checks shape and check digit.
func ValidMID(mid string) bool {
	if len(mid) != midLength || !strings.HasPrefix(mid, midPrefix) {
		return false
	}
	digits := mid[len(midPrefix):]
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	body, check := digits[:midBodyDigits], digits[midBodyDigits]
	return luhnCheckDigit(body) == check
}

// luhnCheckDigit computes the digit that makes body+digit pass Luhn.
func luhnCheckDigit(body string) byte {
	sum := 0
	double := true
	for i := len(body) - 1; i >= 0; i-- {
		d := int(body[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return byte('0' + (10-sum%10)%10)
}
