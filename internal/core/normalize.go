package core

// normalize.go canonicalizes the two halves of the lookup key.
//
// The same functions run at ingestion (workbook parsing) and at query time.
// A key normalized differently on either side silently never matches, so all
// key handling in the repo goes through here.

import (
	"strings"
	"unicode"
)

// PostalCodeLength is the number of digits in a valid postal code (CEP).
const PostalCodeLength = 8

// NormalizePostalCode strips hyphens, periods, and all whitespace.
// It does not check that the remainder is numeric.
func NormalizePostalCode(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '-' || r == '.' || unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// ValidatePostalCode reports whether s normalizes to exactly eight ASCII digits.
// Only the query boundary uses it; ingestion accepts whatever the source holds.
func ValidatePostalCode(s string) bool {
	n := NormalizePostalCode(s)
	if len(n) != PostalCodeLength {
		return false
	}
	for i := 0; i < len(n); i++ {
		if n[i] < '0' || n[i] > '9' {
			return false
		}
	}
	return true
}

// NormalizeBuildingNumber trims surrounding whitespace. Building numbers may be
// alphanumeric ("144A") or carry leading zeros, and both are preserved.
func NormalizeBuildingNumber(s string) string {
	return strings.TrimSpace(s)
}

// FormatPostalCode renders a valid postal code as XXXXX-XXX.
// Anything that is not eight digits is returned in normalized form.
func FormatPostalCode(s string) string {
	n := NormalizePostalCode(s)
	if !ValidatePostalCode(n) {
		return n
	}
	return n[:5] + "-" + n[5:]
}
