package core

// convert.go turns raw workbook cell strings into typed record fields.

import (
	"math"
	"strconv"
	"strings"
)

// CleanCell trims surrounding whitespace (including non-breaking spaces) and
// unwraps the ="..." form spreadsheets use to force text cells.
func CleanCell(s string) string {
	s = strings.TrimFunc(s, isCellSpace)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") && len(s) >= 3 {
		s = strings.TrimFunc(s[2:len(s)-1], isCellSpace)
	}

	return s
}

func isCellSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '\v', '\f', '\u00a0', '\u200b', '\ufeff':
		return true
	}
	return false
}

// optional returns nil for empty strings.
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// isEmptyRow reports whether every cell is blank after cleaning.
func isEmptyRow(cells []string) bool {
	for _, c := range cells {
		if c != "" {
			return false
		}
	}
	return true
}

// ParseHomesPassed converts a TOTAL_HPS cell to a non-negative count.
// Integers and decimals are accepted (decimals truncate); anything else,
// including negatives, is 0.
func ParseHomesPassed(s string) int {
	s = CleanCell(s)
	if s == "" {
		return 0
	}
	if n, err := strconv.Atoi(s); err == nil {
		return max(n, 0)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0
	}
	if f > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(f)
}
