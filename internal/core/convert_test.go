package core

import "testing"

func TestCleanCell(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"", ""},
		{"  FORTALEZA  ", "FORTALEZA"},
		{" VIAVEL ", "VIAVEL"},
		{`="00144"`, "00144"},
		{`=" 12 "`, "12"},
		{`="`, `="`},
		{"144A", "144A"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := CleanCell(tt.input); got != tt.want {
				t.Errorf("CleanCell(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseHomesPassed(t *testing.T) {
	tests := []struct {
		input string
		want  int
	}{
		{"", 0},
		{"12", 12},
		{" 7 ", 7},
		{"3.9", 3},
		{"1e2", 100},
		{"-4", 0},
		{"-4.5", 0},
		{"abc", 0},
		{"NaN", 0},
		{"1,234", 0},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseHomesPassed(tt.input); got != tt.want {
				t.Errorf("ParseHomesPassed(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestIsEmptyRow(t *testing.T) {
	if !isEmptyRow(nil) {
		t.Error("nil row should be empty")
	}
	if !isEmptyRow([]string{"", ""}) {
		t.Error("all-blank row should be empty")
	}
	if isEmptyRow([]string{"", "x"}) {
		t.Error("row with a value should not be empty")
	}
}
