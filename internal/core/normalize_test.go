package core

import "testing"

func TestNormalizePostalCode(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"60876-672", "60876672"},
		{"60876672", "60876672"},
		{" 60.876-672 ", "60876672"},
		{"60 876\t672", "60876672"},
		{"", ""},
		{"ABC-12", "ABC12"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := NormalizePostalCode(tt.input); got != tt.want {
				t.Errorf("NormalizePostalCode(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestValidatePostalCode(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"60876-672", true},
		{"60876672", true},
		{"60.876.672", true},
		{"6087667", false},
		{"608766721", false},
		{"6087667A", false},
		{"", false},
		{"٦٠٨٧٦٦٧٢", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ValidatePostalCode(tt.input); got != tt.want {
				t.Errorf("ValidatePostalCode(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizeBuildingNumber(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{" 144 ", "144"},
		{"144A", "144A"},
		{"0144", "0144"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := NormalizeBuildingNumber(tt.input); got != tt.want {
			t.Errorf("NormalizeBuildingNumber(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestFormatPostalCode(t *testing.T) {
	if got := FormatPostalCode("60876672"); got != "60876-672" {
		t.Errorf("FormatPostalCode = %q, want 60876-672", got)
	}
	if got := FormatPostalCode("123"); got != "123" {
		t.Errorf("FormatPostalCode(invalid) = %q, want 123", got)
	}
}
