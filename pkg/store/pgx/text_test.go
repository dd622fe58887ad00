package pgx

import "testing"

func TestSanitizeText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"chinese", "关于印发通知", "关于印发通知"},
		{"null byte", "国务\x00院", "国务院"},
		{"invalid utf8", string([]byte{'a', 0xff, 'b'}), "ab"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeText(tt.input); got != tt.want {
				t.Fatalf("sanitizeText(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestEscapeLike(t *testing.T) {
	if got := escapeLike(`50%_a\b`); got != `50\%\_a\\b` {
		t.Fatalf("escapeLike() = %q", got)
	}
}
