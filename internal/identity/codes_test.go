package identity

import (
	"strings"
	"testing"
)

func TestFallbackPersonalCode(t *testing.T) {
	cases := []struct {
		name string
		full string
		year int
		want string
	}{
		{"first name only", "Anna", 2025, "🏥ANNA2025"},
		{"first token wins", "Jan van der Berg", 2025, "🏥JAN2025"},
		{"non letters stripped", "An-na O'Neill", 2024, "🏥ANNA2024"},
		{"empty name", "   ", 2025, "🏥USER2025"},
		{"digits only", "1234", 2025, "🏥USER2025"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := FallbackPersonalCode(tc.full, tc.year)
			if got != tc.want {
				t.Fatalf("FallbackPersonalCode(%q, %d) = %q, want %q", tc.full, tc.year, got, tc.want)
			}
		})
	}
}

func TestFallbackPersonalCodeDeterministic(t *testing.T) {
	a := FallbackPersonalCode("Maria de Vries", 2025)
	b := FallbackPersonalCode("Maria de Vries", 2025)
	if a != b {
		t.Fatalf("same inputs produced %q and %q", a, b)
	}
}

func TestNewSessionToken(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tok, err := NewSessionToken()
		if err != nil {
			t.Fatalf("NewSessionToken: %v", err)
		}
		if len(tok) < 20 {
			t.Fatalf("token %q too short", tok)
		}
		if strings.ContainsAny(tok, "+/=") {
			t.Fatalf("token %q not URL safe", tok)
		}
		if seen[tok] {
			t.Fatalf("token %q repeated", tok)
		}
		seen[tok] = true
	}
}
