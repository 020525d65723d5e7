package merchant

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected string
	}{
		{
			name:     "case folding and whitespace collapse",
			raw:      "  NETFLIX   Subscription  ",
			expected: "netflix subscription",
		},
		{
			name:     "trailing reference code stripped",
			raw:      "NETFLIX.COM 8882099918",
			expected: "netflix",
		},
		{
			name:     "hash-prefixed store number stripped",
			raw:      "WALMART #3521",
			expected: "walmart",
		},
		{
			name:     "domain suffix stripped",
			raw:      "Netflix.com",
			expected: "netflix",
		},
		{
			name:     "state suffix stripped after reference code",
			raw:      "NETFLIX   8882099918 CA",
			expected: "netflix",
		},
		{
			name:     "city and state suffix",
			raw:      "STARBUCKS STORE 10214 SEATTLE WA",
			expected: "starbucks store seattle",
		},
		{
			name:     "processor prefixes stripped",
			raw:      "POS DEBIT PURCHASE TRADER JOES",
			expected: "trader joes",
		},
		{
			name:     "embedded amount stripped",
			raw:      "SPOTIFY $9.99 RECURRING",
			expected: "spotify recurring",
		},
		{
			name:     "square prefix with asterisk",
			raw:      "SQ *BLUE BOTTLE COFFEE",
			expected: "blue bottle coffee",
		},
		{
			name:     "empty input",
			raw:      "",
			expected: "",
		},
		{
			name:     "whitespace only",
			raw:      "   \t  ",
			expected: "",
		},
		{
			name:     "digits only collapses to empty",
			raw:      "4432 9910 1234",
			expected: "",
		},
		{
			name:     "short digit runs survive",
			raw:      "7-11 STORE 42",
			expected: "7-11 store 42",
		},
		{
			name:     "leading street number stripped",
			raw:      "1234 MAIN ST CAFE",
			expected: "main st cafe",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Normalize(tt.raw))
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	samples := []string{
		"NETFLIX.COM 8882099918",
		"Netflix.com",
		"NETFLIX   8882099918 CA",
		"POS DEBIT PURCHASE TRADER JOES SAN FRANCISCO CA",
		"SQ *BLUE BOTTLE COFFEE #441 OAKLAND CA",
		"ACME CORP PAYROLL 000123456",
		"WALMART #3521",
		"",
		"   ",
		strings.Repeat("VERY LONG MERCHANT NAME ", 20),
		"BOSTON MA CA", // stacked state suffixes
	}

	for _, raw := range samples {
		once := Normalize(raw)
		twice := Normalize(once)
		assert.Equal(t, once, twice, "normalize must be idempotent for %q", raw)
	}
}

func TestNormalizeLengthCap(t *testing.T) {
	long := strings.Repeat("supercalifragilistic ", 10)
	got := Normalize(long)
	assert.LessOrEqual(t, len(got), MaxCanonicalLength)
	assert.NotEmpty(t, got)

	// An oversized single token with a multibyte rune straddling the cap must
	// truncate on a rune boundary, never mid-rune.
	multibyte := strings.Repeat("a", MaxCanonicalLength-1) + "étail"
	got = Normalize(multibyte)
	assert.True(t, utf8.ValidString(got), "truncation must not split a rune")
	assert.LessOrEqual(t, len(got), MaxCanonicalLength)
	assert.NotEmpty(t, got)
	assert.Equal(t, got, Normalize(got))
}
