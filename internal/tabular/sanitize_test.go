package tabular

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeIdentifier(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"already clean", "amount", "amount"},
		{"uppercase lowered", "Region", "region"},
		{"spaces become underscore", "First Name", "first_name"},
		{"punctuation stripped", "First Name!", "first_name"},
		{"currency symbol stripped", "Amount (€)", "amount"},
		{"repeated separators collapse", "a  -  b", "a_b"},
		{"leading and trailing trimmed", "  _total_  ", "total"},
		{"digits kept", "q3 2024", "q3_2024"},
		{"all punctuation yields empty", "!!!", ""},
		{"empty input", "", ""},
		{"unicode replaced", "naïve", "na_ve"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeIdentifier(tt.in))
		})
	}
}

var identRe = regexp.MustCompile(`^[a-z0-9_]+$`)

func TestHeaderNamesUniqueAndValid(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{
			name: "plain headers",
			in:   []string{"Date", "Amount", "Region"},
			want: []string{"date", "amount", "region"},
		},
		{
			name: "empty header gets positional fallback",
			in:   []string{"a", "", "c"},
			want: []string{"a", "col_2", "c"},
		},
		{
			name: "duplicates get numeric suffix",
			in:   []string{"a", "a", "a"},
			want: []string{"a", "a_2", "a_3"},
		},
		{
			name: "suffix never collides with an existing column",
			in:   []string{"a_2", "a", "a"},
			want: []string{"a_2", "a", "a_3"},
		},
		{
			name: "sanitization collision",
			in:   []string{"First Name", "first-name"},
			want: []string{"first_name", "first_name_2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := headerNames(tt.in)
			assert.Equal(t, tt.want, got)

			seen := map[string]bool{}
			for _, n := range got {
				assert.Regexp(t, identRe, n)
				assert.False(t, seen[n], "duplicate name %q", n)
				seen[n] = true
			}
		})
	}
}
