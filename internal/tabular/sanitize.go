package tabular

import (
	"fmt"
	"strings"
)

// SanitizeIdentifier reduces raw text to a safe SQL identifier:
// lowercase, restricted to [a-z0-9_], runs of replaced characters
// collapsed to a single underscore, leading/trailing underscores trimmed.
// The result may be empty; callers supply a positional fallback.
func SanitizeIdentifier(raw string) string {
	raw = strings.TrimSpace(strings.ToLower(raw))

	var b strings.Builder
	b.Grow(len(raw))
	lastUnderscore := false
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}

	return strings.Trim(b.String(), "_")
}

// headerNames sanitizes raw header tokens into unique column names.
// Empty results fall back to a positional name (col_1, col_2, ...);
// collisions get a numeric suffix (_2, _3, ...).
func headerNames(raw []string) []string {
	names := make([]string, len(raw))
	seen := make(map[string]int, len(raw))

	for i, h := range raw {
		name := SanitizeIdentifier(h)
		if name == "" {
			name = fmt.Sprintf("col_%d", i+1)
		}
		base := name
		for n := seen[base]; ; n++ {
			if n > 0 {
				name = fmt.Sprintf("%s_%d", base, n+1)
			}
			if _, taken := seen[name]; !taken {
				seen[base] = n + 1
				break
			}
		}
		seen[name] = max(seen[name], 1)
		names[i] = name
	}

	return names
}
