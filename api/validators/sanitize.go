package validators

import "strings"

// SanitizeString trims input and cuts it to at most maxLen runes. A
// non-positive maxLen disables the cut.
func SanitizeString(input string, maxLen int) string {
	trimmed := strings.TrimSpace(input)
	if maxLen <= 0 {
		return trimmed
	}
	runes := []rune(trimmed)
	if len(runes) > maxLen {
		return strings.TrimSpace(string(runes[:maxLen]))
	}
	return trimmed
}

// OptionalString sanitizes a nullable free-text field, returning nil when
// nothing remains.
func OptionalString(input *string, maxLen int) *string {
	if input == nil {
		return nil
	}
	out := SanitizeString(*input, maxLen)
	if out == "" {
		return nil
	}
	return &out
}
