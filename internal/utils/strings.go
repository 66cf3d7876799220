package utils

import (
	"strings"
	"unicode"
)

// ToSnakeCase converts a CamelCase identifier to snake_case. A run of capitals is kept as one
// word, except for its last letter when it starts the next word: "NetOutput" -> "net_output",
// "HTTPServer" -> "http_server".
func ToSnakeCase(s string) string {
	runes := []rune(s)
	var sb strings.Builder
	sb.Grow(len(s) + 4)
	for i, r := range runes {
		if !unicode.IsUpper(r) {
			sb.WriteRune(r)
			continue
		}
		if i > 0 && runes[i-1] != '_' {
			prevUpper := unicode.IsUpper(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if !prevUpper || nextLower {
				sb.WriteByte('_')
			}
		}
		sb.WriteRune(unicode.ToLower(r))
	}
	return sb.String()
}
