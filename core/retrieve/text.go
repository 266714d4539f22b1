package retrieve

import "strings"

// ComposeEmbeddingText joins description parts into the canonical text a
// vector is computed from: lowercased, whitespace-collapsed, empty parts
// skipped. The same segment description always yields the same text, so
// re-embedding is stable.
func ComposeEmbeddingText(parts ...string) string {
	fields := make([]string, 0, len(parts))
	for _, part := range parts {
		tokens := strings.Fields(strings.ToLower(part))
		fields = append(fields, tokens...)
	}
	return strings.Join(fields, " ")
}
