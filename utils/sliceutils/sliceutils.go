package sliceutils

import "strings"

// RemoveDuplicates removes any duplicate entries from a list, keeping the
// first occurrence of each.
func RemoveDuplicates[T comparable](in []T) []T {
	seen := make(map[T]struct{}, len(in))
	out := make([]T, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// SplitList splits a comma separated flag value, dropping blank and
// repeated entries.
func SplitList(s string) []string {
	var parts []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			parts = append(parts, part)
		}
	}
	return RemoveDuplicates(parts)
}
