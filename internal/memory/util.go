package memory

import "strings"

func normalizeForSearch(s string) string {
	return strings.ToLower(s)
}

func containsFold(haystack, needleLower string) bool {
	return strings.Contains(haystack, needleLower)
}
