package utils

// ContainsString returns true iff the provided string slice hay contains string
// needle.
func ContainsString(hay []string, needle string) bool {
	for _, str := range hay {
		if str == needle {
			return true
		}
	}
	return false
}

// Min returns the smaller of a and b.
func Min(a int, b int) int {
	if a < b {
		return a
	}
	return b
}

// TruncateString returns the first limit runes of s. Multi-byte characters are
// never cut in half.
func TruncateString(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
