package util

import "strings"

// SplitCommaSeparated splits a comma-separated string and trims whitespace from each element.
// Empty input returns nil.
func SplitCommaSeparated(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// AddToList adds a value to a space-separated list (UCI list option style)
// if not already present.
func AddToList(list, value string) string {
	fields := strings.Fields(list)
	for _, f := range fields {
		if f == value {
			return strings.Join(fields, " ")
		}
	}
	return strings.Join(append(fields, value), " ")
}

// RemoveFromList removes every occurrence of value from a space-separated list.
func RemoveFromList(list, value string) string {
	var result []string
	for _, f := range strings.Fields(list) {
		if f != value {
			result = append(result, f)
		}
	}
	return strings.Join(result, " ")
}

// ShellQuote wraps s in single quotes, escaping any embedded single quotes.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "'\\''") + "'"
}
