package core

import (
	"strconv"
	"strings"
)

// CleanString trims all leading and trailing whitespace in `s` and optionally lowers it.
func CleanString(s string, lower ...bool) string {
	s = strings.TrimSpace(s)
	if len(lower) > 0 && lower[0] {
		return strings.ToLower(s)
	}
	return s
}

// ParseBool is a lenient bool parser for CSV cells: "", "no", "n" are false; "yes", "y" are true.
func ParseBool(s string) (bool, error) {
	switch CleanString(s, true /* lower */) {
	case "", "no", "n":
		return false, nil
	case "yes", "y":
		return true, nil
	}
	return strconv.ParseBool(CleanString(s))
}

func BoolPtr(b bool) *bool { return &b }
