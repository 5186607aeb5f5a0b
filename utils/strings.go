package utils

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// UpperCamelCase converts snake_case or dotted metric names to UpperCamelCase.
// Example: "event_bus.dropped_total" -> "EventBusDroppedTotal"
func UpperCamelCase(s string) string {
	s = strings.ReplaceAll(s, "_", " ")
	s = strings.ReplaceAll(s, ".", " ")
	c := cases.Title(language.English)
	s = c.String(s)
	return strings.ReplaceAll(s, " ", "")
}

// LowerCamelCase converts snake_case or dotted names to lowerCamelCase.
// Example: "dispose_failures" -> "disposeFailures"
func LowerCamelCase(s string) string {
	upper := UpperCamelCase(s)
	if len(upper) == 0 {
		return upper
	}
	return strings.ToLower(upper[:1]) + upper[1:]
}
