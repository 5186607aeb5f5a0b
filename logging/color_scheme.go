package logging

import (
	"net/http"
	"strings"
	"time"
)

// ColorScheme maps semantic elements of an access log line to colors.
type ColorScheme interface {
	// StatusColor returns the color for an HTTP status code.
	StatusColor(code int) Color
	// MethodColor returns the color for an HTTP method.
	MethodColor(method string) Color
	// DurationColor returns the color based on request duration.
	DurationColor(d time.Duration) Color
	// LevelColor returns the color for a log level.
	LevelColor(level string) Color
}

// DefaultColorScheme provides configurable color mappings. Zero-valued fields
// fall back to the defaults from NewDefaultColorScheme.
type DefaultColorScheme struct {
	Status2xx Color
	Status3xx Color
	Status4xx Color
	Status5xx Color

	MethodGET    Color
	MethodPOST   Color
	MethodPUT    Color
	MethodDELETE Color
	MethodOther  Color

	DurationFast          Color
	DurationMedium        Color
	DurationSlow          Color
	DurationFastThreshold time.Duration
	DurationSlowThreshold time.Duration

	LevelDebug Color
	LevelInfo  Color
	LevelWarn  Color
	LevelError Color
	LevelFatal Color
}

// NewDefaultColorScheme returns a scheme with sensible defaults.
func NewDefaultColorScheme() *DefaultColorScheme {
	return &DefaultColorScheme{
		Status2xx: Green,
		Status3xx: Cyan,
		Status4xx: Yellow,
		Status5xx: Red,

		MethodGET:    Blue,
		MethodPOST:   Cyan,
		MethodPUT:    Yellow,
		MethodDELETE: Red,
		MethodOther:  Gray,

		DurationFast:          Green,
		DurationMedium:        Yellow,
		DurationSlow:          Red,
		DurationFastThreshold: 100 * time.Millisecond,
		DurationSlowThreshold: 500 * time.Millisecond,

		LevelDebug: Gray,
		LevelInfo:  Green,
		LevelWarn:  BoldYellow,
		LevelError: BoldRed,
		LevelFatal: BoldRed,
	}
}

// StatusColor implements ColorScheme.
func (s *DefaultColorScheme) StatusColor(code int) Color {
	switch {
	case code >= http.StatusInternalServerError:
		return s.withDefault(s.Status5xx, Red)
	case code >= http.StatusBadRequest:
		return s.withDefault(s.Status4xx, Yellow)
	case code >= http.StatusMultipleChoices:
		return s.withDefault(s.Status3xx, Cyan)
	default:
		return s.withDefault(s.Status2xx, Green)
	}
}

// MethodColor implements ColorScheme.
func (s *DefaultColorScheme) MethodColor(method string) Color {
	switch method {
	case http.MethodGet:
		return s.withDefault(s.MethodGET, Blue)
	case http.MethodPost:
		return s.withDefault(s.MethodPOST, Cyan)
	case http.MethodPut:
		return s.withDefault(s.MethodPUT, Yellow)
	case http.MethodDelete:
		return s.withDefault(s.MethodDELETE, Red)
	default:
		return s.withDefault(s.MethodOther, Gray)
	}
}

// DurationColor implements ColorScheme.
func (s *DefaultColorScheme) DurationColor(d time.Duration) Color {
	fast := s.DurationFastThreshold
	if fast == 0 {
		fast = 100 * time.Millisecond
	}
	slow := s.DurationSlowThreshold
	if slow == 0 {
		slow = 500 * time.Millisecond
	}

	switch {
	case d < fast:
		return s.withDefault(s.DurationFast, Green)
	case d < slow:
		return s.withDefault(s.DurationMedium, Yellow)
	default:
		return s.withDefault(s.DurationSlow, Red)
	}
}

// LevelColor implements ColorScheme.
func (s *DefaultColorScheme) LevelColor(level string) Color {
	switch strings.ToLower(level) {
	case "debug":
		return s.withDefault(s.LevelDebug, Gray)
	case "info":
		return s.withDefault(s.LevelInfo, Green)
	case "warn":
		return s.withDefault(s.LevelWarn, BoldYellow)
	case "error":
		return s.withDefault(s.LevelError, BoldRed)
	case "fatal":
		return s.withDefault(s.LevelFatal, BoldRed)
	default:
		return Default
	}
}

func (s *DefaultColorScheme) withDefault(value, defaultValue Color) Color {
	if value == "" {
		return defaultValue
	}
	return value
}

var _ ColorScheme = (*DefaultColorScheme)(nil)
