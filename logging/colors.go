package logging

import "fmt"

// Color represents a terminal ANSI color escape code.
type Color = string

// Reset code
const (
	Reset Color = "\033[0m"
)

// Foreground colors
const (
	Black   Color = "\033[30m"
	Red     Color = "\033[31m"
	Green   Color = "\033[32m"
	Yellow  Color = "\033[33m"
	Blue    Color = "\033[34m"
	Purple  Color = "\033[35m"
	Cyan    Color = "\033[36m"
	White   Color = "\033[37m"
	Gray    Color = "\033[90m"
	Default Color = "\033[39m"
)

// Bold foreground colors
const (
	BoldRed    Color = "\033[1;31m"
	BoldYellow Color = "\033[1;33m"
	BoldWhite  Color = "\033[1;37m"
)

// Colorize wraps text with the given color and reset code.
func Colorize(color Color, text string) string {
	return color + text + Reset
}

// Colorizef wraps formatted text with the given color.
func Colorizef(color Color, format string, args ...any) string {
	return color + fmt.Sprintf(format, args...) + Reset
}
