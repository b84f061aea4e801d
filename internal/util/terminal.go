package util

import (
	"os"

	"golang.org/x/term"
)

// IsTerminal checks if the given file descriptor is a terminal
func IsTerminal(fd uintptr) bool {
	return term.IsTerminal(int(fd))
}

// ShowProgress reports whether progress bars should be drawn on stderr
func ShowProgress() bool {
	return !IsQuiet() && IsTerminal(os.Stderr.Fd())
}

// TerminalWidth returns the width of stderr, or 80 if it is not a terminal
func TerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stderr.Fd()))
	if err != nil || width <= 0 {
		return 80
	}
	return width
}
