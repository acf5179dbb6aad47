//go:build tinygo

package log

import (
	"io"
	"os"
)

type (
	Logger = *PrintLogger
	Fields = map[string]any
)

var std = NewPrintLogger(os.Stdout, InfoLevel)

// New returns the logger of a component
func New(component string) Logger {
	return std.WithField("component", component)
}

// SetDebug switches between debug and info level
func SetDebug(debug bool) {
	if debug {
		std.SetLevel(DebugLevel)
		return
	}
	std.SetLevel(InfoLevel)
}

func SetOutput(w io.Writer) {
	std.SetOutput(w)
}
