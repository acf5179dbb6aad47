//go:build !tinygo

package log

import (
	"io"

	"github.com/sirupsen/logrus"
)

type (
	Logger = logrus.FieldLogger
	Fields = logrus.Fields
)

// New returns the logger of a component
func New(component string) Logger {
	return logrus.WithField("component", component)
}

// SetDebug switches between debug and info level
func SetDebug(debug bool) {
	if debug {
		logrus.SetLevel(logrus.DebugLevel)
		return
	}
	logrus.SetLevel(logrus.InfoLevel)
}

func SetOutput(w io.Writer) {
	logrus.SetOutput(w)
}
