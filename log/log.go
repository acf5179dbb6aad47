// Package log is the logger used by the packages that also run on the board. On a host it is
// logrus. TinyGo builds get PrintLogger instead, which writes logfmt lines without logrus and its
// terminal detection
package log

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "debug"
	case WarnLevel:
		return "warning"
	case ErrorLevel:
		return "error"
	default:
		fallthrough
	case InfoLevel:
		return "info"
	}
}

type output struct {
	mu    sync.Mutex
	w     io.Writer
	level Level
}

// PrintLogger writes one "level=info msg=... key=value" line per entry. Loggers derived with
// WithField share the output and level of their parent
type PrintLogger struct {
	out    *output
	fields []string
}

func NewPrintLogger(w io.Writer, level Level) *PrintLogger {
	return &PrintLogger{out: &output{w: w, level: level}}
}

func (l *PrintLogger) SetLevel(level Level) {
	l.out.mu.Lock()
	l.out.level = level
	l.out.mu.Unlock()
}

func (l *PrintLogger) SetOutput(w io.Writer) {
	l.out.mu.Lock()
	l.out.w = w
	l.out.mu.Unlock()
}

func (l *PrintLogger) WithField(key string, value any) *PrintLogger {
	fields := make([]string, len(l.fields), len(l.fields)+1)
	copy(fields, l.fields)
	return &PrintLogger{
		out:    l.out,
		fields: append(fields, key+"="+formatValue(value)),
	}
}

// WithFields adds the fields sorted by key
func (l *PrintLogger) WithFields(fields map[string]any) *PrintLogger {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := l
	for _, k := range keys {
		result = result.WithField(k, fields[k])
	}
	return result
}

func (l *PrintLogger) Debug(args ...any) { l.log(DebugLevel, fmt.Sprint(args...)) }
func (l *PrintLogger) Info(args ...any)  { l.log(InfoLevel, fmt.Sprint(args...)) }
func (l *PrintLogger) Warn(args ...any)  { l.log(WarnLevel, fmt.Sprint(args...)) }
func (l *PrintLogger) Error(args ...any) { l.log(ErrorLevel, fmt.Sprint(args...)) }

func (l *PrintLogger) Debugf(format string, args ...any) {
	l.log(DebugLevel, fmt.Sprintf(format, args...))
}

func (l *PrintLogger) Infof(format string, args ...any) {
	l.log(InfoLevel, fmt.Sprintf(format, args...))
}

func (l *PrintLogger) Warnf(format string, args ...any) {
	l.log(WarnLevel, fmt.Sprintf(format, args...))
}

func (l *PrintLogger) Errorf(format string, args ...any) {
	l.log(ErrorLevel, fmt.Sprintf(format, args...))
}

func (l *PrintLogger) log(level Level, msg string) {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()

	if level < l.out.level || l.out.w == nil {
		return
	}

	var b strings.Builder
	b.WriteString("level=")
	b.WriteString(level.String())
	b.WriteString(" msg=")
	b.WriteString(formatValue(msg))
	for _, f := range l.fields {
		b.WriteByte(' ')
		b.WriteString(f)
	}
	b.WriteByte('\n')

	_, _ = io.WriteString(l.out.w, b.String())
}

// formatValue quotes values with spaces or quotes in them
func formatValue(v any) string {
	s := fmt.Sprint(v)
	if s == "" || strings.ContainsAny(s, " \"=") {
		return fmt.Sprintf("%q", s)
	}
	return s
}
