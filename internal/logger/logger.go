package logger

import (
	"io"
	"log"
	"strings"
)

// Level selects which messages are emitted.
type Level int

const (
	LevelNone Level = iota
	LevelError
	LevelWarning
	LevelInfo
	LevelDebug
)

// ParseLevel maps a config string to a Level. Unknown values yield Info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "off":
		return LevelNone
	case "error":
		return LevelError
	case "warn", "warning":
		return LevelWarning
	case "debug":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// Logger is a leveled logger that prefixes every line with "[tag]".
type Logger struct {
	out   *log.Logger
	level Level
	tag   string
}

// New wraps out. A nil out discards everything, which tests rely on.
func New(out *log.Logger, level Level) *Logger {
	if out == nil {
		out = log.New(io.Discard, "", 0)
	}
	return &Logger{out: out, level: level}
}

// Nop returns a logger that drops all output.
func Nop() *Logger {
	return New(nil, LevelNone)
}

// WithTag returns a copy writing under a new tag.
func (l *Logger) WithTag(tag string) *Logger {
	return &Logger{out: l.out, level: l.level, tag: tag}
}

func (l *Logger) format(level, format string) string {
	var b strings.Builder
	if l.tag != "" {
		b.WriteString("[")
		b.WriteString(l.tag)
		b.WriteString("] ")
	}
	if level != "" {
		b.WriteString(level)
		b.WriteString(" ")
	}
	b.WriteString(format)
	return b.String()
}

func (l *Logger) Debugf(format string, v ...interface{}) {
	if l.level >= LevelDebug {
		l.out.Printf(l.format("DEBUG:", format), v...)
	}
}

func (l *Logger) Infof(format string, v ...interface{}) {
	if l.level >= LevelInfo {
		l.out.Printf(l.format("", format), v...)
	}
}

func (l *Logger) Warnf(format string, v ...interface{}) {
	if l.level >= LevelWarning {
		l.out.Printf(l.format("WARN:", format), v...)
	}
}

func (l *Logger) Errorf(format string, v ...interface{}) {
	if l.level >= LevelError {
		l.out.Printf(l.format("ERROR:", format), v...)
	}
}

func (l *Logger) Fatalf(format string, v ...interface{}) {
	l.out.Fatalf(l.format("FATAL:", format), v...)
}
