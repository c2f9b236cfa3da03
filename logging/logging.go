// Package logging provides the single structured logger every
// component in this server writes through, the way every teacher
// backend logs via the central fs.Logf/fs.Errorf rather than calling
// the log package directly. It wraps logrus so call sites log with
// request/session context as structured fields instead of formatting
// it into the message string by hand.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the shared entry point; New returns one configured the
// way this server wants lines to look (text formatter, RFC3339
// timestamps, level from config).
type Logger struct {
	*logrus.Logger
}

// New builds a Logger writing to os.Stderr at the given level. An
// unparseable level falls back to info, matching a permissive CLI
// default over a hard failure for a cosmetic flag.
func New(level string) *Logger {
	l := logrus.New()
	l.Out = os.Stderr
	l.Formatter = &logrus.TextFormatter{FullTimestamp: true}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	return &Logger{Logger: l}
}

// Session returns a child logger with this session's id bound as a
// field, so every line it emits is attributable without repeating
// "session=N" in every call site.
func (l *Logger) Session(id uint64) *logrus.Entry {
	return l.WithField("session", id)
}
