package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// -----------------------------------------------------------------------------

var base = newBase(os.Stdout)

func newBase(out io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetLevel sets the level shared by every named logger. Unknown names fall
// back to info.
func SetLevel(level string) {
	lvl, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	base.SetLevel(lvl)
}

// SetOutput redirects every named logger.
func SetOutput(out io.Writer) {
	base.SetOutput(out)
}

// IsDebug reports whether debug output is enabled.
func IsDebug() bool {
	return base.IsLevelEnabled(logrus.DebugLevel)
}

// -----------------------------------------------------------------------------

// Logger is a named component logger.
type Logger struct {
	name  string
	entry *logrus.Entry
}

// New returns a logger tagged with the component name.
func New(name string) *Logger {
	return &Logger{
		name:  name,
		entry: base.WithField("component", name),
	}
}

// WithFields returns a logger carrying extra structured context.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return &Logger{
		name:  l.name,
		entry: l.entry.WithFields(logrus.Fields(fields)),
	}
}

// -----------------------------------------------------------------------------

func (l *Logger) Debug(format string, args ...interface{}) {
	l.entry.Debug(fmt.Sprintf(format, args...))
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.entry.Info(fmt.Sprintf(format, args...))
}

func (l *Logger) Warning(format string, args ...interface{}) {
	l.entry.Warn(fmt.Sprintf(format, args...))
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.entry.Error(fmt.Sprintf(format, args...))
}

// Critical logs and exits the process.
func (l *Logger) Critical(format string, args ...interface{}) {
	l.entry.Error(fmt.Sprintf(format, args...))
	os.Exit(1)
}
