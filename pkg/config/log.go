package config

import (
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	loggersMu sync.Mutex
	loggers   = map[string]*logrus.Logger{}
	logLevel  = logrus.InfoLevel
)

// NamedLogger returns the package logger registered under name, creating it
// on first use.
func NamedLogger(name string) *logrus.Logger {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	if l, ok := loggers[name]; ok {
		return l
	}
	l := &logrus.Logger{
		Out: os.Stderr,
		Formatter: &NamedTextFormatter{
			Name: name,
			TextFormatter: logrus.TextFormatter{
				FullTimestamp: true,
			},
		},
		Hooks: make(logrus.LevelHooks),
		Level: logLevel,
	}
	loggers[name] = l
	return l
}

// SetLogLevel applies level to every named logger, including ones created later.
func SetLogLevel(level logrus.Level) {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	logLevel = level
	for _, l := range loggers {
		l.SetLevel(level)
	}
}

// ApplyLogging sets the log level described by the output section.
func (c *Config) ApplyLogging() error {
	if c.Output.Verbose {
		SetLogLevel(logrus.DebugLevel)
		return nil
	}
	level, err := logrus.ParseLevel(c.Output.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.Output.LogLevel, err)
	}
	SetLogLevel(level)
	return nil
}

// NamedTextFormatter prefixes each message with the logger name
type NamedTextFormatter struct {
	logrus.TextFormatter
	Name string
}

// Format renders a single log entry
func (f *NamedTextFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	entry.Message = fmt.Sprintf("[%s] %s", f.Name, entry.Message)
	return f.TextFormatter.Format(entry)
}
