// Package logging holds the process-wide logrus logger.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	mu  sync.Mutex
	log *logrus.Logger
)

// Init initializes the logger. An unknown level falls back to info. With
// console off and no file, log output is discarded.
func Init(level, logFile string, console bool) error {
	l := logrus.New()

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)

	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	var writers []io.Writer
	if console {
		writers = append(writers, os.Stderr)
	}
	if logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
			return err
		}
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		writers = append(writers, file)
	}
	if len(writers) > 0 {
		l.SetOutput(io.MultiWriter(writers...))
	} else {
		l.SetOutput(io.Discard)
	}

	mu.Lock()
	log = l
	mu.Unlock()
	return nil
}

// Get returns the logger instance.
func Get() *logrus.Logger {
	mu.Lock()
	defer mu.Unlock()
	if log == nil {
		log = logrus.New()
	}
	return log
}

// WithComponent returns an entry tagged with the component name, the way
// every package identifies its log lines.
func WithComponent(name string) *logrus.Entry {
	return Get().WithField("component", name)
}
