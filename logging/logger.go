// Package logging builds the process logger.
package logging

import (
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// appNameHook prefixes every message with the application name.
type appNameHook struct {
	appName string
}

func (h *appNameHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *appNameHook) Fire(entry *logrus.Entry) error {
	entry.Message = "[" + h.appName + "] " + entry.Message
	return nil
}

// New returns a text logger writing to out at the given level. An unknown
// level falls back to info, with a warning on the new logger.
func New(out io.Writer, level, appName string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	if appName != "" {
		logger.AddHook(&appNameHook{appName: appName})
	}

	name := strings.ToLower(strings.TrimSpace(level))
	if name == "" {
		name = "info"
	}
	lvl, err := logrus.ParseLevel(name)
	if err != nil {
		logger.SetLevel(logrus.InfoLevel)
		logger.Warnf("Invalid log level %q, defaulting to INFO", level)
		return logger
	}
	logger.SetLevel(lvl)
	return logger
}
