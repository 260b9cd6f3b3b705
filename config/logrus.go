package config

import (
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

var logg *logrus.Logger

// GetLogger returns the process logger. LOG_LEVEL takes any logrus level name and defaults
// to error; LOG_FORMAT=text switches from JSON lines to logfmt-style text for terminals.
func GetLogger() *logrus.Logger {
	return logg
}

func init() {
	// .env has to be loaded before LOG_LEVEL is read
	_ = godotenv.Load()
	logg = newLogger(os.Stdout, os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
}

func newLogger(out io.Writer, level, format string) *logrus.Logger {
	l := logrus.New()
	if strings.EqualFold(strings.TrimSpace(format), "text") {
		l.SetFormatter(&logrus.TextFormatter{DisableColors: true, FullTimestamp: true})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{})
	}
	l.SetLevel(parseLogLevel(level))
	l.SetOutput(out)
	return l
}

// parseLogLevel falls back to error level for empty or unknown values.
func parseLogLevel(raw string) logrus.Level {
	level, err := logrus.ParseLevel(strings.TrimSpace(raw))
	if err != nil {
		return logrus.ErrorLevel
	}
	return level
}

// LogError writes err with the module/funcName/context fields every flow logs under.
// data is left out when nil.
func LogError(logger *logrus.Logger, moduleName, funcName, context string, data any, err error) {
	fields := logrus.Fields{
		"module":   moduleName,
		"funcName": funcName,
		"context":  context,
	}
	if data != nil {
		fields["data"] = data
	}
	logger.WithFields(fields).Error(err.Error())
}
