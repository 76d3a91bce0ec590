// Package logging configures the process-wide logrus logger.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"bundlegraph/internal/config"
)

// Init applies cfg to logger and returns the writer it now logs to. Files
// are opened for append; the caller owns closing them.
func Init(logger *logrus.Logger, cfg config.LoggingConfig) io.Writer {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		logger.Warnf("Invalid log level '%s', using 'info' instead. Error: %v", cfg.Level, err)
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "", "stderr":
		output = os.Stderr
	case "stdout":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			logger.Warnf("Failed to open log file '%s', using 'stderr' instead. Error: %v", cfg.Output, err)
			output = os.Stderr
		} else {
			output = file
		}
	}
	logger.SetOutput(output)

	logger.WithFields(logrus.Fields{"level": level.String(), "format": cfg.Format}).Debug("Logger initialized")
	return output
}

// InitStandard configures logrus.StandardLogger.
func InitStandard(cfg config.LoggingConfig) io.Writer {
	return Init(logrus.StandardLogger(), cfg)
}
