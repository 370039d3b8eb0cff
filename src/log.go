package samewatch

import (
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

// NewLogger builds the application logger at the configured level.
func NewLogger(level string) *log.Logger {
	var logger = log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "samewatch",
	})

	switch strings.ToLower(level) {
	case "debug":
		logger.SetLevel(log.DebugLevel)
	case "warn", "warning":
		logger.SetLevel(log.WarnLevel)
	case "error":
		logger.SetLevel(log.ErrorLevel)
	default:
		logger.SetLevel(log.InfoLevel)
	}

	return logger
}
