package clients

import (
	"fmt"
	"log/slog"

	"github.com/go-resty/resty/v2"
)

// SlogAdapter forwards resty's log output to a slog.Logger
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a resty.Logger backed by logger
func NewSlogAdapter(logger *slog.Logger) resty.Logger {
	return &SlogAdapter{logger: logger}
}

// Errorf logs a message at error level.
func (a *SlogAdapter) Errorf(format string, v ...interface{}) {
	a.logger.Error(fmt.Sprintf(format, v...), "component", "resty")
}

// Warnf logs a message at warning level.
func (a *SlogAdapter) Warnf(format string, v ...interface{}) {
	a.logger.Warn(fmt.Sprintf(format, v...), "component", "resty")
}

// Debugf logs a message at debug level.
func (a *SlogAdapter) Debugf(format string, v ...interface{}) {
	a.logger.Debug(fmt.Sprintf(format, v...), "component", "resty")
}
