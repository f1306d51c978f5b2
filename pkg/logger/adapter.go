package logger

import (
	"go.uber.org/zap"
)

// LoggerAdapter provides a unified interface for both single and multi-logger
type LoggerAdapter struct {
	multiLogger  *MultiLogger
	singleLogger *zap.Logger
}

// NewLoggerAdapter routes categories to multiLogger and everything else to general.
// multiLogger may be nil, in which case every category goes to general.
func NewLoggerAdapter(general *zap.Logger, multiLogger *MultiLogger) *LoggerAdapter {
	if general == nil {
		general = zap.NewNop()
	}
	return &LoggerAdapter{
		multiLogger:  multiLogger,
		singleLogger: general,
	}
}

// Access returns the HTTP access logger
func (la *LoggerAdapter) Access() *zap.Logger {
	if la.multiLogger != nil {
		return la.multiLogger.Access()
	}
	return la.singleLogger
}

// Queue returns the download lifecycle logger
func (la *LoggerAdapter) Queue() *zap.Logger {
	if la.multiLogger != nil {
		return la.multiLogger.Queue()
	}
	return la.singleLogger
}

// Error returns the error logger
func (la *LoggerAdapter) Error() *zap.Logger {
	if la.multiLogger != nil {
		return la.multiLogger.Error()
	}
	return la.singleLogger
}

// General returns the console logger
func (la *LoggerAdapter) General() *zap.Logger {
	return la.singleLogger
}

// LogError logs an error to the console and, when available, the error file
func (la *LoggerAdapter) LogError(msg string, fields ...zap.Field) {
	la.singleLogger.Error(msg, fields...)
	if la.multiLogger != nil {
		la.multiLogger.LogAppError(msg, fields...)
	}
}

// Sync flushes all loggers
func (la *LoggerAdapter) Sync() error {
	err := la.singleLogger.Sync()
	if la.multiLogger != nil {
		if merr := la.multiLogger.Sync(); merr != nil {
			return merr
		}
	}
	return err
}

// GetMultiLogger returns the underlying multi-logger (if available)
func (la *LoggerAdapter) GetMultiLogger() *MultiLogger {
	return la.multiLogger
}
