package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogCategory represents different log categories
type LogCategory string

const (
	CategoryQueue  LogCategory = "queue"  // Download lifecycle events (JSON)
	CategoryError  LogCategory = "error"  // Application errors (JSON)
	CategoryAccess LogCategory = "access" // HTTP requests (JSON)
)

// Categories lists every category with its own file
var Categories = []LogCategory{CategoryQueue, CategoryError, CategoryAccess}

type categoryLogger struct {
	logger *zap.Logger
	file   *os.File
	level  zapcore.Level
}

// MultiLogger writes each category to its own daily JSON file
type MultiLogger struct {
	loggers     map[LogCategory]*categoryLogger
	config      MultiLoggerConfig
	mu          sync.RWMutex
	currentDate string
	now         func() time.Time
}

// MultiLoggerConfig contains configuration for multi-output logging
type MultiLoggerConfig struct {
	Level   string // debug, info, warn, error
	LogsDir string // Directory for log files
}

// NewMultiLogger creates a new multi-output logger
func NewMultiLogger(config MultiLoggerConfig) (*MultiLogger, error) {
	if config.LogsDir == "" {
		return nil, fmt.Errorf("logs_dir must be specified")
	}

	if err := os.MkdirAll(config.LogsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create logs directory: %w", err)
	}

	ml := &MultiLogger{
		loggers: make(map[LogCategory]*categoryLogger),
		config:  config,
		now:     time.Now,
	}
	if err := ml.openAll(); err != nil {
		ml.Close()
		return nil, err
	}
	return ml, nil
}

func (ml *MultiLogger) levelFor(category LogCategory) zapcore.Level {
	if category == CategoryError {
		return zapcore.ErrorLevel
	}
	level, err := zapcore.ParseLevel(ml.config.Level)
	if err != nil {
		return zapcore.InfoLevel
	}
	return level
}

// openAll opens one file per category for the current date; callers hold mu or own ml exclusively
func (ml *MultiLogger) openAll() error {
	ml.currentDate = ml.now().Format("20060102")
	for _, category := range Categories {
		cl, err := ml.createStructuredLogger(category, ml.levelFor(category))
		if err != nil {
			return fmt.Errorf("failed to create %s logger: %w", category, err)
		}
		if old, ok := ml.loggers[category]; ok {
			old.logger.Sync()
			old.file.Close()
		}
		ml.loggers[category] = cl
	}
	return nil
}

// createStructuredLogger creates a JSON-formatted logger for a category
func (ml *MultiLogger) createStructuredLogger(category LogCategory, level zapcore.Level) (*categoryLogger, error) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "ts"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.MessageKey = "msg"
	encoderConfig.LevelKey = "level"
	encoderConfig.CallerKey = ""

	file, err := os.OpenFile(ml.getCategoryLogPath(category), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(file), level)
	return &categoryLogger{logger: zap.New(core), file: file, level: level}, nil
}

// getCategoryLogPath generates a log file path for a category with current date
func (ml *MultiLogger) getCategoryLogPath(category LogCategory) string {
	filename := fmt.Sprintf("%s-%s.log", category, ml.now().Format("20060102"))
	return filepath.Join(ml.config.LogsDir, filename)
}

// GetLogsDir returns the logs directory path
func (ml *MultiLogger) GetLogsDir() string {
	return ml.config.LogsDir
}

// rotateIfNeeded reopens every file once the date changes
func (ml *MultiLogger) rotateIfNeeded() {
	today := ml.now().Format("20060102")

	ml.mu.RLock()
	current := ml.currentDate
	ml.mu.RUnlock()
	if today == current {
		return
	}

	ml.mu.Lock()
	defer ml.mu.Unlock()
	if ml.currentDate == today {
		return
	}
	if err := ml.openAll(); err != nil {
		// Keep writing to yesterday's files rather than dropping entries
		fmt.Fprintf(os.Stderr, "log rotation failed: %v\n", err)
	}
}

// GetLogger returns the structured logger for a specific category
func (ml *MultiLogger) GetLogger(category LogCategory) *zap.Logger {
	ml.rotateIfNeeded()

	ml.mu.RLock()
	defer ml.mu.RUnlock()

	if cl, ok := ml.loggers[category]; ok {
		return cl.logger
	}

	// Return error logger as fallback
	if cl, ok := ml.loggers[CategoryError]; ok {
		return cl.logger
	}
	return zap.NewNop()
}

// Queue returns the download lifecycle logger
func (ml *MultiLogger) Queue() *zap.Logger {
	return ml.GetLogger(CategoryQueue)
}

// Error returns the error logger
func (ml *MultiLogger) Error() *zap.Logger {
	return ml.GetLogger(CategoryError)
}

// Access returns the HTTP access logger
func (ml *MultiLogger) Access() *zap.Logger {
	return ml.GetLogger(CategoryAccess)
}

// LogAppError logs an application-level error (Go errors, panics)
func (ml *MultiLogger) LogAppError(msg string, fields ...zap.Field) {
	ml.Error().Error(msg, fields...)
}

// LogQueueEvent logs a download lifecycle event with structured data
func (ml *MultiLogger) LogQueueEvent(event string, fields ...zap.Field) {
	ml.Queue().Info(event, fields...)
}

// Sync flushes all loggers
func (ml *MultiLogger) Sync() error {
	ml.mu.RLock()
	defer ml.mu.RUnlock()

	var lastErr error
	for _, cl := range ml.loggers {
		if err := cl.logger.Sync(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Close flushes and closes every category file
func (ml *MultiLogger) Close() error {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	var lastErr error
	for category, cl := range ml.loggers {
		cl.logger.Sync()
		if err := cl.file.Close(); err != nil {
			lastErr = err
		}
		delete(ml.loggers, category)
	}
	return lastErr
}
