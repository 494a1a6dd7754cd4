package logger

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/natefinch/lumberjack"
	"github.com/sirupsen/logrus"
	"github.com/zsiec/moqplay/internal/config"
	"github.com/zsiec/moqplay/pkg/version"
)

// Logger is the structured logger the playback components write to. Field
// helpers return a derived Logger so call sites can scope a line without
// touching the base.
type Logger interface {
	WithFields(fields map[string]interface{}) Logger
	WithField(key string, value interface{}) Logger
	WithError(err error) Logger
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})
	Log(level logrus.Level, args ...interface{})
}

// entryLogger backs Logger with a logrus entry. The level methods are
// promoted from the entry.
type entryLogger struct {
	*logrus.Entry
}

// NewLogrusAdapter wraps entry as a Logger.
func NewLogrusAdapter(entry *logrus.Entry) Logger {
	return entryLogger{Entry: entry}
}

func (l entryLogger) WithFields(fields map[string]interface{}) Logger {
	return entryLogger{Entry: l.Entry.WithFields(fields)}
}

func (l entryLogger) WithField(key string, value interface{}) Logger {
	return entryLogger{Entry: l.Entry.WithField(key, value)}
}

func (l entryLogger) WithError(err error) Logger {
	return entryLogger{Entry: l.Entry.WithError(err)}
}

// ForComponent adapts a logrus logger into a Logger tagged with component.
func ForComponent(logger *logrus.Logger, component string) Logger {
	return NewLogrusAdapter(logger.WithField("component", component))
}

// New creates a new configured logger instance.
func New(cfg *config.LoggingConfig) (*logrus.Logger, error) {
	logger := logrus.New()

	// Set log level
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	logger.SetLevel(level)

	// Set formatter
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05.000",
			DisableColors:   false,
		})
	}

	// Set output
	switch cfg.Output {
	case "stdout":
		logger.SetOutput(os.Stdout)
	case "stderr":
		logger.SetOutput(os.Stderr)
	default:
		// File output with rotation
		// Ensure directory exists
		dir := filepath.Dir(cfg.Output)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		logger.SetOutput(&lumberjack.Logger{
			Filename:   cfg.Output,
			MaxSize:    cfg.MaxSize, // megabytes
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge, // days
			Compress:   true,
		})
	}

	logger.AddHook(&defaultFieldsHook{fields: logrus.Fields{
		"service": version.Product,
		"version": version.GetInfo().Short(),
	}})

	return logger, nil
}

// defaultFieldsHook stamps service-wide fields on every entry.
type defaultFieldsHook struct {
	fields logrus.Fields
}

func (h *defaultFieldsHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *defaultFieldsHook) Fire(entry *logrus.Entry) error {
	for k, v := range h.fields {
		if _, ok := entry.Data[k]; !ok {
			entry.Data[k] = v
		}
	}
	return nil
}
