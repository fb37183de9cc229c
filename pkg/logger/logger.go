package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"ledger-api/internal/config"
)

const timestampFormat = "2006-01-02T15:04:05.000Z"

var audit *logrus.Logger

// Init configures the process logger and the audit feed.
func Init(cfg config.LoggingConfig) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(formatter(cfg.Format))
	logrus.SetOutput(output(cfg))

	audit = newAuditLogger(cfg)
}

func formatter(format string) logrus.Formatter {
	switch format {
	case "text":
		return &logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: timestampFormat,
		}
	default:
		return &logrus.JSONFormatter{
			TimestampFormat: timestampFormat,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		}
	}
}

func output(cfg config.LoggingConfig) io.Writer {
	switch cfg.Output {
	case "file":
		if cfg.Filename != "" {
			return rotatingWriter(cfg.Filename, cfg, 1)
		}
	case "both":
		if cfg.Filename != "" {
			return io.MultiWriter(os.Stdout, rotatingWriter(cfg.Filename, cfg, 1))
		}
	}
	return os.Stdout
}

// rotatingWriter returns a size-rotated file writer. retention multiplies the
// configured age and backup limits; the audit feed keeps its files longer.
func rotatingWriter(filename string, cfg config.LoggingConfig, retention int) io.Writer {
	return &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    cfg.MaxSize,
		MaxAge:     cfg.MaxAge * retention,
		MaxBackups: cfg.MaxBackups * retention,
		Compress:   cfg.Compress,
	}
}

// Audit returns the money-movement audit logger. Every committed or blocked
// mutation is written here in addition to the process log, on a separate
// rotation schedule.
func Audit() *logrus.Logger {
	if audit == nil {
		audit = newAuditLogger(config.LoggingConfig{})
	}
	return audit
}

func newAuditLogger(cfg config.LoggingConfig) *logrus.Logger {
	feed := logrus.New()
	feed.SetLevel(logrus.InfoLevel)

	// The audit feed is always JSON regardless of the process log format.
	feed.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: timestampFormat,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})

	if cfg.EnableAudit && cfg.AuditFile != "" {
		feed.SetOutput(rotatingWriter(cfg.AuditFile, cfg, 2))
	} else {
		feed.SetOutput(os.Stdout)
	}

	return feed
}
