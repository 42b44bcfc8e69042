package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/punchamoorthee/stakeops/internal/config"
)

const timestampFormat = "2006-01-02T15:04:05.000Z07:00"

// Init configures the standard logrus logger and returns an entry tagged with
// the service name.
func Init(cfg config.LoggerConfig, service string) *logrus.Entry {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if cfg.Format == "text" {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: timestampFormat})
	} else {
		logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: timestampFormat})
	}

	logrus.SetOutput(output(cfg))
	return logrus.WithField("service", service)
}

func output(cfg config.LoggerConfig) io.Writer {
	if cfg.Filename == "" {
		return os.Stdout
	}
	switch cfg.Output {
	case "file":
		return fileWriter(cfg)
	case "both":
		return io.MultiWriter(os.Stdout, fileWriter(cfg))
	default:
		return os.Stdout
	}
}

// fileWriter rotates by size.
func fileWriter(cfg config.LoggerConfig) io.Writer {
	return &lumberjack.Logger{
		Filename:   cfg.Filename,
		MaxSize:    cfg.MaxSize,
		MaxAge:     cfg.MaxAge,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
	}
}
