package log

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"firestige.xyz/defrag/internal/config"
)

type logrusLogger struct {
	base *logrus.Logger
	log  logrus.Ext1FieldLogger
}

func defaultLogger() Logger {
	base := logrus.New()
	base.SetOutput(os.Stdout)
	base.SetLevel(logrus.InfoLevel)
	return &logrusLogger{base: base, log: base}
}

func newLogrusLogger(cfg config.LogConfig) (Logger, error) {
	base := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	base.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		base.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("unsupported log format: %s (must be json or text)", cfg.Format)
	}

	var writers []io.Writer
	for i, output := range cfg.Outputs {
		w, err := createWriter(output)
		if err != nil {
			return nil, fmt.Errorf("failed to create output[%d] (%s): %w", i, output.Type, err)
		}
		writers = append(writers, w)
	}
	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}
	base.SetOutput(io.MultiWriter(writers...))

	return &logrusLogger{base: base, log: base}, nil
}

func createWriter(output config.OutputConfig) (io.Writer, error) {
	switch strings.ToLower(output.Type) {
	case "console", "stdout":
		return os.Stdout, nil

	case "file":
		if output.Path == "" {
			return nil, fmt.Errorf("file output requires 'path' field")
		}
		return &lumberjack.Logger{
			Filename:   output.Path,
			MaxSize:    output.MaxSizeMB,
			MaxBackups: output.MaxBackups,
			MaxAge:     output.MaxAgeDays,
			Compress:   output.Compress,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported output type: %s", output.Type)
	}
}

func (l *logrusLogger) Print(args ...interface{}) {
	l.log.Print(args...)
}

func (l *logrusLogger) Printf(format string, args ...interface{}) {
	l.log.Printf(format, args...)
}

func (l *logrusLogger) Trace(args ...interface{}) {
	l.log.Trace(args...)
}

func (l *logrusLogger) Tracef(format string, args ...interface{}) {
	l.log.Tracef(format, args...)
}

func (l *logrusLogger) Debug(args ...interface{}) {
	l.log.Debug(args...)
}

func (l *logrusLogger) Debugf(format string, args ...interface{}) {
	l.log.Debugf(format, args...)
}

func (l *logrusLogger) Info(args ...interface{}) {
	l.log.Info(args...)
}

func (l *logrusLogger) Infof(format string, args ...interface{}) {
	l.log.Infof(format, args...)
}

func (l *logrusLogger) Warn(args ...interface{}) {
	l.log.Warn(args...)
}

func (l *logrusLogger) Warnf(format string, args ...interface{}) {
	l.log.Warnf(format, args...)
}

func (l *logrusLogger) Error(args ...interface{}) {
	l.log.Error(args...)
}

func (l *logrusLogger) Errorf(format string, args ...interface{}) {
	l.log.Errorf(format, args...)
}

func (l *logrusLogger) Fatal(args ...interface{}) {
	l.log.Fatal(args...)
}

func (l *logrusLogger) Fatalf(format string, args ...interface{}) {
	l.log.Fatalf(format, args...)
}

func (l *logrusLogger) Panic(args ...interface{}) {
	l.log.Panic(args...)
}

func (l *logrusLogger) Panicf(format string, args ...interface{}) {
	l.log.Panicf(format, args...)
}

func (l *logrusLogger) WithField(field string, value interface{}) Logger {
	return &logrusLogger{base: l.base, log: l.log.WithField(field, value)}
}

func (l *logrusLogger) WithFields(fields map[string]interface{}) Logger {
	return &logrusLogger{base: l.base, log: l.log.WithFields(logrus.Fields(fields))}
}

func (l *logrusLogger) WithError(err error) Logger {
	return &logrusLogger{base: l.base, log: l.log.WithError(err)}
}

func (l *logrusLogger) IsTraceEnabled() bool {
	return l.base.IsLevelEnabled(logrus.TraceLevel)
}

func (l *logrusLogger) IsDebugEnabled() bool {
	return l.base.IsLevelEnabled(logrus.DebugLevel)
}

func (l *logrusLogger) IsInfoEnabled() bool {
	return l.base.IsLevelEnabled(logrus.InfoLevel)
}
