package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Options configures the process-wide logger.
type Options struct {
	// Level is one of debug, info, warn, error (case-insensitive).
	Level string
	// File, if set, receives a copy of every line with size-based rotation.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

var (
	logger     *logrus.Logger
	loggerOnce sync.Once
)

// initLogger initializes the global logger to write to stderr with timestamps.
func initLogger() {
	loggerOnce.Do(func() {
		logger = logrus.New()
		logger.SetOutput(os.Stderr)
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02T15:04:05.000000Z07:00",
		})
		logger.SetLevel(logrus.InfoLevel)
	})
}

// Configure applies level and output settings. Safe to call more than once.
func Configure(opts Options) {
	initLogger()

	if opts.Level != "" {
		SetLevel(Level(strings.ToUpper(opts.Level)))
	}

	if opts.File == "" {
		logger.SetOutput(os.Stderr)
		return
	}
	rotator := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   true,
	}
	logger.SetOutput(io.MultiWriter(os.Stderr, rotator))
}

func SetLevel(l Level) {
	initLogger()
	switch l {
	case LevelDebug:
		logger.SetLevel(logrus.DebugLevel)
	case LevelWarn:
		logger.SetLevel(logrus.WarnLevel)
	case LevelError:
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}
}

// SetOutput redirects log output; tests use it to silence or capture logs.
func SetOutput(w io.Writer) {
	initLogger()
	logger.SetOutput(w)
}

func Debug(msg string, kv ...any) {
	entry(kv...).Debug(msg)
}

func Info(msg string, kv ...any) {
	entry(kv...).Info(msg)
}

func Warn(msg string, kv ...any) {
	entry(kv...).Warn(msg)
}

func Error(msg string, err error, kv ...any) {
	entry(kv...).WithError(err).Error(msg)
}

func entry(kv ...any) *logrus.Entry {
	initLogger()
	return logrus.NewEntry(logger).WithFields(fields(kv...))
}

// fields converts alternating key/value pairs into logrus fields.
// Non-string keys are skipped; a trailing odd value is ignored.
func fields(kv ...any) logrus.Fields {
	out := make(logrus.Fields, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		out[key] = fmt.Sprint(kv[i+1])
	}
	return out
}
