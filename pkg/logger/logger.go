package logger

import (
	"fmt"
	"os"
	"sync"

	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu    sync.Mutex
	log   *zap.Logger
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// Options controls where log output goes.
type Options struct {
	// Level is the initial level name (DEBUG, INFO, WARN, ERROR). Empty uses LOG_LEVEL.
	Level string
	// FilePath, when set, adds a JSON sink appended to this file.
	FilePath string
}

// Initialize builds the process logger: a console core on stderr and, when a file path
// is given, a JSON core on that file. Every core shares one atomic level so SetLevel
// affects all of them. The zap and otelzap globals are replaced.
func Initialize(opts Options) error {
	lvl := opts.Level
	if lvl == "" {
		lvl = os.Getenv("LOG_LEVEL")
	}
	level.SetLevel(ParseLogLevel(lvl))

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(DefaultConsoleEncoderConfig()), zapcore.Lock(os.Stderr), level),
	}

	var fileErr error
	if opts.FilePath != "" {
		writer, err := GetLogFileWriter(opts.FilePath)
		if err != nil {
			fileErr = err
		} else {
			cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(DefaultJSONEncoderConfig()), writer, level))
		}
	}

	SetLogger(zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)))

	if fileErr != nil {
		L().Warn("Log file unavailable, logging to console only",
			zap.String("log_path", opts.FilePath), zap.Error(fileErr))
	}
	return fileErr
}

// InitializeWithFallback initialises console-only logging and never fails.
func InitializeWithFallback() {
	if err := Initialize(Options{}); err != nil {
		fmt.Fprintln(os.Stderr, "logger fallback:", err)
	}
}

// SetLogger installs l as the process logger and replaces the zap and otelzap globals.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	log = l
	zap.ReplaceGlobals(l)
	otelzap.ReplaceGlobals(otelzap.New(l))
}

// L returns the process logger, creating a console fallback if none is installed.
func L() *zap.Logger {
	mu.Lock()
	l := log
	mu.Unlock()
	if l == nil {
		InitializeWithFallback()
		mu.Lock()
		l = log
		mu.Unlock()
	}
	return l
}

// SetLevel changes the level of every core built by Initialize.
func SetLevel(l zapcore.Level) {
	level.SetLevel(l)
}

// Level reports the current level.
func Level() zapcore.Level {
	return level.Level()
}

// Sync flushes any buffered log entries. Call before the process exits.
func Sync() error {
	mu.Lock()
	l := log
	mu.Unlock()
	if l == nil {
		return nil
	}
	return l.Sync()
}
