// pkg/logger/writer.go

package logger

import (
	"os"
	"path/filepath"

	cerr "github.com/cockroachdb/errors"
	"go.uber.org/zap/zapcore"
)

// GetLogFileWriter opens path for appending, creating the directory (0700) and the file
// (0600) when missing. The file may hold node credential ids, so it stays owner-only.
func GetLogFileWriter(path string) (zapcore.WriteSyncer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, cerr.Wrapf(err, "create log directory for %s", path)
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, cerr.Wrapf(err, "open log file %s", path)
	}

	return zapcore.AddSync(file), nil
}
