package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// logFilePrefix is the filename prefix of dated log files.
	logFilePrefix = "fleet-updater-"

	// logDateLayout is the date part of a dated log filename.
	logDateLayout = "2006-01-02"

	// logDirPermissions is applied when creating the log directory.
	logDirPermissions = 0o750
)

// EnableFileOutput tees the global logger into one dated log file per day
// inside dir, creating the directory if needed. It returns the path of the
// file opened for today.
func EnableFileOutput(dir string) (string, error) {
	if err := os.MkdirAll(dir, logDirPermissions); err != nil {
		return "", fmt.Errorf("create log directory: %w", err)
	}

	path := filepath.Join(dir, logFilePrefix+time.Now().Format(logDateLayout)+".log")

	file, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return "", fmt.Errorf("open log file: %w", err)
	}

	//nolint:exhaustruct // Default encoder configuration values are fine.
	fileEncoder := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		MessageKey:       "message",
		LevelKey:         "level",
		NameKey:          "logger",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeLevel:      zapcore.CapitalLevelEncoder,
		EncodeTime:       zapcore.ISO8601TimeEncoder,
		EncodeDuration:   zapcore.StringDurationEncoder,
		ConsoleSeparator: ", ",
	})

	fileCore := zapcore.NewCore(fileEncoder, zapcore.AddSync(file), defaultLevel)

	base := Logger().Desugar()
	teed := base.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, fileCore)
	}))

	SetLogger(teed.Sugar())

	return path, nil
}

// PruneFiles removes dated log files in dir whose modification time is older
// than the retention window and returns the number removed. A missing
// directory or zero matches is not an error.
func PruneFiles(dir string, olderThan time.Duration) (int, error) {
	matches, err := filepath.Glob(filepath.Join(dir, logFilePrefix+"*.log"))
	if err != nil {
		return 0, fmt.Errorf("list log files: %w", err)
	}

	cutoff := time.Now().Add(-olderThan)
	removed := 0

	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}

		if info.ModTime().After(cutoff) {
			continue
		}

		if err := os.Remove(path); err != nil {
			return removed, fmt.Errorf("remove log file %s: %w", path, err)
		}

		removed++
	}

	return removed, nil
}
