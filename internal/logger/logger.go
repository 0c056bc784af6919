package logger

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	InfoFile    = "info.log"
	WarningFile = "warning.log"
	ErrorFile   = "error.log"
)

// Logger provides leveled logging (info/warning/error) to rotated files and stdout/stderr.
type Logger struct {
	base   *zap.Logger
	sugar  *zap.SugaredLogger
	logDir string
	files  []*lumberjack.Logger
}

// New creates a Logger writing one file per level under logDir.
// mode "release" selects JSON encoding, anything else a console encoding.
func New(logDir, mode string) (*Logger, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create log directory")
	}

	l := &Logger{logDir: logDir}

	var encCfg zapcore.EncoderConfig
	var newEncoder func(zapcore.EncoderConfig) zapcore.Encoder
	if mode == "release" {
		encCfg = zap.NewProductionEncoderConfig()
		newEncoder = zapcore.NewJSONEncoder
	} else {
		encCfg = zap.NewDevelopmentEncoderConfig()
		newEncoder = zapcore.NewConsoleEncoder
	}
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewTee(
		l.levelCore(newEncoder(encCfg), InfoFile, zapcore.Lock(os.Stdout), func(lvl zapcore.Level) bool {
			return lvl < zapcore.WarnLevel
		}),
		l.levelCore(newEncoder(encCfg), WarningFile, zapcore.Lock(os.Stdout), func(lvl zapcore.Level) bool {
			return lvl == zapcore.WarnLevel
		}),
		l.levelCore(newEncoder(encCfg), ErrorFile, zapcore.Lock(os.Stderr), func(lvl zapcore.Level) bool {
			return lvl >= zapcore.ErrorLevel
		}),
	)

	l.base = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	l.sugar = l.base.Sugar()
	return l, nil
}

// levelCore wires a rotated file plus a console stream for the levels accepted by enabled.
func (l *Logger) levelCore(enc zapcore.Encoder, filename string, console zapcore.WriteSyncer, enabled zap.LevelEnablerFunc) zapcore.Core {
	file := &lumberjack.Logger{
		Filename:   filepath.Join(l.logDir, filename),
		MaxSize:    50, // MB
		MaxBackups: 3,
		Compress:   true,
	}
	l.files = append(l.files, file)
	return zapcore.NewCore(enc, zapcore.NewMultiWriteSyncer(zapcore.AddSync(file), console), enabled)
}

// Nop returns a Logger that discards everything. Used by tests.
func Nop() *Logger {
	base := zap.NewNop()
	return &Logger{base: base, sugar: base.Sugar()}
}

// Zap exposes the structured logger for request logging.
func (l *Logger) Zap() *zap.Logger {
	return l.base.WithOptions(zap.AddCallerSkip(-1))
}

// Dir is the directory the level files live in.
func (l *Logger) Dir() string {
	return l.logDir
}

// Info writes a formatted info-level log entry.
func (l *Logger) Info(format string, v ...interface{}) {
	l.sugar.Infof(format, v...)
}

// Warning writes a formatted warning-level log entry.
func (l *Logger) Warning(format string, v ...interface{}) {
	l.sugar.Warnf(format, v...)
}

// Error writes a formatted error-level log entry.
func (l *Logger) Error(format string, v ...interface{}) {
	l.sugar.Errorf(format, v...)
}

// CleanLogs truncates the specified log file.
func (l *Logger) CleanLogs(fileName string) error {
	if l.logDir == "" {
		return nil
	}
	filePath := filepath.Join(l.logDir, filepath.Base(fileName))
	// Reopen in append mode afterwards, otherwise writes continue at the old offset.
	for _, f := range l.files {
		if f.Filename == filePath {
			_ = f.Close()
		}
	}
	if err := os.Truncate(filePath, 0); err != nil && !os.IsNotExist(err) {
		l.Error("Error truncating %s: %v", fileName, err)
		return errors.Wrapf(err, "failed to truncate %s", fileName)
	}
	l.Info("File %s has been cleared", fileName)
	return nil
}

// Close flushes buffered entries and closes the level files.
func (l *Logger) Close() error {
	_ = l.base.Sync()
	var firstErr error
	for _, f := range l.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
