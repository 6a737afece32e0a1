package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger provides a simple logging interface
type Logger struct {
	logger *zap.SugaredLogger
}

// NewLogger creates a JSON logger at info level
func NewLogger() *Logger {
	l, err := New("json", "info")
	if err != nil {
		return Nop()
	}
	return l
}

// New creates a logger with the given output format ("json" or "console")
// and level name
func New(format, level string) (*Logger, error) {
	lvl := zap.NewAtomicLevel()
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		lvl.SetLevel(zap.InfoLevel)
	}

	var z *zap.Logger
	if format == "console" {
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		z = zap.New(
			zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(os.Stdout), lvl),
			zap.AddCaller(),
			zap.AddCallerSkip(1),
		)
	} else {
		cfg := zap.NewProductionConfig()
		cfg.Level = lvl
		cfg.OutputPaths = []string{"stdout"}
		cfg.ErrorOutputPaths = []string{"stderr"}
		built, err := cfg.Build(zap.AddCallerSkip(1))
		if err != nil {
			return nil, err
		}
		z = built
	}

	return &Logger{logger: z.Sugar()}, nil
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{logger: zap.NewNop().Sugar()}
}

// With returns a child logger carrying the given key/value pairs
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{logger: l.logger.With(keysAndValues...)}
}

// Info logs an informational message
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Infow(msg, keysAndValues...)
}

// Error logs an error message
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, keysAndValues...)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warnw(msg, keysAndValues...)
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(msg string, keysAndValues ...interface{}) {
	l.logger.Fatalw(msg, keysAndValues...)
}

// Sync flushes any buffered log entries
func (l *Logger) Sync() error {
	return l.logger.Sync()
}
