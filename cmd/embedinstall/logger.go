package main

import (
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ZebulonRouseFrantzich/embedinstall/internal/config"
)

// zapLogger adapts a zap SugaredLogger to config.Logger.
type zapLogger struct {
	sugar *zap.SugaredLogger
}

var _ config.Logger = (*zapLogger)(nil)

// newLogger writes console-encoded entries to w. Debug entries are only
// emitted when verbose is set.
func newLogger(w io.Writer, verbose bool) *zapLogger {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.TimeKey = ""
	encCfg.CallerKey = ""

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(w), level)
	return &zapLogger{sugar: zap.New(core).Sugar()}
}

func (l *zapLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l *zapLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Infow(msg, keysAndValues...)
}

func (l *zapLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.sugar.Warnw(msg, keysAndValues...)
}

func (l *zapLogger) Error(msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, keysAndValues...)
}

// Sync flushes buffered entries.
func (l *zapLogger) Sync() {
	_ = l.sugar.Sync()
}
