package inject

import (
	"fmt"
	"log/slog"
)

// ScriptLogger is the logger handle bound into injected logic. Messages are
// formatted like fmt.Sprintf and tagged as coming from an injection.
type ScriptLogger struct {
	logger *slog.Logger
}

func newScriptLogger(l *slog.Logger) *ScriptLogger {
	return &ScriptLogger{logger: l.With("source", "injection")}
}

// Debug logs at debug level. The nil return lets expr call it.
func (l *ScriptLogger) Debug(format string, args ...interface{}) interface{} {
	l.logger.Debug(fmt.Sprintf(format, args...))
	return nil
}

// Info logs at info level.
func (l *ScriptLogger) Info(format string, args ...interface{}) interface{} {
	l.logger.Info(fmt.Sprintf(format, args...))
	return nil
}

// Warn logs at warn level.
func (l *ScriptLogger) Warn(format string, args ...interface{}) interface{} {
	l.logger.Warn(fmt.Sprintf(format, args...))
	return nil
}

// Error logs at error level.
func (l *ScriptLogger) Error(format string, args ...interface{}) interface{} {
	l.logger.Error(fmt.Sprintf(format, args...))
	return nil
}

// funcs exposes the logger to interpreted Go code as plain functions.
func (l *ScriptLogger) funcs() map[string]interface{} {
	wrap := func(log func(string, ...interface{}) interface{}) func(string) {
		return func(msg string) { log("%s", msg) }
	}
	return map[string]interface{}{
		"debug": wrap(l.Debug),
		"info":  wrap(l.Info),
		"warn":  wrap(l.Warn),
		"error": wrap(l.Error),
	}
}
