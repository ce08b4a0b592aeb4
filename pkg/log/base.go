package log

import (
	"context"
	"log/slog"
	"os"
)

func (l *BaseLogger) emit(level Level, msg string, attrs []slog.Attr) {
	if level < l.level {
		return
	}
	l.slogLogger.LogAttrs(context.Background(), toSlogLevel(level), msg, attrs...)
}

// Debug logs at DebugLevel.
func (l *BaseLogger) Debug(msg string, fields ...Field) {
	l.emit(DebugLevel, msg, attrsFromFieldSlice(fields))
}

// Info logs at InfoLevel.
func (l *BaseLogger) Info(msg string, fields ...Field) {
	l.emit(InfoLevel, msg, attrsFromFieldSlice(fields))
}

// Warn logs at WarnLevel.
func (l *BaseLogger) Warn(msg string, fields ...Field) {
	l.emit(WarnLevel, msg, attrsFromFieldSlice(fields))
}

// Error logs at ErrorLevel.
func (l *BaseLogger) Error(msg string, fields ...Field) {
	l.emit(ErrorLevel, msg, attrsFromFieldSlice(fields))
}

// Fatal logs at FatalLevel and exits the process.
func (l *BaseLogger) Fatal(msg string, fields ...Field) {
	l.emit(FatalLevel, msg, attrsFromFieldSlice(fields))
	os.Exit(1)
}

func (l *BaseLogger) Debugf(msg string, args ...interface{}) {
	l.emit(DebugLevel, msg, argsToAttrs(args))
}

func (l *BaseLogger) Infof(msg string, args ...interface{}) {
	l.emit(InfoLevel, msg, argsToAttrs(args))
}

func (l *BaseLogger) Warnf(msg string, args ...interface{}) {
	l.emit(WarnLevel, msg, argsToAttrs(args))
}

func (l *BaseLogger) Errorf(msg string, args ...interface{}) {
	l.emit(ErrorLevel, msg, argsToAttrs(args))
}

// derive returns a child logger sharing formatter and outputs, with extra
// base attributes.
func (l *BaseLogger) derive(attrs []slog.Attr) *BaseLogger {
	nl := &BaseLogger{
		level:     l.level,
		formatter: l.formatter,
		outputs:   l.outputs,
	}
	h, ok := l.slogLogger.Handler().(*bridgeHandler)
	if !ok {
		h = newBridgeHandler(nl)
	}
	nh := h.rebind(nl)
	if len(attrs) > 0 {
		nh.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	}
	nl.slogLogger = slog.New(nh)
	return nl
}

// With adds fields to a child logger.
func (l *BaseLogger) With(fields ...Field) Logger {
	return l.derive(attrsFromFieldSlice(fields))
}

// WithField adds one field to a child logger.
func (l *BaseLogger) WithField(key string, value interface{}) Logger {
	return l.derive([]slog.Attr{slog.Any(key, value)})
}

// WithFields adds a map of fields to a child logger.
func (l *BaseLogger) WithFields(fields Fields) Logger {
	return l.derive(attrsFromMap(fields))
}

// WithError attaches err under the "error" key.
func (l *BaseLogger) WithError(err error) Logger {
	return l.With(Err(err))
}

// WithContext adds request context values to a child logger.
func (l *BaseLogger) WithContext(ctx context.Context) Logger {
	return l.WithFields(ContextExtractor(ctx))
}

// WithComponent tags logs with a component name.
func (l *BaseLogger) WithComponent(component string) Logger {
	return l.With(Component(component))
}

// SetLevel sets the minimum log level.
func (l *BaseLogger) SetLevel(level Level) { l.level = level }

// GetLevel returns the current minimum log level.
func (l *BaseLogger) GetLevel() Level { return l.level }
