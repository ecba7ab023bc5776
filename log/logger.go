// Package log provides structured logging tagged with channel context.
//
// Two logger variants are available:
//   - Logger: Non-sugared zap.Logger for the CM's hot paths (dispatcher,
//     action timer, package manager) — structured fields, no formatting cost.
//   - SugaredLogger: Printf-style logging for CLI/debug surfaces.
//
// Use Logger.Sugar() to obtain a SugaredLogger when needed.
package log

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/justapithecus/racecm/types"
)

// Logger wraps zap.Logger with channel context. When built from a
// composition, every record carries its channel_gid, transport,
// user_model and node_kind; with a nil composition no context fields
// are added.
//
// Use this for core CM paths where performance matters. For CLI/debug
// surfaces, use Sugar() to get a SugaredLogger.
type Logger struct {
	zap *zap.Logger
}

// SugaredLogger provides printf-style logging for CLI and debug surfaces.
// Wraps zap.SugaredLogger with the same channel context.
type SugaredLogger struct {
	sugar *zap.SugaredLogger
}

// NewLogger creates a logger tagged with a composition's channel identity.
// Output defaults to os.Stderr.
func NewLogger(comp *types.Composition) *Logger {
	return newLoggerWithWriter(comp, os.Stderr)
}

// WithOutput returns a new logger with a different output writer. The
// returned logger does not carry the context fields attached to l.
func (l *Logger) WithOutput(w io.Writer) *Logger {
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), zapcore.AddSync(w), zapcore.DebugLevel)
	return &Logger{zap: l.zap.WithOptions(zap.WrapCore(func(zapcore.Core) zapcore.Core { return core }))}
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		MessageKey:  "message",
		EncodeTime:  zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	}
}

// newLoggerWithWriter creates a logger writing to the specified writer.
func newLoggerWithWriter(comp *types.Composition, w io.Writer) *Logger {
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), zapcore.AddSync(w), zapcore.DebugLevel)

	var contextFields []zap.Field
	if comp != nil {
		contextFields = append(contextFields,
			zap.String("channel_gid", string(comp.ChannelGID)),
			zap.String("transport", comp.Transport),
			zap.String("user_model", comp.UserModel),
			zap.String("node_kind", comp.NodeKind),
		)
	}

	return &Logger{zap: zap.New(core).With(contextFields...)}
}

// WithLink returns a child logger additionally tagged with a link id.
func (l *Logger) WithLink(id types.LinkID) *Logger {
	return &Logger{zap: l.zap.With(zap.String("link_id", string(id)))}
}

// WithConnection returns a child logger additionally tagged with a
// connection id.
func (l *Logger) WithConnection(id types.ConnectionID) *Logger {
	return &Logger{zap: l.zap.With(zap.String("connection_id", string(id)))}
}

// WithAction returns a child logger additionally tagged with an action id.
func (l *Logger) WithAction(id types.ActionID) *Logger {
	return &Logger{zap: l.zap.With(zap.String("action_id", string(id)))}
}

// WithPackage returns a child logger additionally tagged with a package
// handle.
func (l *Logger) WithPackage(h types.PackageHandle) *Logger {
	return &Logger{zap: l.zap.With(zap.String("package_handle", string(h)))}
}

// WithFragment returns a child logger additionally tagged with a fragment
// handle.
func (l *Logger) WithFragment(h types.FragmentHandle) *Logger {
	return &Logger{zap: l.zap.With(zap.String("fragment_handle", string(h)))}
}

// Debug logs a debug message.
func (l *Logger) Debug(message string, fields map[string]any) {
	l.zap.Debug(message, zap.Any("fields", fields))
}

// Info logs an info message.
func (l *Logger) Info(message string, fields map[string]any) {
	l.zap.Info(message, zap.Any("fields", fields))
}

// Warn logs a warning message.
func (l *Logger) Warn(message string, fields map[string]any) {
	l.zap.Warn(message, zap.Any("fields", fields))
}

// Error logs an error message.
func (l *Logger) Error(message string, fields map[string]any) {
	l.zap.Error(message, zap.Any("fields", fields))
}

// Sugar returns a SugaredLogger for printf-style logging.
func (l *Logger) Sugar() *SugaredLogger {
	return &SugaredLogger{sugar: l.zap.Sugar()}
}

// Debugf logs a debug message with printf-style formatting.
func (s *SugaredLogger) Debugf(template string, args ...any) {
	s.sugar.Debugf(template, args...)
}

// Infof logs an info message with printf-style formatting.
func (s *SugaredLogger) Infof(template string, args ...any) {
	s.sugar.Infof(template, args...)
}

// Warnf logs a warning message with printf-style formatting.
func (s *SugaredLogger) Warnf(template string, args ...any) {
	s.sugar.Warnf(template, args...)
}

// Errorf logs an error message with printf-style formatting.
func (s *SugaredLogger) Errorf(template string, args ...any) {
	s.sugar.Errorf(template, args...)
}

// With returns a SugaredLogger with additional context fields.
func (s *SugaredLogger) With(args ...any) *SugaredLogger {
	return &SugaredLogger{sugar: s.sugar.With(args...)}
}
