package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewZapLogger builds a production zap logger writing JSON to stderr. Workers
// reserve stdout and stdin for IPC, so nothing may log there.
func NewZapLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.MessageKey = "msg"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder

	lvl, err := zapcore.ParseLevel(zapLevelName(level))
	if err != nil {
		return nil, err
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

// zap has no trace level and its fatal level exits the process.
func zapLevelName(level string) string {
	switch level {
	case "", "trace":
		return "debug"
	case "fatal":
		return "error"
	default:
		return level
	}
}

// NewZapServiceLogger wraps a zap.Logger. Trace entries are written at debug
// and Fatal entries at error, both tagged with a severity field.
func NewZapServiceLogger(log *zap.Logger) ServiceLogger {
	if log == nil {
		panic("queueflow: zap logger cannot be nil")
	}
	return &zapServiceLogger{log: log}
}

type zapServiceLogger struct {
	log *zap.Logger
}

func (z *zapServiceLogger) With(fields LogFields) ServiceLogger {
	if len(fields) == 0 {
		return z
	}
	return &zapServiceLogger{log: z.log.With(toZapFields(fields)...)}
}

func (z *zapServiceLogger) Trace(msg string, fields LogFields) {
	z.log.Debug(msg, append(toZapFields(fields), zap.String(SeverityKey, "trace"))...)
}

func (z *zapServiceLogger) Debug(msg string, fields LogFields) {
	z.log.Debug(msg, toZapFields(fields)...)
}

func (z *zapServiceLogger) Info(msg string, fields LogFields) {
	z.log.Info(msg, toZapFields(fields)...)
}

func (z *zapServiceLogger) Warn(msg string, fields LogFields) {
	z.log.Warn(msg, toZapFields(fields)...)
}

func (z *zapServiceLogger) Error(msg string, err error, fields LogFields) {
	z.log.Error(msg, append(toZapFields(fields), zap.Error(err))...)
}

func (z *zapServiceLogger) Fatal(msg string, err error, fields LogFields) {
	z.log.Error(msg, append(toZapFields(fields), zap.Error(err), zap.String(SeverityKey, "fatal"))...)
}

// Sync flushes buffered entries.
func (z *zapServiceLogger) Sync() error {
	return z.log.Sync()
}

func toZapFields(fields LogFields) []zap.Field {
	out := make([]zap.Field, 0, len(fields)+2)
	for key, value := range fields {
		out = append(out, zap.Any(key, value))
	}
	return out
}
