package observability

import (
	"context"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/storefront/api/internal/platform/requestctx"
)

// NewLogger builds the process logger from LOG_LEVEL (default info) and LOG_FORMAT
// ("json" by default, "console" for local runs). JSON output uses Cloud Logging keys.
func NewLogger() (*zap.Logger, error) {
	return newLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
}

func newLogger(levelName, format string) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.TrimSpace(levelName))
	if err != nil || strings.TrimSpace(levelName) == "" {
		level = zapcore.InfoLevel
	}

	enc := zap.NewProductionEncoderConfig()
	enc.MessageKey = "message"
	enc.TimeKey = "timestamp"
	enc.LevelKey = "severity"
	enc.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	enc.EncodeLevel = zapcore.CapitalLevelEncoder

	encoding := "json"
	if strings.EqualFold(strings.TrimSpace(format), "console") {
		encoding = "console"
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	return zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Encoding:          encoding,
		EncoderConfig:     enc,
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: true,
	}.Build()
}

// WithLogger attaches logger to ctx.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return requestctx.WithLogger(ctx, logger)
}

// FromContext returns the request logger, falling back to a no-op logger.
func FromContext(ctx context.Context) *zap.Logger {
	return requestctx.Logger(ctx)
}

// EventLogger adapts logger to the func(ctx, event, fields) hook taken by services.
// Events ending in ".failed" or ".error" are warnings; everything else is debug.
func EventLogger(logger *zap.Logger, message string) func(context.Context, string, map[string]any) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, event string, fields map[string]any) {
		level := zapcore.DebugLevel
		if strings.HasSuffix(event, ".failed") || strings.HasSuffix(event, ".error") {
			level = zapcore.WarnLevel
		}
		ce := logger.Check(level, message)
		if ce == nil {
			return
		}
		out := []zap.Field{zap.String("event", event)}
		if traceID := requestctx.TraceID(ctx); traceID != "" {
			out = append(out, zap.String("trace_id", traceID))
		}
		for name, value := range fields {
			if err, ok := value.(error); ok {
				out = append(out, zap.NamedError(name, err))
			} else {
				out = append(out, zap.Any(name, value))
			}
		}
		ce.Write(out...)
	}
}

// PrintfAdapter writes printf-style library output (gorm) through zap at info level.
type PrintfAdapter struct {
	sugar *zap.SugaredLogger
}

// NewPrintfAdapter wraps logger.
func NewPrintfAdapter(logger *zap.Logger) PrintfAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return PrintfAdapter{sugar: logger.Sugar()}
}

// Printf implements database.Printf.
func (a PrintfAdapter) Printf(format string, args ...any) {
	a.sugar.Infof(format, args...)
}
