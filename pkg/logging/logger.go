package logging

import (
	"context"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a wrapper around zap.Logger
type Logger struct {
	*zap.Logger
}

// Config holds logging configuration
type Config struct {
	// Level is the log level (debug, info, warn, error, dpanic, panic, fatal)
	Level string `mapstructure:"level"`
	// Format is the log format (json or console)
	Format string `mapstructure:"format"`
	// OutputPaths is a list of paths to write logs to
	OutputPaths []string `mapstructure:"output_paths"`
	// ErrorOutputPaths is a list of paths to write internal logger errors to
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
	// Development enables development mode (DPanic logs will panic)
	Development bool `mapstructure:"development"`
	// EnableCaller enables caller information in logs
	EnableCaller bool `mapstructure:"enable_caller"`
	// EnableStacktrace enables stack traces for error logs
	EnableStacktrace bool `mapstructure:"enable_stacktrace"`
}

// DefaultConfig returns a default logging configuration
func DefaultConfig() Config {
	return Config{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
}

// DevelopmentConfig returns a configuration for development
func DevelopmentConfig() Config {
	return Config{
		Level:            "debug",
		Format:           "console",
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
		Development:      true,
		EnableCaller:     true,
		EnableStacktrace: true,
	}
}

// NewLogger creates a new logger with the given configuration
func NewLogger(config Config) (*Logger, error) {
	level := ParseLevel(config.Level)

	var encoderConfig zapcore.EncoderConfig
	if config.Development {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
	}
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeDuration = zapcore.StringDurationEncoder

	if len(config.OutputPaths) == 0 {
		config.OutputPaths = []string{"stdout"}
	}
	if len(config.ErrorOutputPaths) == 0 {
		config.ErrorOutputPaths = []string{"stderr"}
	}
	if config.Format == "" {
		config.Format = "json"
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       config.Development,
		DisableCaller:     !config.EnableCaller,
		DisableStacktrace: !config.EnableStacktrace,
		Encoding:          config.Format,
		EncoderConfig:     encoderConfig,
		OutputPaths:       config.OutputPaths,
		ErrorOutputPaths:  config.ErrorOutputPaths,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, err
	}

	return &Logger{logger}, nil
}

// NewLoggerFromEnv creates a logger based on environment variables
// CARDD_LOG_LEVEL: log level (default: info)
// CARDD_LOG_FORMAT: log format (default: json)
// CARDD_LOG_DEV: enable development mode (default: false)
func NewLoggerFromEnv() (*Logger, error) {
	config := DefaultConfig()

	if format := os.Getenv("CARDD_LOG_FORMAT"); format != "" {
		config.Format = format
	}
	if os.Getenv("CARDD_LOG_DEV") == "true" {
		config = DevelopmentConfig()
	}
	// Level overrides dev mode too
	if level := os.Getenv("CARDD_LOG_LEVEL"); level != "" {
		config.Level = level
	}

	return NewLogger(config)
}

// NewNoOpLogger creates a logger that discards all logs
func NewNoOpLogger() *Logger {
	return &Logger{zap.NewNop()}
}

// ParseLevel converts a string to a zapcore.Level. Unknown values are info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "dpanic":
		return zapcore.DPanicLevel
	case "panic":
		return zapcore.PanicLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// With creates a child logger with additional fields
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{l.Logger.With(fields...)}
}

// Named creates a child logger with a name
func (l *Logger) Named(name string) *Logger {
	return &Logger{l.Logger.Named(name)}
}

// Sync flushes any buffered log entries
func (l *Logger) Sync() error {
	return l.Logger.Sync()
}

// Field helpers for the identifiers every log line in the card program carries.

func UserID(id string) zap.Field { return zap.String("user_id", id) }

func CardID(id string) zap.Field { return zap.String("card_id", id) }

func TxnID(id string) zap.Field { return zap.String("txn_id", id) }

func DisputeID(id string) zap.Field { return zap.String("dispute_id", id) }

func RequestID(id string) zap.Field { return zap.String("request_id", id) }

func Reason(code string) zap.Field { return zap.String("reason", code) }

type ctxKey struct{}

// WithContext returns a copy of ctx carrying logger.
func WithContext(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext returns the logger stored by WithContext, or the global one.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(ctxKey{}).(*Logger); ok && l != nil {
		return l
	}
	return Global()
}

var global = NewNoOpLogger()

// SetGlobal replaces the process-wide logger. Call it once at startup.
func SetGlobal(logger *Logger) {
	global = logger
}

// Global returns the process-wide logger, a no-op until SetGlobal.
func Global() *Logger {
	return global
}
