package logs

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger. "prod" logs JSON at info level;
// anything else logs colored console output at debug level. When buf is
// non-nil every entry is mirrored into it.
func NewLogger(env string, buf *Buffer) (*zap.Logger, error) {
	var config zap.Config

	if env == "prod" {
		config = zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	} else {
		config = zap.NewDevelopmentConfig()
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder

	var opts []zap.Option
	if buf != nil {
		opts = append(opts, zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return zapcore.NewTee(core, newCore(buf, config.Level))
		}))
	}
	return config.Build(opts...)
}

// NewSugar is NewLogger for callers that log with key-value pairs.
func NewSugar(env string, buf *Buffer) (*zap.SugaredLogger, error) {
	logger, err := NewLogger(env, buf)
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

// NewBufferedNop returns a logger that writes only into buf. Useful in
// tests that assert on log output.
func NewBufferedNop(buf *Buffer) *zap.SugaredLogger {
	return zap.New(NewCore(buf)).Sugar()
}
