package logging

import (
	"context"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type LoggerKey struct{}

func NewContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, LoggerKey{}, logger)
}

func FromContext(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(LoggerKey{}).(*zap.Logger); ok {
		return logger
	}
	return New(zap.DebugLevel, File{}, false)
}

// File describes where logs are persisted. An empty Path disables the file sink.
type File struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
}

const (
	defaultMaxSizeMB = 500
	defaultMaxAge    = 28
)

// New builds a logger writing to stdout and, when file.Path is set, to a
// rotated log file. The file sink always records debug and above.
func New(level zapcore.LevelEnabler, file File, json bool) *zap.Logger {
	var encoder zapcore.Encoder
	if json {
		encoder = zapcore.NewJSONEncoder(zap.NewDevelopmentEncoderConfig())
	} else {
		encoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	}

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), level),
	}

	if file.Path != "" {
		maxSize := file.MaxSizeMB
		if maxSize <= 0 {
			maxSize = defaultMaxSizeMB
		}
		fileLogger := &lumberjack.Logger{
			Filename:   file.Path,
			MaxSize:    maxSize,
			MaxBackups: file.MaxBackups,
			MaxAge:     defaultMaxAge,
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(fileLogger), zap.DebugLevel))
	}

	return zap.New(zapcore.NewTee(cores...))
}
