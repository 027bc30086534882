// Package logging builds the agent's zap logger.
package logging

import (
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options control logger construction.
type Options struct {
	Debug bool
	// File, when set, receives a rotated copy of everything written to stdout.
	File string
}

// New returns a JSON logger writing to stdout and optionally to a rotating file.
func New(opts Options) *zap.Logger {
	level := zapcore.InfoLevel
	if opts.Debug {
		level = zapcore.DebugLevel
	}
	core := zapcore.NewCore(encoder(), logWriter(opts.File), level)
	return zap.New(core, zap.AddCaller())
}

func encoder() zapcore.Encoder {
	return zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		MessageKey:   "message",
		TimeKey:      "time",
		LevelKey:     "level",
		CallerKey:    "caller",
		EncodeLevel:  CustomLevelEncoder,
		EncodeTime:   SyslogTimeEncoder,
		EncodeCaller: zapcore.ShortCallerEncoder,
	})
}

// SyslogTimeEncoder formats timestamps as 2006-01-02 15:04:05.
func SyslogTimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006-01-02 15:04:05"))
}

// CustomLevelEncoder formats levels as [INFO].
func CustomLevelEncoder(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString("[" + level.CapitalString() + "]")
}

func logWriter(file string) zapcore.WriteSyncer {
	stdout := zapcore.AddSync(os.Stdout)
	if file == "" {
		return stdout
	}
	return zapcore.NewMultiWriteSyncer(
		zapcore.AddSync(&lumberjack.Logger{
			Filename: file,
			MaxSize:  500,
			MaxAge:   30,
		}),
		stdout,
	)
}
