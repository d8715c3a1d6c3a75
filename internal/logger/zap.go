package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger struct {
	*zap.SugaredLogger
}

// New builds the process logger. Unknown levels fall back to INFO and the
// fallback is reported through the returned logger itself.
func New(level, format string) (Logger, error) {
	lvl, known := ParseLevel(level)

	var cfg zap.Config
	if strings.EqualFold(format, "console") {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	zaplog, err := cfg.Build()
	if err != nil {
		return Logger{}, err
	}

	log := Logger{SugaredLogger: zaplog.Sugar()}
	if !known {
		log.Warnw("Unrecognised logging level, defaulting to INFO",
			"level", level)
	}

	return log, nil
}

// ParseLevel maps the LOG_LEVEL names to zap levels.
func ParseLevel(level string) (zapcore.Level, bool) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return zapcore.DebugLevel, true
	case "INFO", "":
		return zapcore.InfoLevel, true
	case "WARNING", "WARN":
		return zapcore.WarnLevel, true
	case "ERROR":
		return zapcore.ErrorLevel, true
	}

	return zapcore.InfoLevel, false
}

func Nop() Logger {
	return Logger{SugaredLogger: zap.NewNop().Sugar()}
}

func Wrap(l *zap.Logger) Logger {
	return Logger{SugaredLogger: l.Sugar()}
}
