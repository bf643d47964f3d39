package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// FormatJSON машиночитаемый вывод (docker, прод)
	FormatJSON = "json"
	// FormatConsole человекочитаемый вывод для локальной разработки
	FormatConsole = "console"
)

// Config описывает, как собрать logger сервиса
type Config struct {
	// ServiceName попадает в поле service каждой записи
	ServiceName string
	// Env окружение (local/docker), попадает в поле env
	Env string
	// Level debug/info/warn/error, по умолчанию info
	Level string
	// Format json или console; по умолчанию json в docker и console локально
	Format string
	// AddCaller добавлять file:line; локально включается всегда
	AddCaller bool
}

// New собирает zap.Logger по конфигурации.
// Поля service и env добавляются ко всем записям.
func New(cfg Config) (*zap.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	format := cfg.Format
	if format == "" {
		format = FormatConsole
		if cfg.Env == "docker" {
			format = FormatJSON
		}
	}
	if format != FormatJSON && format != FormatConsole {
		return nil, fmt.Errorf("invalid log format: %s (must be json/console)", format)
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if format == FormatJSON {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stderr), level)

	opts := []zap.Option{zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.AddCaller || cfg.Env == "local" {
		opts = append(opts, zap.AddCaller())
	}

	return zap.New(core, opts...).With(
		zap.String("service", cfg.ServiceName),
		zap.String("env", cfg.Env),
	), nil
}

func parseLevel(raw string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("invalid log level: %s (must be debug/info/warn/error)", raw)
	}
}

// Sync сбрасывает буферы logger'а; ошибки вида "sync /dev/stderr: invalid argument" игнорируются
func Sync(log *zap.Logger) {
	_ = log.Sync()
}
