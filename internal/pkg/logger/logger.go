package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"lime/internal/config"
)

// Init 按配置初始化全局 zerolog
// 输出: stdout / stderr / file；格式: json / console
func Init(cfg *config.LogConfig) error {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	timeFormat := time.RFC3339
	switch cfg.TimeFormat {
	case "Unix":
		timeFormat = zerolog.TimeFormatUnix
	case "UnixMs":
		timeFormat = zerolog.TimeFormatUnixMs
	case "RFC3339Nano":
		timeFormat = time.RFC3339Nano
	}
	zerolog.TimeFieldFormat = timeFormat

	output, err := openOutput(cfg)
	if err != nil {
		return err
	}

	if cfg.Format == "console" {
		consoleTime := timeFormat
		if timeFormat == zerolog.TimeFormatUnix || timeFormat == zerolog.TimeFormatUnixMs {
			consoleTime = time.RFC3339
		}
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: consoleTime,
		}
	}

	log.Logger = zerolog.New(output).With().Timestamp().Caller().Logger()
	return nil
}

func openOutput(cfg *config.LogConfig) (io.Writer, error) {
	switch cfg.Output {
	case "stderr":
		return os.Stderr, nil
	case "file":
		if cfg.FilePath == "" {
			return nil, fmt.Errorf("log.file_path is required when log.output is file")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		file, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		return file, nil
	default:
		return os.Stdout, nil
	}
}
