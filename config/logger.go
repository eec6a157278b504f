// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type (
	// Logger contains the config items for logger
	Logger struct {
		// Stdout is true then the output needs to goto standard out
		// By default this is false and output will go to standard error
		Stdout bool `yaml:"stdout"`
		// Level is the desired log level
		Level string `yaml:"level"`
		// OutputFile is the path to the log output file
		// Stdout must be false, otherwise Stdout will take precedence
		OutputFile string `yaml:"outputFile"`
		// LevelKey is the desired log level, defaults to "level"
		LevelKey string `yaml:"levelKey"`
		// Encoding decides the format, supports "console" and "json".
		// "json" will print the log in JSON format(better for machine), while "console" will print in plain-text format(more human friendly)
		// Default is "json"
		Encoding string `yaml:"encoding"`
		// Sampling caps repeated messages, e.g. the per job lines of a busy executor. Nil logs everything
		Sampling *LogSampling `yaml:"sampling"`
	}

	// LogSampling logs the first Initial entries with the same level and message every second,
	// then every Thereafter-th one
	LogSampling struct {
		Initial    int `yaml:"initial"`
		Thereafter int `yaml:"thereafter"`
	}
)

// NewZapLogger builds the zap logger of this logging configuration
func (cfg *Logger) NewZapLogger() (*zap.Logger, error) {
	encoding, err := cfg.encoding()
	if err != nil {
		return nil, err
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "ts"
	encoderConfig.LevelKey = "level"
	if cfg.LevelKey != "" {
		encoderConfig.LevelKey = cfg.LevelKey
	}
	// the caller is tagged as logging-call-at by common/log
	encoderConfig.CallerKey = zapcore.OmitKey
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeDuration = zapcore.SecondsDurationEncoder

	var sampling *zap.SamplingConfig
	if cfg.Sampling != nil {
		sampling = &zap.SamplingConfig{
			Initial:    cfg.Sampling.Initial,
			Thereafter: cfg.Sampling.Thereafter,
		}
	}

	outputPath := cfg.outputPath()
	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(parseZapLevel(cfg.Level)),
		Sampling:         sampling,
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{outputPath},
		ErrorOutputPaths: []string{outputPath},
	}
	return zapConfig.Build()
}

func (cfg *Logger) encoding() (string, error) {
	switch cfg.Encoding {
	case "":
		return "json", nil
	case "json", "console":
		return cfg.Encoding, nil
	default:
		return "", fmt.Errorf("invalid encoding %q for log, only supporting json or console", cfg.Encoding)
	}
}

func (cfg *Logger) outputPath() string {
	switch {
	case cfg.Stdout:
		return "stdout"
	case cfg.OutputFile != "":
		return cfg.OutputFile
	default:
		return "stderr"
	}
}

func (cfg *Logger) validate() error {
	if _, err := cfg.encoding(); err != nil {
		return err
	}
	if cfg.Sampling != nil && (cfg.Sampling.Initial <= 0 || cfg.Sampling.Thereafter <= 0) {
		return fmt.Errorf("log sampling initial and thereafter must be positive")
	}
	return nil
}

func parseZapLevel(level string) zapcore.Level {
	parsed, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zap.InfoLevel
	}
	return parsed
}
