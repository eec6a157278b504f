// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestLoadDevelopmentConfig(t *testing.T) {
	cfg, err := NewConfig("./development-postgres.yaml")
	require.NoError(t, err)
	require.NoError(t, cfg.ValidateAndSetDefaults())

	assert.Equal(t, "postgres", cfg.Database.SQL.DBExtensionName)
	assert.Equal(t, 5*time.Minute, cfg.JobExecutor.LockDuration)
	assert.Equal(t, 3, cfg.JobExecutor.MaxJobsPerAcquisition)
	assert.Equal(t, "R/PT1H", cfg.JobExecutor.HistoryCleanupCycle)
	assert.Equal(t, AsyncServiceModeStandalone, cfg.AsyncService.Mode)
	assert.Equal(t, "http://0.0.0.0:8801", cfg.AsyncService.ClientAddress)
	assert.NotEmpty(t, cfg.JobExecutor.LockOwner)
	assert.Contains(t, cfg.String(), "flowengine")
}

func TestValidateAndSetDefaults(t *testing.T) {
	cfg := &Config{
		Database: DatabaseConfig{SQL: &SQL{DBExtensionName: "sqlite", DatabaseName: ":memory:"}},
		AsyncService: AsyncServiceConfig{
			InternalHttpServer: HttpServerConfig{Address: "127.0.0.1:8801"},
		},
	}
	require.NoError(t, cfg.ValidateAndSetDefaults())

	je := cfg.JobExecutor
	assert.Equal(t, int32(3), je.DefaultRetries)
	assert.Equal(t, 100*time.Millisecond, je.WaitTimeMin)
	assert.Equal(t, 60*time.Second, je.WaitTimeMax)
	assert.Equal(t, float64(2), je.WaitIncreaseFactor)
	assert.Equal(t, 10, je.ProcessorConcurrency)
	assert.Equal(t, AsyncServiceModeStandalone, cfg.AsyncService.Mode)
}

func TestValidateRejectsInvalidConfig(t *testing.T) {
	base := func() *Config {
		return &Config{
			Database: DatabaseConfig{SQL: &SQL{DBExtensionName: "postgres", DatabaseName: "db", ConnectAddr: "127.0.0.1:5432", User: "u"}},
			AsyncService: AsyncServiceConfig{
				InternalHttpServer: HttpServerConfig{Address: "127.0.0.1:8801"},
			},
		}
	}

	cfg := base()
	cfg.Database.SQL = nil
	assert.Error(t, cfg.ValidateAndSetDefaults())

	cfg = base()
	cfg.Database.SQL.User = ""
	assert.Error(t, cfg.ValidateAndSetDefaults())

	cfg = base()
	min, max := int64(20), int64(5)
	cfg.JobExecutor.PriorityRangeMin = &min
	cfg.JobExecutor.PriorityRangeMax = &max
	assert.Error(t, cfg.ValidateAndSetDefaults())

	cfg = base()
	cfg.AsyncService.Mode = AsyncServiceModeCluster
	assert.Error(t, cfg.ValidateAndSetDefaults())

	cfg = base()
	cfg.AsyncService.Mode = "unknown"
	assert.Error(t, cfg.ValidateAndSetDefaults())

	cfg = base()
	cfg.AsyncService.Pulsar = &PulsarConfig{URL: "pulsar://localhost:6650"}
	assert.Error(t, cfg.ValidateAndSetDefaults())

	cfg = base()
	assert.NoError(t, cfg.ValidateAndSetDefaults())
}

func TestLoggerConfig(t *testing.T) {
	logCfg := Logger{Level: "warn", Encoding: "console", Stdout: true, Sampling: &LogSampling{Initial: 10, Thereafter: 100}}
	require.NoError(t, logCfg.validate())
	zapLogger, err := logCfg.NewZapLogger()
	require.NoError(t, err)
	assert.False(t, zapLogger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, zapLogger.Core().Enabled(zapcore.WarnLevel))

	assert.Error(t, (&Logger{Encoding: "xml"}).validate())
	assert.Error(t, (&Logger{Sampling: &LogSampling{Initial: 0, Thereafter: 1}}).validate())

	_, err = (&Logger{Encoding: "xml"}).NewZapLogger()
	assert.Error(t, err)
}
