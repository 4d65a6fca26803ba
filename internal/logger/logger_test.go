package logger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestInitWritesFile 配置了日志文件时，日志应同时写入文件
func TestInitWritesFile(t *testing.T) {
	original := Logger
	defer func() { Logger = original }()

	logFile := filepath.Join(t.TempDir(), "logs", "app.log")
	_, err := Init(Config{Level: "debug", Format: "json", File: logFile})
	require.NoError(t, err)

	named := Named("test")
	named.Info().Str("candidate", "c-1").Msg("写入测试日志")

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"test"`)
	assert.Contains(t, string(data), "写入测试日志")
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}

func TestInitInvalidLevelFallsBackToInfo(t *testing.T) {
	original := Logger
	defer func() { Logger = original }()

	_, err := Init(Config{Level: "verbose"})
	require.NoError(t, err)
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}

func TestCtxFallsBackToGlobal(t *testing.T) {
	assert.NotNil(t, Ctx(context.Background()))
	ctx := WithContext(context.Background())
	assert.NotNil(t, Ctx(ctx))
}
