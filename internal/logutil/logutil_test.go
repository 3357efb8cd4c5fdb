package logutil_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/momentics/hioload-bufpool/internal/logutil"
)

func TestSetLoggerCapturesFields(t *testing.T) {
	prev := logutil.GetGlobalLogger()
	defer logutil.SetLogger(prev)

	core, logs := observer.New(zap.DebugLevel)
	logutil.SetLogger(zap.New(core))

	logutil.Warn("pool grown", zap.Int64("total", 64))
	logutil.Debug("tick")

	require.Equal(t, 2, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "pool grown", entry.Message)
	assert.Equal(t, int64(64), entry.ContextMap()["total"])
}

func TestSetupLoggerRejectsUnknownLevel(t *testing.T) {
	prev := logutil.GetGlobalLogger()
	defer logutil.SetLogger(prev)

	assert.Error(t, logutil.SetupLogger("loud"))
	assert.NoError(t, logutil.SetupLogger("debug"))
}

func TestSetupWritesRotatedFile(t *testing.T) {
	prev := logutil.GetGlobalLogger()
	defer logutil.SetLogger(prev)

	path := filepath.Join(t.TempDir(), "pool.log")
	require.NoError(t, logutil.Setup(logutil.LogConfig{Level: "debug", Format: "console", Filename: path, MaxSize: 1}))
	logutil.Info("arena released", zap.String("pool", "local-0"))
	require.NoError(t, logutil.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "arena released")
	assert.Contains(t, string(data), "local-0")
}

func TestLogConfigValidate(t *testing.T) {
	assert.NoError(t, logutil.DefaultLogConfig().Validate())
	assert.Error(t, logutil.LogConfig{Level: "info", Format: "xml"}.Validate())
	assert.Error(t, logutil.LogConfig{Level: "chatty"}.Validate())
}
