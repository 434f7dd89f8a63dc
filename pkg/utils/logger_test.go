package utils

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "wfm.log")
	logger, err := NewLogger(LoggerConfig{Level: "warn", OutputPath: path, Format: "json"})
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Warn("kept", zap.String("workflow", "vacation_standard"))
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "dropped")
	assert.Contains(t, string(data), `"workflow":"vacation_standard"`)
}

func TestKeyValueLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	kv := NewKeyValueLogger(zap.New(core))

	kv.Info("Transition applied", "instance_id", int64(7), "status", "completed")
	kv.Error("Delivery failed", "error", errors.New("timeout"), 42, "ignored")
	kv.Debug("odd", "dangling")

	entries := logs.AllUntimed()
	require.Len(t, entries, 3)

	assert.Equal(t, map[string]interface{}{"instance_id": int64(7), "status": "completed"}, entries[0].ContextMap())
	assert.Equal(t, map[string]interface{}{"error": "timeout"}, entries[1].ContextMap())
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Empty(t, entries[2].ContextMap())
}
