package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogfmtWritesFileAndExtraSink(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "ledger.log")

	lg, err := New(Config{Format: "logfmt", Level: "info", Output: path}, zapcore.AddSync(&buf))
	require.NoError(t, err)

	lg.Debug("hidden")
	lg.Info("journal posted", zap.String("reference", "JE-1"))
	require.NoError(t, lg.Sync())

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "level=info")
	assert.Contains(t, buf.String(), "reference=JE-1")

	onDisk, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, buf.String(), string(onDisk))
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	lg, err := New(Config{Format: "json", Level: "debug", Output: "stdout"}, zapcore.AddSync(&buf))
	require.NoError(t, err)

	lg.Debug("reconciled", zap.String("account_id", "a-1"))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec))
	assert.Equal(t, "debug", rec["level"])
	assert.Equal(t, "reconciled", rec["msg"])
	assert.Equal(t, "a-1", rec["account_id"])
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(Config{Format: "xml"})
	require.Error(t, err)

	_, err = New(Config{Level: "loud"})
	require.Error(t, err)
}
