package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew_ConsoleLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, closeFn, err := New(Options{Level: "warn", Console: &buf})
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", zap.Int("unit", 3))
	closeFn()

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, `"unit": 3`)
}

func TestNew_VerboseOverridesLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, closeFn, err := New(Options{Level: "error", Verbose: true, Console: &buf})
	require.NoError(t, err)
	logger.Debug("debugging")
	closeFn()
	assert.Contains(t, buf.String(), "debugging")
}

func TestNew_FileSinkIsJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "apgen.log")
	var buf bytes.Buffer
	logger, closeFn, err := New(Options{File: path, Console: &buf})
	require.NoError(t, err)
	logger.Info("set finished", zap.String("course", "ap_statistics"))
	closeFn()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := strings.TrimSpace(string(data))

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "set finished", entry["msg"])
	assert.Equal(t, "ap_statistics", entry["course"])
	assert.Equal(t, "INFO", entry["level"])
}

func TestNew_BadLevel(t *testing.T) {
	_, _, err := New(Options{Level: "loud"})
	require.Error(t, err)
}
