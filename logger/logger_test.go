package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/migadu/pop3d/config"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestJSONHandler(t *testing.T) {
	prev := Get()
	t.Cleanup(func() { SetLogger(prev) })

	var buf bytes.Buffer
	SetLogger(slog.New(NewHandler(&buf, "json", slog.LevelInfo)))

	Debug("hidden")
	Info("POP3 server listening", "addr", "127.0.0.1:110")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "POP3 server listening", entry["msg"])
	assert.Equal(t, "127.0.0.1:110", entry["addr"])
	assert.Equal(t, "INFO", entry["level"])
}

func TestInitializeFile(t *testing.T) {
	prev := Get()
	t.Cleanup(func() { SetLogger(prev) })

	path := filepath.Join(t.TempDir(), "pop3d.log")
	f, err := Initialize(config.LoggingConfig{Output: path, Level: "debug", Format: "console"})
	require.NoError(t, err)
	require.NotNil(t, f)
	defer f.Close()

	Debug("written to file", "key", "value")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
	assert.Contains(t, string(data), "key=value")
}

func TestInitializeBadFile(t *testing.T) {
	_, err := Initialize(config.LoggingConfig{Output: filepath.Join(t.TempDir(), "missing", "dir", "x.log")})
	assert.Error(t, err)
}
