package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewText(t *testing.T) {
	var buf bytes.Buffer
	log, closer, err := New(Options{Level: "warn", Output: &buf})
	require.NoError(t, err)
	defer closer.Close()

	log.Info("hidden")
	log.Warn("shown", "task", "a")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "msg=shown")
	assert.Contains(t, out, "task=a")
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	log, _, err := New(Options{Format: "json", Level: "debug", Output: &buf})
	require.NoError(t, err)

	log.Debug("chunk stored", "offset", 8)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "chunk stored", rec["msg"])
	assert.Equal(t, float64(8), rec["offset"])
}

func TestNewFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hoard.log")
	log, closer, err := New(Options{File: path})
	require.NoError(t, err)

	log.Info("to file")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "to file"))
}

func TestNewRejectsBadOptions(t *testing.T) {
	_, _, err := New(Options{Format: "xml"})
	assert.Error(t, err)

	_, _, err = New(Options{Level: "loud"})
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"":      slog.LevelInfo,
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}
