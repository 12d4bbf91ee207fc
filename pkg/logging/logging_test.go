package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(WithOutput(&buf))
	logger.Info("rule matched", "rule", "spam")
	logger.Debug("hidden")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "rule matched", entry["msg"])
	assert.Equal(t, "spam", entry["rule"])

	ts, ok := entry["time"].(string)
	require.True(t, ok)
	_, err := time.Parse(time.RFC3339, ts)
	assert.NoError(t, err)
}

func TestNewTextWithLevelVar(t *testing.T) {
	var buf bytes.Buffer
	var lvl slog.LevelVar
	lvl.Set(slog.LevelWarn)
	logger := New(WithFormat(FormatText), WithLevel(&lvl), WithOutput(&buf))

	logger.Info("dropped")
	assert.Empty(t, buf.String())

	lvl.Set(slog.LevelDebug)
	logger.Debug("kept", "n", 1)
	assert.Contains(t, buf.String(), "msg=kept")
	assert.Contains(t, buf.String(), "n=1")
}

func TestParse(t *testing.T) {
	f, err := ParseFormat("TEXT")
	require.NoError(t, err)
	assert.Equal(t, FormatText, f)
	_, err = ParseFormat("xml")
	assert.Error(t, err)

	l, err := ParseLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, l)
	l, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, l)
	_, err = ParseLevel("loud")
	assert.Error(t, err)
}
