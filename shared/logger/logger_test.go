package logger

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

func newBuffered(t *testing.T, cfg Config) (*Logger, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	cfg.writer = buf
	l, err := New(&cfg)
	require.NoError(t, err)
	return l, buf
}

func jsonLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		entries = append(entries, entry)
	}
	return entries
}

func TestNew_LevelFiltering(t *testing.T) {
	tests := []struct {
		level    string
		expected []string
	}{
		{"debug", []string{"DEBUG", "INFO", "WARN", "ERROR"}},
		{"warning", []string{"WARN", "ERROR"}},
		{"error", []string{"ERROR"}},
		{"verbose", []string{"INFO", "WARN", "ERROR"}},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			l, buf := newBuffered(t, Config{Level: tt.level, Format: "json"})

			l.Debug("claim")
			l.Info("dispatch")
			l.Warn("deferred")
			l.Error("dead-lettered")

			var levels []string
			for _, entry := range jsonLines(t, buf) {
				levels = append(levels, entry["level"].(string))
			}
			assert.Equal(t, tt.expected, levels)
		})
	}
}

func TestNew_ConsoleWithoutColor(t *testing.T) {
	l, buf := newBuffered(t, Config{Level: "info", Format: "console", NoColor: true})

	l.Info("Job completed successfully", slog.String("request_id", "req-1"))

	out := buf.String()
	assert.Contains(t, out, "Job completed successfully")
	assert.Contains(t, out, "request_id=req-1")
	assert.NotContains(t, out, "\x1b[", "no ANSI escapes when color is disabled")
}

func TestNew_UnknownFormatFallsBackToJSON(t *testing.T) {
	l, buf := newBuffered(t, Config{Format: "logfmt"})

	l.Info("Write buffer flushed", slog.Int("creates", 3))

	entries := jsonLines(t, buf)
	require.Len(t, entries, 1)
	assert.Equal(t, float64(3), entries[0]["creates"])
}

func TestNew_FileSinkAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.log")

	for _, msg := range []string{"first run", "second run"} {
		l, err := New(&Config{Level: "info", Format: "json", Output: path})
		require.NoError(t, err)
		l.Info(msg)
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "first run")
	assert.Contains(t, lines[1], "second run")
}

func TestNew_FileSinkError(t *testing.T) {
	_, err := New(&Config{Output: filepath.Join(t.TempDir(), "missing", "dir", "app.log")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open log file")
}

func TestLogger_Component(t *testing.T) {
	l, buf := newBuffered(t, Config{Format: "json"})

	l.Component("job-store").Info("Write buffer flusher started")
	l.WithAttrs(slog.String("worker_id", "host-1")).WithGroup("task").Info("Processing job", slog.Int("attempt", 2))

	entries := jsonLines(t, buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "job-store", entries[0]["component"])
	assert.Equal(t, "host-1", entries[1]["worker_id"])
	assert.Equal(t, map[string]any{"attempt": float64(2)}, entries[1]["task"])
}

func TestNew_SourceLocation(t *testing.T) {
	l, buf := newBuffered(t, Config{Format: "json", EnableSource: true})

	l.Info("with caller")

	entries := jsonLines(t, buf)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0], "source")
}
