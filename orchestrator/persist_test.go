package orchestrator

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func fixedSink(t *testing.T, format string) (*FileSink, string) {
	t.Helper()
	root := t.TempDir()
	s := NewFileSink(root, format)
	s.now = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 8_000_000, time.UTC) }
	return s, root
}

func TestFileSink_JSON(t *testing.T) {
	s, root := fixedSink(t, "json")
	obs := []EmotionObservation{{Name: "Joy", Score: 0.25}, {Name: "Anger", Score: 0.5}}
	require.NoError(t, s.Record(context.Background(), "hello", obs, "interview"))

	raw, err := os.ReadFile(filepath.Join(root, "session_20260304-050607.008", "analysis.json"))
	require.NoError(t, err)
	var rec AnalysisRecord
	require.NoError(t, json.Unmarshal(raw, &rec))
	assert.Equal(t, "hello", rec.Text)
	assert.Equal(t, "interview", rec.Context)
	assert.Equal(t, obs, rec.Emotions, "observations are stored in classifier order")
}

func TestFileSink_YAML(t *testing.T) {
	s, root := fixedSink(t, "yaml")
	require.NoError(t, s.Record(context.Background(), "", nil, ""))

	raw, err := os.ReadFile(filepath.Join(root, "session_20260304-050607.008", "analysis.yaml"))
	require.NoError(t, err)
	var rec map[string]any
	require.NoError(t, yaml.Unmarshal(raw, &rec))
	assert.Contains(t, rec, "generated_at")
	assert.Contains(t, rec, "emotions")
}

func TestFileSink_UnknownFormatFallsBackToJSON(t *testing.T) {
	s, _ := fixedSink(t, "xml")
	assert.Equal(t, "json", s.format)
}

func TestFileSink_CancelledContext(t *testing.T) {
	s, root := fixedSink(t, "json")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, s.Record(ctx, "x", nil, ""), context.Canceled)
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
