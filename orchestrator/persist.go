package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// AnalysisRecord is what FileSink writes per finished session.
type AnalysisRecord struct {
	Text        string               `json:"text" yaml:"text"`
	Context     string               `json:"context" yaml:"context"`
	GeneratedAt time.Time            `json:"generated_at" yaml:"generated_at"`
	Emotions    []EmotionObservation `json:"emotions" yaml:"emotions"`
}

// FileSink stores every final analysis under <root>/session_<ts>/.
type FileSink struct {
	root   string
	format string // json or yaml
	now    func() time.Time
}

func NewFileSink(root, format string) *FileSink {
	if format != "yaml" {
		format = "json"
	}
	return &FileSink{root: root, format: format, now: time.Now}
}

func mkSessionDir(outputsRoot string, now time.Time) (string, error) {
	sid := "session_" + now.Format("20060102-150405.000")
	dir := filepath.Join(outputsRoot, sid)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeYAML(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func (s *FileSink) Record(ctx context.Context, text string, observations []EmotionObservation, contextLabel string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := s.now()
	dir, err := mkSessionDir(s.root, now)
	if err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	rec := AnalysisRecord{
		Text:        text,
		Context:     contextLabel,
		GeneratedAt: now.UTC(),
		Emotions:    observations,
	}
	if s.format == "yaml" {
		return writeYAML(filepath.Join(dir, "analysis.yaml"), rec)
	}
	return writeJSON(filepath.Join(dir, "analysis.json"), rec)
}
