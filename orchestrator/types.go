package orchestrator

import (
	"context"
	"time"

	"github.com/maastricht-university/prosody-stream/clients"
)

// AudioChunk is one fixed-interval slice of the live stream. Index 0 is the
// header chunk; only it carries the container preamble.
type AudioChunk struct {
	Index    int
	Bytes    []byte
	IsHeader bool
	Duration float64 // seconds since the previous chunk
	// CapturedAt is the offset from session start when the chunk was cut,
	// read from the session's monotonic clock.
	CapturedAt time.Duration
}

// EmotionObservation is one scored emotion as returned by the classifier.
type EmotionObservation = clients.EmoScore

// EmotionEstimate is the published per-emotion view.
type EmotionEstimate struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// Estimate is what callers see. Live estimates are sorted by score; final
// estimates keep the classifier's order.
type Estimate struct {
	SessionID      string            `json:"session_id"`
	Emotions       []EmotionEstimate `json:"emotions"`
	IsFinal        bool              `json:"is_final"`
	Fallback       bool              `json:"fallback,omitempty"` // last live value kept after a failed final pass
	ElapsedSeconds float64           `json:"elapsed_seconds"`
}

// Analyzer is the emotion classifier boundary. Implementations must return
// only schema-valid observations.
type Analyzer interface {
	Analyze(ctx context.Context, submissionID string, blob []byte) (*clients.EmoResp, error)
}

// Transcriber turns a whole recording into text. It is optional; a failure
// never fails the session.
type Transcriber interface {
	Transcribe(ctx context.Context, blob []byte) (*clients.ASRResp, error)
}

// ResultSink records the authoritative analysis of a finished session.
type ResultSink interface {
	Record(ctx context.Context, text string, observations []EmotionObservation, contextLabel string) error
}

type State int

const (
	StateIdle State = iota
	StateRecording
	StateStopping
	StateReconciling
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateStopping:
		return "stopping"
	case StateReconciling:
		return "reconciling"
	default:
		return "unknown"
	}
}

// Clock is the single time source of a pipeline. Chunk offsets and elapsed
// session time both come from it.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SessionInfo is a read-only snapshot of the active session.
type SessionInfo struct {
	ID             string
	State          State
	StartedAt      time.Time
	ElapsedSeconds float64
	Chunks         int // header included
	HasHeader      bool
}
