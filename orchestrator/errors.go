package orchestrator

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindAcquisition   Kind = "ACQUISITION"
	KindChunkAnalysis Kind = "CHUNK_ANALYSIS"
	KindFinalAnalysis Kind = "FINAL_ANALYSIS"
	KindInvalidState  Kind = "INVALID_STATE"
	KindNoAudio       Kind = "NO_AUDIO"
	KindSink          Kind = "SINK"
)

// Error is the error contract of the recording pipeline.
type Error struct {
	Kind Kind
	Op   string // ex: "Pipeline.Start"
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func IsKind(err error, kind Kind) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind == kind
	}
	return false
}

var (
	ErrSessionActive = errors.New("a session is already active")
	ErrNotRecording  = errors.New("no session is recording")
	ErrSaturated     = errors.New("live analysis saturated")
)
