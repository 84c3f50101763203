package orchestrator

import (
	"fmt"

	"github.com/google/uuid"
)

// joinBlob concatenates the header with payload chunks into one decodable
// container. The header bytes are always first.
func joinBlob(header []byte, chunks ...[]byte) []byte {
	n := len(header)
	for _, c := range chunks {
		n += len(c)
	}
	out := make([]byte, 0, n)
	out = append(out, header...)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

func finalBlob(header *AudioChunk, chunks []AudioChunk) []byte {
	parts := make([][]byte, 0, len(chunks))
	for _, c := range chunks {
		parts = append(parts, c.Bytes)
	}
	return joinBlob(header.Bytes, parts...)
}

func newSubmissionID(kind string, k int) string {
	return fmt.Sprintf("%s-%d-%s", kind, k, uuid.NewString())
}

// passthrough maps classifier output to the published shape without
// reordering or weighting.
func passthrough(obs []EmotionObservation) []EmotionEstimate {
	out := make([]EmotionEstimate, 0, len(obs))
	for _, o := range obs {
		out = append(out, EmotionEstimate{Name: o.Name, Score: o.Score})
	}
	return out
}
