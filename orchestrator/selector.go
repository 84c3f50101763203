package orchestrator

import "time"

// Submission is one live analysis request: the header plus payload chunk k.
type Submission struct {
	K           int // 1-based payload index
	Chunk       AudioChunk
	Blob        []byte
	Represented float64 // seconds of audio this result stands in for
	Elapsed     float64 // session offset of the chunk, seconds
}

// Selector keeps every captured chunk in order and picks every Nth payload
// chunk for live analysis, decoupling inference load from capture rate.
type Selector struct {
	every       int
	represented float64

	header *AudioChunk
	chunks []AudioChunk // payload only, capture order
}

// NewSelector submits every Nth payload chunk; window is the audio span one
// submission stands in for, normally every × capture interval.
func NewSelector(every int, window time.Duration) *Selector {
	if every <= 0 {
		every = 1
	}
	return &Selector{
		every:       every,
		represented: window.Seconds(),
	}
}

// Add retains c and reports whether it should be analysed live. The header
// is never submitted on its own.
func (s *Selector) Add(c AudioChunk) (Submission, bool) {
	if c.IsHeader {
		h := c
		s.header = &h
		return Submission{}, false
	}
	s.chunks = append(s.chunks, c)
	k := len(s.chunks)
	if s.header == nil || k%s.every != 0 {
		return Submission{}, false
	}
	return Submission{
		K:           k,
		Chunk:       c,
		Blob:        joinBlob(s.header.Bytes, c.Bytes),
		Represented: s.represented,
		Elapsed:     c.CapturedAt.Seconds(),
	}, true
}

func (s *Selector) Header() *AudioChunk { return s.header }

// Payload returns a copy of the retained payload chunks.
func (s *Selector) Payload() []AudioChunk {
	out := make([]AudioChunk, len(s.chunks))
	copy(out, s.chunks)
	return out
}

// Len counts every retained chunk, header included.
func (s *Selector) Len() int {
	if s.header == nil {
		return len(s.chunks)
	}
	return len(s.chunks) + 1
}
