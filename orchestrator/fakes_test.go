package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/maastricht-university/prosody-stream/clients"
	cfg "github.com/maastricht-university/prosody-stream/config"
	"github.com/maastricht-university/prosody-stream/logger"
)

const testInterval = 5 * time.Millisecond

func testConfig() *cfg.Root {
	c := &cfg.Root{}
	c.Capture.Interval = testInterval
	c.Live.Every = 1
	c.Live.MaxInFlight = 4
	c.Live.CallTimeout = 2 * time.Second
	c.Live.CancelOnStop = true
	c.Audio.BufferBytes = 1 << 16
	return c
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

// pipeSource hands out the read end of a pipe; tests write audio into w.
type pipeSource struct {
	r       *io.PipeReader
	w       *io.PipeWriter
	openErr error
}

func newPipeSource() *pipeSource {
	r, w := io.Pipe()
	return &pipeSource{r: r, w: w}
}

func (s *pipeSource) Open(context.Context) (io.ReadCloser, error) {
	if s.openErr != nil {
		return nil, s.openErr
	}
	return s.r, nil
}

func (s *pipeSource) MimeType() string { return "audio/webm" }
func (s *pipeSource) Filename() string { return "audio.webm" }

type analyzerFunc func(ctx context.Context, id string, blob []byte) (*clients.EmoResp, error)

func (f analyzerFunc) Analyze(ctx context.Context, id string, blob []byte) (*clients.EmoResp, error) {
	return f(ctx, id, blob)
}

func isFinal(id string) bool { return strings.HasPrefix(id, "final-") }

// payload strips the test header so analyzers can switch on chunk content.
func payload(t *testing.T, blob []byte) string {
	t.Helper()
	require.True(t, bytes.HasPrefix(blob, []byte(testHeader)), "blob %q lacks header", blob)
	return string(blob[len(testHeader):])
}

const testHeader = "HDR!"

func resp(o ...EmotionObservation) *clients.EmoResp {
	return &clients.EmoResp{Emotions: o}
}

type sinkCall struct {
	text, context string
	obs           []EmotionObservation
}

type memSink struct {
	mu    sync.Mutex
	calls []sinkCall
	err   error
}

func (s *memSink) Record(_ context.Context, text string, o []EmotionObservation, contextLabel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sinkCall{text: text, context: contextLabel, obs: o})
	return s.err
}

func (s *memSink) Calls() []sinkCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sinkCall(nil), s.calls...)
}

type published struct {
	mu  sync.Mutex
	all []Estimate
}

func (p *published) add(e Estimate) {
	p.mu.Lock()
	p.all = append(p.all, e)
	p.mu.Unlock()
}

func (p *published) list() []Estimate {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Estimate(nil), p.all...)
}

type harness struct {
	t      *testing.T
	p      *Pipeline
	src    *pipeSource
	clock  *fakeClock
	sink   *memSink
	events *published
}

func newHarness(t *testing.T, c *cfg.Root, an Analyzer) *harness {
	t.Helper()
	h := &harness{t: t, src: newPipeSource(), clock: newFakeClock(), sink: &memSink{}, events: &published{}}
	h.p = NewPipeline(c, Deps{
		Source:     h.src,
		Analyzer:   an,
		Sink:       h.sink,
		Logger:     logger.Discard(),
		Clock:      h.clock,
		OnEstimate: h.events.add,
	})
	return h
}

func (h *harness) start() string {
	h.t.Helper()
	id, err := h.p.Start(context.Background(), StartOptions{Text: "note", Context: "unit"})
	require.NoError(h.t, err)
	return id
}

func (h *harness) chunks() int {
	info, ok := h.p.Session()
	if !ok {
		return -1
	}
	return info.Chunks
}

// feed moves the clock to session offset at, writes one chunk's worth of
// bytes and waits until the capture loop has cut it.
func (h *harness) feed(at time.Duration, b string) {
	h.t.Helper()
	info, ok := h.p.Session()
	require.True(h.t, ok, "no active session")
	h.clock.Set(info.StartedAt.Add(at))

	_, err := h.src.w.Write([]byte(b))
	require.NoError(h.t, err)
	want := info.Chunks + 1
	require.Eventually(h.t, func() bool { return h.chunks() == want }, time.Second, time.Millisecond)
}

func (h *harness) pendingLen() int {
	h.p.mu.Lock()
	defer h.p.mu.Unlock()
	if h.p.sess == nil {
		return 0
	}
	return len(h.p.sess.pending)
}

var errBoom = errors.New("boom")
