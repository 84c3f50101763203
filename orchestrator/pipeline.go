package orchestrator

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/maastricht-university/prosody-stream/audio"
	cfg "github.com/maastricht-university/prosody-stream/config"
	"github.com/maastricht-university/prosody-stream/metrics"
)

// Deps are the collaborators of a Pipeline. Transcriber, Sink, Metrics,
// Clock and OnEstimate are optional.
type Deps struct {
	Source      audio.Source
	Analyzer    Analyzer
	Transcriber Transcriber
	Sink        ResultSink
	Logger      *logrus.Logger
	Metrics     *metrics.Metrics
	Clock       Clock
	OnEstimate  func(Estimate)
}

// Pipeline drives the recording lifecycle
//
//	Idle -> Recording -> Stopping -> Reconciling -> Idle
//
// and owns the single live session. All session state is guarded by mu;
// capture, live dispatch and Stop communicate with it only through methods.
type Pipeline struct {
	cfg        *cfg.Root
	source     audio.Source
	analyzer   Analyzer
	reconciler *Reconciler
	metrics    *metrics.Metrics
	clock      Clock
	log        *logrus.Entry
	onEstimate func(Estimate)
	inflight   *semaphore.Weighted
	timeout    time.Duration

	mu       sync.Mutex
	state    State
	starting bool
	sess     *session
	last     Estimate
}

type session struct {
	id        string
	startedAt time.Time
	text      string
	context   string
	log       *logrus.Entry

	stream        io.ReadCloser
	selector      *Selector
	agg           *Aggregator
	cancelCapture context.CancelFunc
	captureDone   chan struct{}
	captureErr    error

	liveCtx    context.Context
	cancelLive context.CancelFunc
	wg         sync.WaitGroup

	// reorder buffer: results are applied in submission order
	nextSeq   uint64
	nextApply uint64
	pending   map[uint64]liveOutcome
	finalized bool
}

type liveOutcome struct {
	sub Submission
	id  string
	obs []EmotionObservation
	err error
}

// StartOptions carry caller metadata handed to the sink on success.
type StartOptions struct {
	Text    string
	Context string
}

// Result describes a finished session.
type Result struct {
	SessionID  string
	Estimate   Estimate
	Chunks     int // header included
	Final      *FinalResult
	CaptureErr error
}

func NewPipeline(c *cfg.Root, d Deps) *Pipeline {
	logger := d.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	clock := d.Clock
	if clock == nil {
		clock = systemClock{}
	}
	maxInFlight := c.Live.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = 1
	}
	timeout := c.Live.CallTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	log := logger.WithField("component", "pipeline")
	return &Pipeline{
		cfg:        c,
		source:     d.Source,
		analyzer:   d.Analyzer,
		reconciler: NewReconciler(d.Analyzer, d.Transcriber, d.Sink, d.Metrics, logger.WithField("component", "reconciler")),
		metrics:    d.Metrics,
		clock:      clock,
		log:        log,
		onEstimate: d.OnEstimate,
		inflight:   semaphore.NewWeighted(int64(maxInFlight)),
		timeout:    timeout,
	}
}

func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Estimate returns the most recently published estimate.
func (p *Pipeline) Estimate() Estimate {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// Session reports the active session, if any.
func (p *Pipeline) Session() (SessionInfo, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.sess
	if s == nil {
		return SessionInfo{}, false
	}
	return SessionInfo{
		ID:             s.id,
		State:          p.state,
		StartedAt:      s.startedAt,
		ElapsedSeconds: p.clock.Now().Sub(s.startedAt).Seconds(),
		Chunks:         s.selector.Len(),
		HasHeader:      s.selector.Header() != nil,
	}, true
}

// CaptureDone is closed when the active session's capture ends, either
// because Stop was called or because the source ran dry. It is nil when no
// session is active.
func (p *Pipeline) CaptureDone() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sess == nil {
		return nil
	}
	return p.sess.captureDone
}

// Start acquires the audio source and begins capture. It is rejected unless
// the pipeline is Idle.
func (p *Pipeline) Start(ctx context.Context, opts StartOptions) (string, error) {
	const op = "Pipeline.Start"

	p.mu.Lock()
	if p.state != StateIdle || p.starting {
		p.mu.Unlock()
		return "", E(KindInvalidState, op, ErrSessionActive)
	}
	p.starting = true
	p.mu.Unlock()

	stream, err := p.source.Open(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.starting = false
	if err != nil {
		p.log.WithError(err).Error("audio source acquisition failed")
		return "", E(KindAcquisition, op, err)
	}

	id := uuid.NewString()
	s := &session{
		id:          id,
		startedAt:   p.clock.Now(),
		text:        opts.Text,
		context:     opts.Context,
		log:         p.log.WithField("session_id", id),
		stream:      stream,
		selector:    NewSelector(p.cfg.Live.Every, p.cfg.LiveWindow()),
		agg:         NewAggregator(),
		captureDone: make(chan struct{}),
		pending:     map[uint64]liveOutcome{},
	}
	var capCtx context.Context
	capCtx, s.cancelCapture = context.WithCancel(context.Background())
	s.liveCtx, s.cancelLive = context.WithCancel(context.Background())

	p.sess = s
	p.state = StateRecording
	p.last = Estimate{SessionID: id, Emotions: []EmotionEstimate{}}

	capture := &Capture{
		Interval:     p.cfg.Capture.Interval,
		StagingBytes: p.cfg.Audio.BufferBytes,
		Clock:        p.clock,
		Log:          s.log.WithField("component", "capture"),
		Metrics:      p.metrics,
	}
	go func() {
		defer close(s.captureDone)
		err := capture.Run(capCtx, stream, s.startedAt, func(c AudioChunk) { p.onChunk(s, c) })
		if err != nil {
			s.log.WithError(err).Warn("capture ended with error")
		}
		s.captureErr = err
	}()

	s.log.WithFields(logrus.Fields{
		"interval":      p.cfg.Capture.Interval,
		"every":         p.cfg.Live.Every,
		"max_in_flight": p.cfg.Live.MaxInFlight,
	}).Info("recording started")
	return id, nil
}

func (p *Pipeline) onChunk(s *session, c AudioChunk) {
	p.mu.Lock()
	if p.sess != s || (p.state != StateRecording && p.state != StateStopping) {
		p.mu.Unlock()
		return
	}
	// retained unconditionally; the final pass needs every chunk
	sub, submit := s.selector.Add(c)
	if !submit || p.state != StateRecording {
		p.mu.Unlock()
		return
	}
	if !p.inflight.TryAcquire(1) {
		p.mu.Unlock()
		p.metrics.LiveSubmission(metrics.StatusSaturated)
		s.log.WithFields(logrus.Fields{"chunk_index": c.Index, "k": sub.K}).
			WithError(ErrSaturated).Warn("live analysis skipped")
		return
	}
	seq := s.nextSeq
	s.nextSeq++
	s.wg.Add(1)
	p.mu.Unlock()

	p.metrics.InFlight(1)
	go p.dispatch(s, seq, sub)
}

func (p *Pipeline) dispatch(s *session, seq uint64, sub Submission) {
	defer s.wg.Done()
	defer func() {
		p.inflight.Release(1)
		p.metrics.InFlight(-1)
	}()

	id := newSubmissionID("live", sub.K)
	ctx, cancel := context.WithTimeout(s.liveCtx, p.timeout)
	defer cancel()

	s.log.WithFields(logrus.Fields{
		"submission_id": id,
		"chunk_index":   sub.Chunk.Index,
		"bytes":         len(sub.Blob),
	}).Debug("live analysis submitted")

	start := time.Now()
	resp, err := p.analyzer.Analyze(ctx, id, sub.Blob)
	p.metrics.ObserveAnalysis(metrics.KindLive, time.Since(start))

	out := liveOutcome{sub: sub, id: id, err: err}
	if err == nil {
		out.obs = resp.Emotions
		logTiming(s.log.WithField("submission_id", id), resp)
	}
	p.complete(s, seq, out)
}

func accepting(st State) bool {
	return st == StateRecording || st == StateStopping || st == StateReconciling
}

// complete parks a finished call and applies every result that is next in
// submission order. Chunk-level failures only advance the cursor.
func (p *Pipeline) complete(s *session, seq uint64, out liveOutcome) {
	p.mu.Lock()
	if p.sess != s {
		p.mu.Unlock()
		p.metrics.LiveSubmission(metrics.StatusDiscarded)
		return
	}
	s.pending[seq] = out

	var publish []Estimate
	for {
		o, ok := s.pending[s.nextApply]
		if !ok {
			break
		}
		delete(s.pending, s.nextApply)
		s.nextApply++

		log := s.log.WithFields(logrus.Fields{"submission_id": o.id, "chunk_index": o.sub.Chunk.Index})
		switch {
		case o.err != nil && s.liveCtx.Err() != nil:
			p.metrics.LiveSubmission(metrics.StatusDiscarded)
			log.WithError(o.err).Debug("live analysis cancelled")
		case o.err != nil:
			p.metrics.LiveSubmission(metrics.StatusError)
			log.WithError(E(KindChunkAnalysis, "Pipeline.dispatch", o.err)).Warn("live analysis failed, keeping previous estimate")
		case s.finalized || !accepting(p.state):
			p.metrics.LiveSubmission(metrics.StatusDiscarded)
		default:
			p.metrics.LiveSubmission(metrics.StatusOK)
			est := Estimate{
				SessionID:      s.id,
				Emotions:       s.agg.Update(o.obs, o.sub.Represented, o.sub.Elapsed),
				ElapsedSeconds: p.clock.Now().Sub(s.startedAt).Seconds(),
			}
			p.last = est
			publish = append(publish, est)
		}
	}
	fn := p.onEstimate
	p.mu.Unlock()

	if fn != nil {
		for _, est := range publish {
			fn(est)
		}
	}
}

// Stop halts capture, runs the final reconciliation and returns to Idle.
// On a failed final pass the last live estimate is kept and republished
// with Fallback set; the error is returned alongside the result.
func (p *Pipeline) Stop(ctx context.Context) (*Result, error) {
	const op = "Pipeline.Stop"

	p.mu.Lock()
	if p.state != StateRecording {
		p.mu.Unlock()
		return nil, E(KindInvalidState, op, ErrNotRecording)
	}
	s := p.sess
	p.state = StateStopping
	p.mu.Unlock()
	s.log.Info("stopping")

	s.cancelCapture()
	if err := s.stream.Close(); err != nil {
		s.log.WithError(err).Debug("closing audio stream")
	}
	<-s.captureDone
	if p.cfg.Live.CancelOnStop {
		s.cancelLive()
	}

	p.mu.Lock()
	p.state = StateReconciling
	req := ReconcileRequest{
		SessionID: s.id,
		Header:    s.selector.Header(),
		Chunks:    s.selector.Payload(),
		Text:      s.text,
		Context:   s.context,
	}
	chunks := s.selector.Len()
	p.mu.Unlock()

	final, err := p.reconciler.Reconcile(ctx, req)

	// stragglers either merged above or were cancelled; none may land later
	s.wg.Wait()
	s.cancelLive()

	p.mu.Lock()
	s.finalized = true
	elapsed := p.clock.Now().Sub(s.startedAt).Seconds()
	var est Estimate
	if err == nil {
		est = Estimate{
			SessionID:      s.id,
			Emotions:       passthrough(final.Observations),
			IsFinal:        true,
			ElapsedSeconds: elapsed,
		}
		p.metrics.SessionDone(metrics.OutcomeFinal)
	} else {
		est = p.last
		est.SessionID = s.id
		est.IsFinal = false
		est.Fallback = true
		if est.Emotions == nil {
			est.Emotions = []EmotionEstimate{}
		}
		p.metrics.SessionDone(metrics.OutcomeFallback)
	}
	p.last = est
	p.sess = nil
	p.state = StateIdle
	fn := p.onEstimate
	p.mu.Unlock()

	if fn != nil {
		fn(est)
	}

	res := &Result{SessionID: s.id, Estimate: est, Chunks: chunks, Final: final, CaptureErr: s.captureErr}
	if err != nil {
		s.log.WithError(err).Error("session finished with fallback estimate")
		return res, err
	}
	s.log.WithFields(logrus.Fields{"chunks": chunks, "elapsed_s": elapsed}).Info("session finished")
	return res, nil
}

// Run records until ctx is done, d elapses (d > 0) or the source ends, then
// stops. Stop uses stopCtx so reconciliation outlives an interrupted ctx.
func (p *Pipeline) Run(ctx, stopCtx context.Context, d time.Duration, opts StartOptions) (*Result, error) {
	if _, err := p.Start(ctx, opts); err != nil {
		return nil, err
	}
	var timeout <-chan time.Time
	if d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case <-ctx.Done():
	case <-timeout:
	case <-p.CaptureDone():
	}
	return p.Stop(stopCtx)
}
