package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/maastricht-university/prosody-stream/clients"
	"github.com/maastricht-university/prosody-stream/metrics"
)

// Reconciler runs the single authoritative analysis over a whole session.
type Reconciler struct {
	analyzer    Analyzer
	transcriber Transcriber
	sink        ResultSink
	metrics  *metrics.Metrics
	log      *logrus.Entry
}

// NewReconciler wires the final pass. tr and sink may be nil.
func NewReconciler(an Analyzer, tr Transcriber, sink ResultSink, m *metrics.Metrics, log *logrus.Entry) *Reconciler {
	return &Reconciler{analyzer: an, transcriber: tr, sink: sink, metrics: m, log: log}
}

type ReconcileRequest struct {
	SessionID string
	Header    *AudioChunk
	Chunks    []AudioChunk // payload, capture order
	Text      string
	Context   string
}

type FinalResult struct {
	Observations []EmotionObservation
	Timing       *clients.Timing
	BlobBytes    int
	// Transcript is the recognised speech, empty when transcription is off
	// or failed. When set it is the text handed to the sink.
	Transcript string
	// SinkErr is set when recording failed; the observations still stand.
	SinkErr error
}

// Reconcile submits header+every payload chunk as one blob. The blob is
// transcribed alongside when a Transcriber is set. Only a successful
// analysis reaches the sink.
func (r *Reconciler) Reconcile(ctx context.Context, req ReconcileRequest) (*FinalResult, error) {
	const op = "Reconciler.Reconcile"
	log := r.log.WithField("session_id", req.SessionID)

	if req.Header == nil {
		return nil, E(KindNoAudio, op, errors.New("no header chunk captured"))
	}

	blob := finalBlob(req.Header, req.Chunks)
	id := newSubmissionID("final", len(req.Chunks))
	log = log.WithFields(logrus.Fields{"submission_id": id, "chunks": len(req.Chunks) + 1, "bytes": len(blob)})
	log.Info("final analysis submitted")

	var (
		transcript string
		trDone     chan struct{}
	)
	if r.transcriber != nil {
		trDone = make(chan struct{})
		go func() {
			defer close(trDone)
			transcript = r.transcribe(ctx, log, blob)
		}()
	}

	start := time.Now()
	resp, err := r.analyzer.Analyze(ctx, id, blob)
	r.metrics.ObserveAnalysis(metrics.KindFinal, time.Since(start))
	if trDone != nil {
		<-trDone
	}
	if err != nil {
		log.WithError(err).Error("final analysis failed")
		return nil, E(KindFinalAnalysis, op, err)
	}
	logTiming(log, resp)

	out := &FinalResult{Observations: resp.Emotions, Timing: resp.Timing, BlobBytes: len(blob), Transcript: transcript}
	text := req.Text
	if transcript != "" {
		text = transcript
	}
	if r.sink != nil {
		if err := r.sink.Record(ctx, text, resp.Emotions, req.Context); err != nil {
			log.WithError(err).Warn("result sink failed")
			out.SinkErr = E(KindSink, op, err)
		}
	}
	log.WithField("emotions", len(resp.Emotions)).Info("final analysis complete")
	return out, nil
}

// transcribe returns the joined transcript, or "" when transcription fails.
func (r *Reconciler) transcribe(ctx context.Context, log *logrus.Entry, blob []byte) string {
	start := time.Now()
	tr, err := r.transcriber.Transcribe(ctx, blob)
	r.metrics.ObserveAnalysis(metrics.KindTranscribe, time.Since(start))
	if err != nil {
		log.WithError(err).Warn("transcription failed, keeping caller text")
		return ""
	}
	text := tr.Text()
	log.WithFields(logrus.Fields{"segments": len(tr.Segments), "language": tr.Language}).Debug("transcription complete")
	return text
}

func logTiming(log *logrus.Entry, resp *clients.EmoResp) {
	if resp.Timing == nil {
		return
	}
	t := resp.Timing
	log.WithFields(logrus.Fields{
		"submit_s":   t.Analysis.Submit,
		"poll_s":     t.Analysis.Poll,
		"predict_s":  t.Analysis.Predict,
		"analysis_s": t.Analysis.Total,
		"total_s":    t.Total,
		"duration_s": resp.Duration,
	}).Debug("analysis summary")
}
