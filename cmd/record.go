package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/maastricht-university/prosody-stream/audio"
	"github.com/maastricht-university/prosody-stream/clients"
	"github.com/maastricht-university/prosody-stream/metrics"
	"github.com/maastricht-university/prosody-stream/orchestrator"
)

type recordOptions struct {
	duration time.Duration
	note     string
	context  string
}

func recordCommand(a *app) *cobra.Command {
	opts := &recordOptions{}
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a session with live emotion estimates",
		Long: `Capture audio from a file, stdin or the default microphone, publish a
live emotion estimate while recording and run one authoritative analysis
over the whole recording when it stops (duration, Ctrl-C or end of stream).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.record(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.String("source", a.v.GetString("audio.source"), "Audio source: file, stdin or mic")
	f.String("path", a.v.GetString("audio.path"), "Audio file for the file source")
	f.String("metrics-listen", a.v.GetString("metrics.listen"), "Serve /metrics on this address")
	f.DurationVar(&opts.duration, "duration", 0, "Stop after this long (0 = until interrupted or end of stream)")
	f.StringVar(&opts.note, "note", "", "Free text stored with the final analysis when no transcript is available")
	f.StringVar(&opts.context, "context", "", "Context label stored with the final analysis")

	// binding errors only occur for unknown flags
	_ = bindFlags(a.v, f, map[string]string{
		"audio.source":   "source",
		"audio.path":     "path",
		"metrics.listen": "metrics-listen",
	})
	return cmd
}

func (a *app) record(cmd *cobra.Command, opts *recordOptions) error {
	cfg := a.cfg
	log := a.log.WithField("component", "record")

	src, err := audio.New(cfg.Audio, cmd.InOrStdin())
	if err != nil {
		return err
	}
	httpc := clients.NewHTTP()
	emo := clients.NewEmotion(httpc, cfg.Services.Emotion.URL, src.Filename(), src.MimeType())
	var tr orchestrator.Transcriber
	if cfg.Services.ASR.URL != "" {
		tr = clients.NewASR(httpc, cfg.Services.ASR.URL, src.Filename(), src.MimeType())
	}

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		return err
	}
	if cfg.Metrics.Listen != "" {
		shutdown := serveMetrics(cfg.Metrics.Listen, m, log)
		defer shutdown()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := orchestrator.NewPipeline(cfg, orchestrator.Deps{
		Source:      src,
		Analyzer:    emo,
		Transcriber: tr,
		Sink:        orchestrator.NewFileSink(cfg.Paths.Outputs, cfg.Sink.Format),
		Logger:      a.log,
		Metrics:     m,
		OnEstimate: func(e orchestrator.Estimate) {
			if e.IsFinal || e.Fallback {
				return
			}
			log.WithFields(logrus.Fields{
				"elapsed_s": fmt.Sprintf("%.1f", e.ElapsedSeconds),
				"top":       topEmotions(e.Emotions, 3),
			}).Info("live estimate")
		},
	})

	log.WithFields(logrus.Fields{
		"source":  cfg.Audio.Source,
		"service": cfg.Services.Emotion.URL,
	}).Info("recording, press Ctrl-C to stop")

	// reconciliation must survive the interrupt that ended recording
	res, err := p.Run(ctx, context.Background(), opts.duration, orchestrator.StartOptions{
		Text:    opts.note,
		Context: opts.context,
	})
	if res != nil {
		if res.CaptureErr != nil {
			log.WithError(res.CaptureErr).Warn("capture ended early")
		}
		if res.Final != nil && res.Final.SinkErr != nil {
			log.WithError(res.Final.SinkErr).Warn("final analysis was not stored")
		}
		if perr := printEstimate(cmd.OutOrStdout(), res.Estimate); perr != nil {
			return perr
		}
	}
	return err
}

func serveMetrics(addr string, m *metrics.Metrics, log *logrus.Entry) func() {
	mux := http.NewServeMux()
	m.RegisterHandlers(mux)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics server failed")
		}
	}()
	log.WithField("addr", addr).Info("serving metrics")
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func topEmotions(est []orchestrator.EmotionEstimate, n int) string {
	if len(est) < n {
		n = len(est)
	}
	s := ""
	for i, e := range est[:n] {
		if i > 0 {
			s += " "
		}
		s += fmt.Sprintf("%s=%.2f", e.Name, e.Score)
	}
	return s
}

func printEstimate(w io.Writer, e orchestrator.Estimate) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(e)
}
