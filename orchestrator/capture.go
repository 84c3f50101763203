package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"golang.org/x/sync/errgroup"

	"github.com/maastricht-university/prosody-stream/metrics"
)

const (
	defaultStagingBytes = 4 << 20
	readBlock           = 32 << 10
	stageRetryDelay     = 5 * time.Millisecond
	defaultFlushTimeout = time.Second
)

// Capture slices a live stream into fixed-interval chunks. A pump goroutine
// stages stream bytes in a ring buffer; the ticker drains whatever is staged
// into one chunk per interval.
type Capture struct {
	Interval     time.Duration
	StagingBytes int
	Clock        Clock
	Log          *logrus.Entry
	Metrics      *metrics.Metrics
	// FlushTimeout bounds the wait for the pump after cancellation. A reader
	// still blocked then is abandoned; whatever was staged is flushed.
	FlushTimeout time.Duration
}

// Run emits chunks until ctx is cancelled or the stream ends, then flushes
// what is left as a last chunk. Closing the stream after cancelling ctx lets
// a blocked pump return at once; otherwise Run gives up on it after
// FlushTimeout. emit runs on the capture goroutine and must not block.
func (c *Capture) Run(ctx context.Context, stream io.Reader, startedAt time.Time, emit func(AudioChunk)) error {
	size := c.StagingBytes
	if size <= 0 {
		size = defaultStagingBytes
	}
	clock := c.Clock
	if clock == nil {
		clock = systemClock{}
	}
	log := c.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	flushTimeout := c.FlushTimeout
	if flushTimeout <= 0 {
		flushTimeout = defaultFlushTimeout
	}

	st := &staging{rb: ringbuffer.New(size), abandoned: make(chan struct{})}
	pumpDone := make(chan struct{})

	var (
		index   int
		lastOff time.Duration
	)
	cut := func(b []byte) {
		if len(b) == 0 {
			return
		}
		off := clock.Now().Sub(startedAt)
		chunk := AudioChunk{
			Index:      index,
			Bytes:      b,
			IsHeader:   index == 0,
			Duration:   (off - lastOff).Seconds(),
			CapturedAt: off,
		}
		index++
		lastOff = off
		c.Metrics.ChunkCaptured()
		log.WithFields(logrus.Fields{
			"chunk_index": chunk.Index,
			"bytes":       len(b),
			"header":      chunk.IsHeader,
		}).Debug("chunk captured")
		emit(chunk)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(pumpDone)
		errc := make(chan error, 1)
		go func() { errc <- c.pump(gctx, stream, st) }()
		select {
		case err := <-errc:
			return err
		case <-st.abandoned:
			return nil
		}
	})
	g.Go(func() error {
		ticker := time.NewTicker(c.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				cut(st.drain())
			case <-pumpDone:
				cut(st.drain())
				return nil
			case <-gctx.Done():
				// keep draining so a pump blocked on a full buffer can finish
				deadline := time.NewTimer(flushTimeout)
				defer deadline.Stop()
				var tail []byte
				for {
					tail = append(tail, st.drain()...)
					select {
					case <-pumpDone:
						cut(append(tail, st.drain()...))
						return nil
					case <-deadline.C:
						st.abandon()
						log.WithField("flush_timeout", flushTimeout).Warn("audio stream still blocked after stop, abandoning reader")
						cut(append(tail, st.drain()...))
						return nil
					case <-time.After(stageRetryDelay):
					}
				}
			}
		}
	})
	return g.Wait()
}

func (c *Capture) pump(ctx context.Context, stream io.Reader, st *staging) error {
	buf := make([]byte, readBlock)
	for {
		// a stream that keeps producing never errors out on its own
		if ctx.Err() != nil {
			return nil
		}
		n, err := stream.Read(buf)
		if n > 0 && !st.stage(buf[:n]) {
			return nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read audio stream: %w", err)
		}
	}
}

type staging struct {
	mu sync.Mutex
	rb *ringbuffer.RingBuffer

	abandoned chan struct{}
	once      sync.Once
}

// stage writes all of p, waiting for the ticker to free space when full.
// It only gives up once the capture loop has abandoned the pump; it reports
// whether every byte was staged.
func (s *staging) stage(p []byte) bool {
	for len(p) > 0 {
		s.mu.Lock()
		n := min(len(p), s.rb.Free())
		if n > 0 {
			n, _ = s.rb.Write(p[:n])
		}
		s.mu.Unlock()
		p = p[n:]
		if len(p) == 0 {
			break
		}
		select {
		case <-s.abandoned:
			return false
		case <-time.After(stageRetryDelay):
		}
	}
	return true
}

func (s *staging) abandon() {
	s.once.Do(func() { close(s.abandoned) })
}

func (s *staging) drain() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.rb.Length()
	if n == 0 {
		return nil
	}
	out := make([]byte, n)
	n, _ = s.rb.Read(out)
	return out[:n]
}
