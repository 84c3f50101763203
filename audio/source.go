// Package audio provides the live byte streams that feed a recording
// session. A Source is acquired once per session; the returned stream is
// closed by the session when capture stops.
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/maastricht-university/prosody-stream/config"
)

// ErrUnsupported is returned for a source kind or encoding that cannot be
// captured.
var ErrUnsupported = errors.New("unsupported audio source")

type Source interface {
	// Open acquires the device or stream. It is the only blocking call in a
	// session start.
	Open(ctx context.Context) (io.ReadCloser, error)
	MimeType() string
	Filename() string
}

// New selects the source named by cfg.Source. stdin is passed explicitly so
// tests and callers can substitute it.
func New(cfg config.Audio, stdin io.Reader) (Source, error) {
	switch cfg.Source {
	case "file":
		if cfg.Path == "" {
			return nil, fmt.Errorf("%w: file source needs audio.path", ErrUnsupported)
		}
		return &FileSource{Path: cfg.Path, BytesPerSec: cfg.PaceBytesSec, Mime: cfg.MimeType, Name: cfg.Filename}, nil
	case "stdin":
		return NewReaderSource(stdin, cfg.MimeType, cfg.Filename), nil
	case "mic":
		return &MicSource{SampleRate: cfg.SampleRate, Channels: cfg.Channels}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, cfg.Source)
	}
}

// FileSource replays a recorded container file. With BytesPerSec > 0 reads
// are throttled so the file behaves like a live device.
type FileSource struct {
	Path        string
	BytesPerSec int
	Mime        string
	Name        string
}

func (s *FileSource) Open(ctx context.Context) (io.ReadCloser, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if st.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%w: %s is a directory", ErrUnsupported, s.Path)
	}
	if s.BytesPerSec <= 0 {
		return f, nil
	}
	return newPacedReader(f, s.BytesPerSec), nil
}

func (s *FileSource) MimeType() string { return orDefault(s.Mime, "audio/webm") }
func (s *FileSource) Filename() string { return orDefault(s.Name, "audio.webm") }

// ReaderSource wraps a stream that is already open, typically stdin fed by
// an encoder. It can be opened once.
type ReaderSource struct {
	r      io.Reader
	mime   string
	name   string
	mu     sync.Mutex
	opened bool
}

func NewReaderSource(r io.Reader, mime, name string) *ReaderSource {
	return &ReaderSource{r: r, mime: mime, name: name}
}

func (s *ReaderSource) Open(context.Context) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.r == nil {
		return nil, fmt.Errorf("%w: no input stream", ErrUnsupported)
	}
	if s.opened {
		return nil, errors.New("reader source already consumed")
	}
	s.opened = true
	if rc, ok := s.r.(io.ReadCloser); ok {
		return rc, nil
	}
	return io.NopCloser(s.r), nil
}

func (s *ReaderSource) MimeType() string { return orDefault(s.mime, "audio/webm") }
func (s *ReaderSource) Filename() string { return orDefault(s.name, "audio.webm") }

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// pacedReader hands out at most bytesPerSec/10 bytes every 100ms.
type pacedReader struct {
	f        *os.File
	step     int
	interval time.Duration
	last     time.Time
	done     chan struct{}
	once     sync.Once
}

func newPacedReader(f *os.File, bytesPerSec int) *pacedReader {
	step := bytesPerSec / 10
	if step < 1 {
		step = 1
	}
	return &pacedReader{f: f, step: step, interval: 100 * time.Millisecond, done: make(chan struct{})}
}

func (p *pacedReader) Read(b []byte) (int, error) {
	if !p.last.IsZero() {
		if wait := p.interval - time.Since(p.last); wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-t.C:
			case <-p.done:
				t.Stop()
				return 0, io.EOF
			}
		}
	}
	p.last = time.Now()
	if len(b) > p.step {
		b = b[:p.step]
	}
	return p.f.Read(b)
}

func (p *pacedReader) Close() error {
	var err error
	p.once.Do(func() {
		close(p.done)
		err = p.f.Close()
	})
	return err
}
