package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/gen2brain/malgo"
)

// MicSource captures the default input device as 16-bit PCM and exposes it
// as an open-ended WAV stream. The RIFF header is the first thing read, so
// it always lands in the header chunk.
type MicSource struct {
	SampleRate int
	Channels   int
}

func (m *MicSource) MimeType() string { return "audio/wav" }
func (m *MicSource) Filename() string { return "audio.wav" }

func (m *MicSource) Open(ctx context.Context) (io.ReadCloser, error) {
	rate, channels := m.SampleRate, m.Channels
	if rate <= 0 {
		rate = 16000
	}
	if channels <= 0 {
		channels = 1
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}

	pr, pw := io.Pipe()
	stream := &micStream{
		r:   io.MultiReader(bytes.NewReader(wavStreamHeader(rate, channels, 16)), pr),
		pr:  pr,
		pw:  pw,
		ctx: mctx,
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(channels)
	deviceConfig.SampleRate = uint32(rate)
	deviceConfig.Alsa.NoMMap = 1

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, in []byte, _ uint32) {
			// Write blocks until the capture side drains; a closed pipe
			// just drops the frames.
			buf := make([]byte, len(in))
			copy(buf, in)
			_, _ = pw.Write(buf)
		},
	}
	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		stream.release()
		return nil, fmt.Errorf("init capture device: %w", err)
	}
	stream.device = device

	if err := device.Start(); err != nil {
		stream.release()
		return nil, fmt.Errorf("start capture device: %w", err)
	}
	return stream, nil
}

type micStream struct {
	r      io.Reader // header, then device frames
	pr     *io.PipeReader
	pw     *io.PipeWriter
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	once   sync.Once
}

func (s *micStream) Read(p []byte) (int, error) { return s.r.Read(p) }

func (s *micStream) Close() error {
	s.release()
	return nil
}

func (s *micStream) release() {
	s.once.Do(func() {
		_ = s.pr.Close()
		if s.device != nil {
			_ = s.device.Stop()
			s.device.Uninit()
		}
		_ = s.pw.Close()
		_ = s.ctx.Uninit()
		s.ctx.Free()
	})
}

// wavStreamHeader is a canonical 44-byte PCM header with the RIFF and data
// sizes set to the maximum, the usual convention for streams of unknown
// length.
func wavStreamHeader(sampleRate, channels, bitsPerSample int) []byte {
	h := make([]byte, 44)
	blockAlign := channels * bitsPerSample / 8
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], 0xFFFFFFFF)
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16)
	binary.LittleEndian.PutUint16(h[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(h[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(h[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(h[28:32], uint32(sampleRate*blockAlign))
	binary.LittleEndian.PutUint16(h[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(h[34:36], uint16(bitsPerSample))
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], 0xFFFFFFFF)
	return h
}
