// Package portaudio implements capture.Source over a local input device via
// the PortAudio bindings. It is used by the standalone binary when no
// browser-fed source is attached; echo cancellation and gain control are
// left to the device/OS layer.
package portaudio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/voxfacile/voxfacile/pkg/audio"
	"github.com/voxfacile/voxfacile/pkg/capture"
)

// Compile-time assertion that Source satisfies capture.Source.
var _ capture.Source = (*Source)(nil)

// defaultChunkSamples is the per-frame sample count when the config does
// not specify one.
const defaultChunkSamples = 4096

// Config configures a PortAudio capture source.
type Config struct {
	// Format is the target frame format. Zero value means audio.DefaultFormat.
	Format audio.Format

	// ChunkSamples is the number of samples per delivered frame.
	// Defaults to 4096.
	ChunkSamples int

	// DeviceSampleRate opens the device at a different rate than the target
	// format and resamples each chunk. Zero means open at Format.SampleRate.
	DeviceSampleRate int

	// DeviceChannels opens the device with its native channel count; stereo
	// input is downmixed to mono before delivery. Zero means Format.Channels.
	DeviceChannels int
}

// Source captures PCM16 mono frames from the default input device.
type Source struct {
	cfg Config

	mu     sync.Mutex
	stream *portaudio.Stream
	buf    []int16
	open   bool
	closed bool
	fn     capture.FrameFunc

	done      chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once
}

// New creates a Source with the given configuration, applying defaults for
// zero-valued fields.
func New(cfg Config) *Source {
	if cfg.Format == (audio.Format{}) {
		cfg.Format = audio.DefaultFormat
	}
	if cfg.ChunkSamples <= 0 {
		cfg.ChunkSamples = defaultChunkSamples
	}
	if cfg.DeviceSampleRate <= 0 {
		cfg.DeviceSampleRate = cfg.Format.SampleRate
	}
	if cfg.DeviceChannels <= 0 {
		cfg.DeviceChannels = cfg.Format.Channels
	}
	return &Source{
		cfg:      cfg,
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
}

// OnFrame implements capture.Source.
func (s *Source) OnFrame(fn capture.FrameFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fn = fn
}

// Format implements capture.Source.
func (s *Source) Format() audio.Format { return s.cfg.Format }

// Open implements capture.Source. It initialises PortAudio, opens the default
// input stream and starts the frame loop.
func (s *Source) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return capture.ErrClosed
	}
	if s.open {
		return fmt.Errorf("portaudio: source already open")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.cfg.DeviceChannels > 2 {
		return fmt.Errorf("portaudio: unsupported device channel count %d", s.cfg.DeviceChannels)
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio: initialize: %w (%w)", err, capture.ErrDeviceUnavailable)
	}

	// Scale the chunk so that after downmixing and resampling the delivered
	// frame holds the configured sample count.
	deviceSamples := s.cfg.ChunkSamples * s.cfg.DeviceSampleRate / s.cfg.Format.SampleRate
	s.buf = make([]int16, deviceSamples*s.cfg.DeviceChannels)

	stream, err := portaudio.OpenDefaultStream(
		s.cfg.DeviceChannels, 0,
		float64(s.cfg.DeviceSampleRate),
		deviceSamples, s.buf,
	)
	if err != nil {
		_ = portaudio.Terminate()
		return fmt.Errorf("portaudio: open default stream: %w (%w)", err, capture.ErrDeviceUnavailable)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return fmt.Errorf("portaudio: start stream: %w (%w)", err, capture.ErrDeviceUnavailable)
	}

	s.stream = stream
	s.open = true

	go s.frameLoop(stream.Read)

	slog.Info("capture source open",
		"device_rate", s.cfg.DeviceSampleRate,
		"device_channels", s.cfg.DeviceChannels,
		"target_rate", s.cfg.Format.SampleRate,
		"chunk_samples", s.cfg.ChunkSamples,
	)
	return nil
}

// frameLoop reads device chunks through read and delivers frames until the
// source is closed or the device read fails. The read function is bound to
// the stream at Open time so the loop never touches fields Close mutates.
func (s *Source) frameLoop(read func() error) {
	defer close(s.loopDone)

	var (
		seq     uint64
		elapsed time.Duration
	)
	chunkDur := time.Duration(s.cfg.ChunkSamples) * time.Second /
		time.Duration(s.cfg.Format.SampleRate)

	for {
		select {
		case <-s.done:
			return
		default:
		}

		if err := read(); err != nil {
			select {
			case <-s.done:
				// Read errors during shutdown are expected.
			default:
				slog.Error("capture read failed", "err", err)
			}
			return
		}

		data := int16ToBytes(s.buf)
		if s.cfg.DeviceChannels == 2 {
			data = audio.StereoToMono(data)
		}
		if s.cfg.DeviceSampleRate != s.cfg.Format.SampleRate {
			data = audio.ResampleMono16(data, s.cfg.DeviceSampleRate, s.cfg.Format.SampleRate)
		}

		s.mu.Lock()
		fn := s.fn
		s.mu.Unlock()
		if fn != nil {
			fn(audio.Frame{
				Data:       data,
				SampleRate: s.cfg.Format.SampleRate,
				Channels:   s.cfg.Format.Channels,
				Seq:        seq,
				Timestamp:  elapsed,
			})
		}

		seq++
		elapsed += chunkDur
	}
}

// Close implements capture.Source. Stops the frame loop, releases the
// stream and terminates PortAudio. Idempotent.
func (s *Source) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		stream := s.stream
		s.stream = nil
		wasOpen := s.open
		s.open = false
		s.mu.Unlock()

		close(s.done)

		if !wasOpen {
			return
		}

		<-s.loopDone

		if stream != nil {
			_ = stream.Stop()
			err = stream.Close()
		}
		if terr := portaudio.Terminate(); err == nil {
			err = terr
		}
	})
	return err
}

// int16ToBytes converts samples to little-endian PCM16 bytes.
func int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, v := range samples {
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}
