package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/voxfacile/voxfacile/pkg/audio"
	"github.com/voxfacile/voxfacile/pkg/capture"
)

var _ capture.Source = (*BrowserSource)(nil)

// BrowserSource is a capture source fed by a browser microphone over the
// gateway's stream WebSocket. The stream handler pushes raw PCM16 payloads
// in; the source stamps them into frames and hands them to the registered
// consumer, exactly like a local device source would.
type BrowserSource struct {
	format audio.Format

	mu      sync.Mutex
	fn      capture.FrameFunc
	open    bool
	closed  bool
	seq     uint64
	elapsed time.Duration
}

// NewBrowserSource creates a source producing frames in the given format.
// A zero format means [audio.DefaultFormat].
func NewBrowserSource(format audio.Format) *BrowserSource {
	if format == (audio.Format{}) {
		format = audio.DefaultFormat
	}
	return &BrowserSource{format: format}
}

// OnFrame implements capture.Source.
func (s *BrowserSource) OnFrame(fn capture.FrameFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fn = fn
}

// Format implements capture.Source.
func (s *BrowserSource) Format() audio.Format { return s.format }

// Open implements capture.Source. There is no device to acquire; the
// browser owns the microphone. Open only arms the source so pushed audio
// starts flowing.
func (s *BrowserSource) Open(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return capture.ErrClosed
	}
	s.open = true
	return nil
}

// Close implements capture.Source. Pushes after Close are dropped.
func (s *BrowserSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	s.closed = true
	return nil
}

// Push stamps data into a frame and delivers it to the consumer. Payloads
// arriving before Open or after Close are dropped silently; the browser
// keeps sending for a moment around session edges and that is not an error.
func (s *BrowserSource) Push(data []byte) {
	s.mu.Lock()
	if !s.open || s.fn == nil {
		s.mu.Unlock()
		return
	}
	frame := audio.Frame{
		Data:       data,
		SampleRate: s.format.SampleRate,
		Channels:   s.format.Channels,
		Seq:        s.seq,
		Timestamp:  s.elapsed,
	}
	s.seq++
	s.elapsed += frame.Duration()
	fn := s.fn
	s.mu.Unlock()

	fn(frame)
}
