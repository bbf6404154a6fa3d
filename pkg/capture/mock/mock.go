// Package mock provides a scriptable capture.Source for tests.
package mock

import (
	"context"
	"sync"

	"github.com/voxfacile/voxfacile/pkg/audio"
	"github.com/voxfacile/voxfacile/pkg/capture"
)

// Compile-time assertion that Source satisfies capture.Source.
var _ capture.Source = (*Source)(nil)

// Source is a test double for capture.Source. Tests push frames through
// Emit after Open has been called. The zero value is ready to use.
type Source struct {
	// OpenError, when non-nil, is returned by Open.
	OpenError error

	// SourceFormat is reported by Format. Zero value means audio.DefaultFormat.
	SourceFormat audio.Format

	mu         sync.Mutex
	fn         capture.FrameFunc
	opened     bool
	closed     bool
	OpenCalls  int
	CloseCalls int
}

// OnFrame implements capture.Source.
func (s *Source) OnFrame(fn capture.FrameFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fn = fn
}

// Format implements capture.Source.
func (s *Source) Format() audio.Format {
	if s.SourceFormat == (audio.Format{}) {
		return audio.DefaultFormat
	}
	return s.SourceFormat
}

// Open implements capture.Source.
func (s *Source) Open(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OpenCalls++
	if s.OpenError != nil {
		return s.OpenError
	}
	if s.closed {
		return capture.ErrClosed
	}
	s.opened = true
	return nil
}

// Close implements capture.Source.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCalls++
	s.closed = true
	s.opened = false
	return nil
}

// Opened reports whether the source is currently open.
func (s *Source) Opened() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

// Emit delivers a frame to the registered consumer, mimicking the device
// frame loop. No-op when the source is not open or no consumer is set.
func (s *Source) Emit(frame audio.Frame) {
	s.mu.Lock()
	fn := s.fn
	open := s.opened
	s.mu.Unlock()
	if open && fn != nil {
		fn(frame)
	}
}
