// Package mock provides an in-memory realtime session for tests.
package mock

import (
	"context"
	"sync"

	"github.com/voxfacile/voxfacile/pkg/audio"
	"github.com/voxfacile/voxfacile/pkg/realtime"
)

// Session is a scripted realtime.Session. Inject events with Emit and
// inspect outgoing traffic through the recorded call fields.
type Session struct {
	mu sync.Mutex

	// ConnectError, when set, is returned by Connect.
	ConnectError error

	// CommitError, when set, is returned by Commit.
	CommitError error

	// TruncateError, when set, is returned by Truncate.
	TruncateError error

	// Recorded traffic.
	AudioFrames   []audio.Frame
	TextMessages  []string
	CommitCalls   int
	TruncateCalls int
	ConnectCalls  int
	CloseCalls    int

	events chan realtime.Event
	state  realtime.ConnectionState
	closed bool
}

var _ realtime.Session = (*Session)(nil)

// NewSession creates a disconnected mock session.
func NewSession() *Session {
	return &Session{events: make(chan realtime.Event, 64)}
}

// Emit delivers an event to the session's consumer. No-op after Close.
func (s *Session) Emit(ev realtime.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.events <- ev
}

// SetState overrides the reported connection state.
func (s *Session) SetState(st realtime.ConnectionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

func (s *Session) Connect(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ConnectCalls++
	if s.ConnectError != nil {
		return s.ConnectError
	}
	s.state = realtime.StateConnected
	return nil
}

func (s *Session) Events() <-chan realtime.Event { return s.events }

func (s *Session) SendAudio(frame audio.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AudioFrames = append(s.AudioFrames, frame)
	return nil
}

func (s *Session) SendText(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TextMessages = append(s.TextMessages, text)
	return nil
}

func (s *Session) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CommitCalls++
	return s.CommitError
}

func (s *Session) Truncate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TruncateCalls++
	return s.TruncateError
}

func (s *Session) State() realtime.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCalls++
	if !s.closed {
		s.closed = true
		s.state = realtime.StateClosing
		close(s.events)
	}
	return nil
}
