// Package capture defines the Source interface for microphone audio input.
//
// A Source owns exclusive access to one input device for the lifetime of a
// session and delivers fixed-size PCM16 frames to a single registered
// consumer. Frames carry monotonically increasing sequence numbers and are
// delivered in order. The frame callback runs on the source's internal
// goroutine and must not block: a slow consumer stalls the device read loop
// and causes buffer overruns.
//
// Implementations: capture/portaudio wraps a local input device; the gateway
// provides a WebSocket-fed source for browser microphones; capture/mock is a
// test double.
package capture

import (
	"context"
	"errors"

	"github.com/voxfacile/voxfacile/pkg/audio"
)

// ErrDeviceUnavailable indicates the input device could not be acquired:
// permission denied, no device present, or the platform audio layer failed
// to initialise. Fatal to the session; callers must not retry.
var ErrDeviceUnavailable = errors.New("capture: audio input device unavailable")

// ErrClosed is returned by operations on a closed Source.
var ErrClosed = errors.New("capture: source closed")

// FrameFunc consumes one captured frame. It runs on the source's frame
// goroutine and must return promptly.
type FrameFunc func(audio.Frame)

// Source is an exclusive handle on one audio input stream.
type Source interface {
	// Open acquires the device and starts producing frames. Fails with an
	// error wrapping ErrDeviceUnavailable when the device cannot be acquired.
	// Calling Open on an already-open source is an error.
	Open(ctx context.Context) error

	// OnFrame registers the frame consumer. Must be called before Open.
	// Only one consumer can be active; a second call replaces the first.
	OnFrame(fn FrameFunc)

	// Format reports the format of the frames this source produces.
	Format() audio.Format

	// Close stops the device and releases it. Idempotent; safe to call from
	// any state, including while Open is in flight.
	Close() error
}
