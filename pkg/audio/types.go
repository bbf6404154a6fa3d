// Package audio defines the frame type and PCM helpers shared by the
// voxfacile pipeline. Frames are the atomic unit of audio transport —
// produced by a capture source, analysed by the voice activity detector,
// and streamed to the realtime session client.
package audio

import "time"

// Frame is a single fixed-size chunk of little-endian PCM16 audio.
// Frames are immutable once produced; consumers must not modify Data.
type Frame struct {
	// Data is raw little-endian PCM16 audio.
	Data []byte

	// SampleRate in Hz (16000 by pipeline convention).
	SampleRate int

	// Channels: 1 for mono. The pipeline is mono end to end.
	Channels int

	// Seq is a monotonically increasing sequence number assigned by the
	// capture source. Frames are delivered downstream in Seq order.
	Seq uint64

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Format describes the sample rate, channel count and bit depth of a stream.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// DefaultFormat is the pipeline-wide capture format: 16 kHz mono PCM16.
var DefaultFormat = Format{SampleRate: 16000, Channels: 1, BitDepth: 16}

// Duration returns the playback duration of the frame's PCM data.
// Returns 0 for frames with an invalid or unset format.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := len(f.Data) / 2 / f.Channels
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// Samples returns the number of PCM16 samples per channel in the frame.
func (f Frame) Samples() int {
	if f.Channels <= 0 {
		return 0
	}
	return len(f.Data) / 2 / f.Channels
}
