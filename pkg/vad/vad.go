// Package vad implements energy-based voice activity detection for the
// voxfacile pipeline.
//
// A Detector classifies each incoming audio frame as speech or silence using
// the frame's RMS energy measured against a rolling window of recent
// readings. Detection is asymmetric by design: a single frame above the
// threshold starts speech immediately (no onset debounce), while ending
// speech requires sustained sub-threshold audio for the configured silence
// duration. The asymmetry avoids chopping words on brief dips.
//
// Detection is synchronous: Process returns immediately with a result,
// making it suitable for the low-latency frame loop that gates turn-taking.
// A Detector is stateful and must not be shared across goroutines.
package vad

import (
	"fmt"
	"time"

	"github.com/voxfacile/voxfacile/pkg/audio"
)

// Default detection parameters. Threshold and silence duration mirror the
// session defaults; the window size covers roughly 1.5 s of 50 ms frames.
const (
	DefaultThreshold       = 0.2
	DefaultSilenceDuration = 500 * time.Millisecond
	DefaultWindowSize      = 30
)

// State is the detector's speech/silence classification.
type State int

const (
	// StateSilent indicates no active speech segment.
	StateSilent State = iota

	// StateSpeaking indicates an active speech segment.
	StateSpeaking
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateSilent:
		return "silent"
	case StateSpeaking:
		return "speaking"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// EventType enumerates per-frame detection results.
type EventType int

const (
	// EventSilence indicates no speech detected.
	EventSilence EventType = iota

	// EventSpeechStart indicates speech has just begun.
	EventSpeechStart

	// EventSpeechContinue indicates ongoing speech.
	EventSpeechContinue

	// EventSpeechEnd indicates speech has just ended.
	EventSpeechEnd
)

// Event is the detection result for a single audio frame.
type Event struct {
	// Type is the detection result.
	Type EventType

	// Probability is the speech probability score (0.0–1.0) derived from the
	// frame's energy relative to the rolling window.
	Probability float64

	// Energy is the frame's normalised RMS energy (0.0–1.0).
	Energy float64
}

// Config holds the parameters for a Detector.
type Config struct {
	// Threshold is the normalised energy above which a frame is classified as
	// speech. Range (0, 1). Defaults to DefaultThreshold when zero.
	Threshold float64

	// SilenceDuration is the continuous sub-threshold duration required to
	// end an active speech segment. Defaults to DefaultSilenceDuration when
	// zero.
	SilenceDuration time.Duration

	// WindowSize is the capacity of the rolling energy window. Defaults to
	// DefaultWindowSize when zero.
	WindowSize int
}

// Detector is a stateful energy VAD over a single audio stream.
type Detector struct {
	threshold       float64
	silenceDuration time.Duration

	window  *EnergyWindow
	state   State
	silence time.Duration // accumulated sub-threshold time while speaking
}

// New creates a Detector with the given configuration, applying defaults for
// zero-valued fields. Returns an error for out-of-range thresholds.
func New(cfg Config) (*Detector, error) {
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Threshold < 0 || cfg.Threshold >= 1 {
		return nil, fmt.Errorf("vad: threshold %v out of range (0, 1)", cfg.Threshold)
	}
	if cfg.SilenceDuration == 0 {
		cfg.SilenceDuration = DefaultSilenceDuration
	}
	if cfg.SilenceDuration < 0 {
		return nil, fmt.Errorf("vad: silence duration %v is negative", cfg.SilenceDuration)
	}
	if cfg.WindowSize == 0 {
		cfg.WindowSize = DefaultWindowSize
	}

	return &Detector{
		threshold:       cfg.Threshold,
		silenceDuration: cfg.SilenceDuration,
		window:          NewEnergyWindow(cfg.WindowSize),
	}, nil
}

// State returns the current speech/silence classification.
func (d *Detector) State() State { return d.state }

// Process analyses a single frame and returns the detection result. Frames
// must arrive in capture order; silence is accumulated from frame durations
// so detection is deterministic for a given frame sequence.
func (d *Detector) Process(frame audio.Frame) Event {
	energy := audio.RMS(frame.Data)
	d.window.Push(energy)

	ev := Event{
		Energy:      energy,
		Probability: d.probability(energy),
	}

	speech := energy > d.threshold

	switch d.state {
	case StateSilent:
		if speech {
			// Onset is immediate: a single spike above threshold ends silence.
			d.state = StateSpeaking
			d.silence = 0
			ev.Type = EventSpeechStart
		} else {
			ev.Type = EventSilence
		}

	case StateSpeaking:
		if speech {
			d.silence = 0
			ev.Type = EventSpeechContinue
		} else {
			d.silence += frame.Duration()
			if d.silence >= d.silenceDuration {
				d.state = StateSilent
				d.silence = 0
				ev.Type = EventSpeechEnd
			} else {
				ev.Type = EventSpeechContinue
			}
		}
	}

	return ev
}

// Reset clears the energy window and returns the detector to silence without
// emitting a speech-end event. Use when the audio stream is interrupted or
// restarted so stale readings do not affect the next segment.
func (d *Detector) Reset() {
	d.window.Reset()
	d.state = StateSilent
	d.silence = 0
}

// probability maps a frame energy to a speech probability: 0 below the
// threshold, otherwise the energy's position between the threshold and twice
// the rolling average, clamped to [0, 1].
func (d *Detector) probability(energy float64) float64 {
	if energy < d.threshold {
		return 0
	}
	denom := 2*d.window.Average() - d.threshold
	if denom <= 0 {
		return 1
	}
	p := (energy - d.threshold) / denom
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
