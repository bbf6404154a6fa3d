package session

import (
	"github.com/voxfacile/voxfacile/internal/script"
	"github.com/voxfacile/voxfacile/internal/turn"
	"github.com/voxfacile/voxfacile/pkg/realtime"
)

// Snapshot is the immutable view of session state handed to the UI. A new
// snapshot is published on every observable change; consumers never reach
// into the components themselves.
type Snapshot struct {
	// Turn is the authoritative turn state.
	Turn turn.State `json:"turn"`

	// Connection is the realtime link state.
	Connection realtime.ConnectionState `json:"connection"`

	// Script locates the session within the facilitation outline.
	Script script.Position `json:"script"`

	// Progress is the fraction of the outline completed, in [0, 1].
	Progress float64 `json:"progress"`

	// Prompt is the facilitator text for the current script position.
	Prompt string `json:"prompt"`

	// Done reports that the facilitation outline has been completed.
	Done bool `json:"done"`

	// Transcript is the last completed transcription of user speech.
	Transcript string `json:"transcript"`

	// Response is the AI's current utterance, accumulated from text deltas.
	Response string `json:"response"`

	// Energy is the loudness of the AI's audio, 0–100, for animation.
	Energy int `json:"energy"`

	// Paused reports whether capture and turn-taking are suspended.
	Paused bool `json:"paused"`

	// BreakDue is set once the configured break interval has elapsed.
	BreakDue bool `json:"break_due"`

	// Error is the last surfaced error message. It persists until
	// explicitly cleared or a new session starts.
	Error string `json:"error,omitempty"`
}
