package realtime

import "github.com/google/uuid"

// Wire-level event types for the OpenAI Realtime API. Field names mirror the
// service's documented schema; the protocol is treated as a fixed external
// contract.

// ── Outgoing events ────────────────────────────────────────────────────────────

type clientEvent struct {
	EventID string `json:"event_id,omitempty"`
	Type    string `json:"type"`
}

func newClientEvent(typ string) clientEvent {
	return clientEvent{EventID: uuid.NewString(), Type: typ}
}

type sessionUpdateEvent struct {
	clientEvent
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Modalities        []string       `json:"modalities,omitempty"`
	Instructions      string         `json:"instructions,omitempty"`
	Voice             string         `json:"voice,omitempty"`
	InputAudioFormat  string         `json:"input_audio_format"`
	OutputAudioFormat string         `json:"output_audio_format"`
	TurnDetection     *turnDetection `json:"turn_detection,omitempty"`
}

// turnDetection configures the service's server-side VAD. Local detection is
// authoritative for turn-taking; these parameters only tune the advisory
// speech_started / speech_stopped hints.
type turnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
}

type audioAppendEvent struct {
	clientEvent
	Audio string `json:"audio"` // base64-encoded PCM16
}

type audioCommitEvent struct {
	clientEvent
}

type conversationItemCreateEvent struct {
	clientEvent
	Item conversationItem `json:"item"`
}

type conversationItem struct {
	Type    string             `json:"type"`
	Role    string             `json:"role,omitempty"`
	Content []conversationPart `json:"content,omitempty"`
}

type conversationPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type itemTruncateEvent struct {
	clientEvent
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	AudioEndMs   int    `json:"audio_end_ms"`
}

type responseCancelEvent struct {
	clientEvent
}

// ── Incoming events ────────────────────────────────────────────────────────────

// serverErrorDetail is the nested error object in an error event:
// {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type serverEvent struct {
	EventID string `json:"event_id,omitempty"`
	Type    string `json:"type"`

	// response.text.delta / response.audio_transcript.delta /
	// response.audio.delta
	Delta string `json:"delta,omitempty"`

	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`
	ItemID     string `json:"item_id,omitempty"`

	// error event
	Error *serverErrorDetail `json:"error,omitempty"`
}

// Incoming wire type names.
const (
	typeSessionCreated         = "session.created"
	typeTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"
	typeResponseTextDelta      = "response.text.delta"
	typeTranscriptDelta        = "response.audio_transcript.delta"
	typeResponseAudioDelta     = "response.audio.delta"
	typeResponseDone           = "response.done"
	typeResponseTextDone       = "response.text.done"
	typeSpeechStarted          = "input_audio_buffer.speech_started"
	typeSpeechStopped          = "input_audio_buffer.speech_stopped"
	typeError                  = "error"
)
