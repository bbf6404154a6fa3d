// Package realtime implements the streaming session client for the hosted
// speech/response service (the OpenAI Realtime API).
//
// A Client owns one persistent WebSocket connection for the lifetime of a
// session. Outgoing audio is base64-encoded PCM16 appended to the service's
// input buffer; incoming wire events are decoded into a closed set of
// application-level events delivered on a single channel. The client manages
// the handshake, keep-alive pings, and reconnection with a fixed delay and a
// bounded attempt budget.
//
// The client performs no application-level recovery: failures are emitted
// upward as typed events and the turn coordinator decides what they mean.
package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/voxfacile/voxfacile/pkg/audio"
)

// Default connection parameters.
const (
	DefaultURL               = "wss://api.openai.com/v1/realtime"
	DefaultModel             = "gpt-4o-realtime-preview"
	DefaultVoice             = "alloy"
	DefaultReconnectAttempts = 3
	DefaultReconnectDelay    = 1 * time.Second
	DefaultPingInterval      = 30 * time.Second
	DefaultConnectTimeout    = 5 * time.Second
	DefaultMaxBufferBytes    = 1 << 20 // 1 MiB of buffered outgoing audio
)

// ConnectionState tracks the lifecycle of the socket connection.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateClosing
)

// String returns a human-readable state name.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// EventType enumerates the application-level events a Client emits.
type EventType int

const (
	// EventSessionCreated acknowledges the service accepted the session.
	EventSessionCreated EventType = iota

	// EventTranscriptReady carries the completed transcription of user speech.
	EventTranscriptReady

	// EventResponseTextDelta carries a partial response text fragment.
	// Consecutive deltas accumulate into one growing string for display.
	EventResponseTextDelta

	// EventResponseAudioEnergy carries the 0–100 loudness of a response audio
	// chunk, used to drive animation intensity.
	EventResponseAudioEnergy

	// EventResponseComplete signals the end of an AI utterance.
	EventResponseComplete

	// EventSpeechStartedHint / EventSpeechStoppedHint are the service's
	// server-side VAD signals. Advisory only: local detection is
	// authoritative for turn-taking.
	EventSpeechStartedHint
	EventSpeechStoppedHint

	// EventRemoteError carries a service-reported error.
	EventRemoteError

	// EventConnectionLost is emitted once per failed reconnect attempt.
	EventConnectionLost

	// EventConnectionFailed is terminal: the reconnect budget is exhausted.
	EventConnectionFailed

	// EventBackpressure signals the outgoing audio buffer is full and the
	// newest frame was dropped. Advisory; the session continues.
	EventBackpressure
)

// Event is one decoded application-level event.
type Event struct {
	Type   EventType
	Text   string
	Energy int
	Err    error
}

// TurnDetection tunes the service's server-side VAD hints.
type TurnDetection struct {
	Threshold       float64
	PrefixPadding   time.Duration
	SilenceDuration time.Duration
}

// Config configures a Client. Zero-valued fields take the package defaults.
type Config struct {
	// URL is the realtime endpoint base URL.
	URL string

	// APIKey authenticates the connection.
	APIKey string

	// Model selects the realtime model.
	Model string

	// Voice is the synthesised voice identifier.
	Voice string

	// Instructions is the system-level prompt for the session.
	Instructions string

	// Format is the PCM format of outgoing audio.
	Format audio.Format

	// TurnDetection enables server-side VAD hints when non-nil.
	TurnDetection *TurnDetection

	// ReconnectAttempts is the retry budget after an unexpected close.
	ReconnectAttempts int

	// ReconnectDelay is the fixed delay before each reconnect attempt.
	ReconnectDelay time.Duration

	// PingInterval is the keep-alive ping period.
	PingInterval time.Duration

	// ConnectTimeout bounds the dial plus handshake.
	ConnectTimeout time.Duration

	// MaxBufferBytes bounds the outgoing audio queue.
	MaxBufferBytes int
}

func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Voice == "" {
		c.Voice = DefaultVoice
	}
	if c.Format == (audio.Format{}) {
		c.Format = audio.DefaultFormat
	}
	if c.ReconnectAttempts == 0 {
		c.ReconnectAttempts = DefaultReconnectAttempts
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.PingInterval == 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.MaxBufferBytes == 0 {
		c.MaxBufferBytes = DefaultMaxBufferBytes
	}
	return c
}

// ErrClientClosed is returned by operations on a closed Client.
var ErrClientClosed = fmt.Errorf("realtime: client closed")

// Session is the client surface consumed by the turn coordinator and the
// session facade.
type Session interface {
	Connect(ctx context.Context) error
	Events() <-chan Event
	SendAudio(frame audio.Frame) error
	SendText(text string) error
	Commit() error
	Truncate() error
	State() ConnectionState
	Close() error
}

var _ Session = (*Client)(nil)

// Client is a streaming session over one persistent WebSocket connection.
// All exported methods are safe for concurrent use.
type Client struct {
	cfg Config

	events chan Event
	queue  *frameQueue
	kick   chan struct{} // wakes the write loop

	mu         sync.Mutex
	state      ConnectionState
	conn       *websocket.Conn
	lastItemID string // most recent assistant item, for truncation

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates a Client with the given configuration. The client does not
// connect until Connect is called.
func New(cfg Config) *Client {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:    cfg,
		events: make(chan Event, 64),
		queue:  newFrameQueue(cfg.MaxBufferBytes),
		kick:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Events returns the channel on which decoded application events arrive.
// The channel is closed by Close.
func (c *Client) Events() <-chan Event { return c.events }

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials the realtime endpoint, performs the session handshake and
// starts the receive, write and keep-alive loops. Audio buffered while the
// connection was down is flushed in order once connected.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateClosing {
		c.mu.Unlock()
		return ErrClientClosed
	}
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return fmt.Errorf("realtime: connect in state %s", c.state)
	}
	c.state = StateConnecting
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		c.setState(StateDisconnected)
		return err
	}

	c.adopt(conn)
	return nil
}

// dial opens the socket and sends the session.update handshake.
func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	wsURL := fmt.Sprintf("%s?model=%s", c.cfg.URL, c.cfg.Model)
	conn, _, err := websocket.Dial(dialCtx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + c.cfg.APIKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("realtime: dial: %w", err)
	}

	update := sessionUpdateEvent{
		clientEvent: newClientEvent("session.update"),
		Session: sessionParams{
			Modalities:        []string{"text", "audio"},
			Instructions:      c.cfg.Instructions,
			Voice:             c.cfg.Voice,
			InputAudioFormat:  "pcm16",
			OutputAudioFormat: "pcm16",
		},
	}
	if td := c.cfg.TurnDetection; td != nil {
		update.Session.TurnDetection = &turnDetection{
			Type:              "server_vad",
			Threshold:         td.Threshold,
			PrefixPaddingMs:   int(td.PrefixPadding.Milliseconds()),
			SilenceDurationMs: int(td.SilenceDuration.Milliseconds()),
		}
	}

	data, err := json.Marshal(update)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "handshake marshal failed")
		return nil, fmt.Errorf("realtime: marshal handshake: %w", err)
	}
	if err := conn.Write(dialCtx, websocket.MessageText, data); err != nil {
		conn.Close(websocket.StatusInternalError, "handshake failed")
		return nil, fmt.Errorf("realtime: handshake: %w", err)
	}

	return conn, nil
}

// adopt installs a freshly handshaken connection and starts its loops.
func (c *Client) adopt(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.state = StateConnected
	c.mu.Unlock()

	c.wg.Add(3)
	go c.receiveLoop(conn)
	go c.writeLoop(conn)
	go c.pingLoop(conn)

	// Flush anything buffered while the connection was down.
	c.wake()
}

// SendAudio enqueues an outgoing audio frame. Frames are buffered while the
// connection is down and flushed in sequence order on reconnect. When the
// buffer is full the frame is dropped and a Backpressure event emitted.
func (c *Client) SendAudio(frame audio.Frame) error {
	c.mu.Lock()
	if c.state == StateClosing {
		c.mu.Unlock()
		return ErrClientClosed
	}
	c.mu.Unlock()

	if !c.queue.push(frame) {
		c.emit(Event{Type: EventBackpressure})
		return nil
	}
	c.wake()
	return nil
}

// SendText transmits a user text message as a conversation item, out of band
// of the audio stream.
func (c *Client) SendText(text string) error {
	return c.writeEvent(conversationItemCreateEvent{
		clientEvent: newClientEvent("conversation.item.create"),
		Item: conversationItem{
			Type: "message",
			Role: "user",
			Content: []conversationPart{
				{Type: "input_text", Text: text},
			},
		},
	})
}

// Commit signals end of the user's utterance: the buffered input audio is
// committed and the service begins formulating a response.
func (c *Client) Commit() error {
	return c.writeEvent(audioCommitEvent{clientEvent: newClientEvent("input_audio_buffer.commit")})
}

// Truncate interrupts the in-flight AI utterance: the pending response is
// cancelled and, when the producing item is known, truncated so the service's
// view of the conversation matches what the user actually heard.
func (c *Client) Truncate() error {
	if err := c.writeEvent(responseCancelEvent{clientEvent: newClientEvent("response.cancel")}); err != nil {
		return err
	}

	c.mu.Lock()
	itemID := c.lastItemID
	c.mu.Unlock()
	if itemID == "" {
		return nil
	}
	return c.writeEvent(itemTruncateEvent{
		clientEvent: newClientEvent("conversation.item.truncate"),
		ItemID:      itemID,
	})
}

// Close terminates the session: pending reconnects are cancelled, buffered
// audio is discarded and the socket is closed without waiting for a remote
// acknowledgment. Idempotent and safe to call from any state.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateClosing
		conn := c.conn
		c.conn = nil
		c.mu.Unlock()

		c.cancel()
		c.queue.clear()
		if conn != nil {
			conn.Close(websocket.StatusNormalClosure, "session ended")
		}

		c.wg.Wait()
		close(c.events)
	})
	return nil
}

// ── Loops ──────────────────────────────────────────────────────────────────────

// receiveLoop reads wire events from one connection and dispatches them.
// On an unexpected close it hands over to the reconnect loop.
func (c *Client) receiveLoop(conn *websocket.Conn) {
	defer c.wg.Done()

	for {
		_, data, err := conn.Read(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil || c.State() == StateClosing {
				return
			}
			slog.Warn("realtime connection dropped", "err", err)
			c.setState(StateDisconnected)
			c.wg.Add(1)
			go c.reconnectLoop()
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}
		c.handleServerEvent(&evt)
	}
}

// writeLoop drains the outgoing frame queue onto one connection. It exits
// when the client closes or the connection is replaced.
func (c *Client) writeLoop(conn *websocket.Conn) {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.kick:
		}

		for {
			c.mu.Lock()
			current := c.conn
			connected := c.state == StateConnected
			c.mu.Unlock()
			if current != conn {
				// A replacement connection owns the queue now; hand the
				// wake token to its write loop.
				c.wake()
				return
			}
			if !connected {
				return
			}

			frame, ok := c.queue.pop()
			if !ok {
				break
			}

			ev := audioAppendEvent{
				clientEvent: newClientEvent("input_audio_buffer.append"),
				Audio:       base64.StdEncoding.EncodeToString(frame.Data),
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := conn.Write(c.ctx, websocket.MessageText, data); err != nil {
				// The receive loop observes the same failure and drives
				// reconnection; keep the frame for the next connection.
				c.queue.requeue(frame)
				return
			}
		}
	}
}

// pingLoop sends a keep-alive ping at the configured interval.
func (c *Client) pingLoop(conn *websocket.Conn) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			current := c.conn
			c.mu.Unlock()
			if current != conn {
				return
			}
			if err := conn.Ping(c.ctx); err != nil {
				return
			}
		}
	}
}

// reconnectLoop retries the connection with a fixed delay. One
// ConnectionLost event is emitted per failed attempt; a terminal
// ConnectionFailed follows the last.
func (c *Client) reconnectLoop() {
	defer c.wg.Done()

	for attempt := 1; attempt <= c.cfg.ReconnectAttempts; attempt++ {
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(c.cfg.ReconnectDelay):
		}

		if c.State() == StateClosing {
			return
		}

		slog.Info("realtime reconnecting",
			"attempt", attempt,
			"max_attempts", c.cfg.ReconnectAttempts,
		)

		c.setState(StateConnecting)
		conn, err := c.dial(c.ctx)
		if err == nil {
			slog.Info("realtime reconnected", "attempt", attempt)
			c.adopt(conn)
			return
		}

		slog.Warn("realtime reconnect attempt failed", "attempt", attempt, "err", err)
		c.setState(StateDisconnected)
		c.emit(Event{Type: EventConnectionLost, Err: err})
	}

	c.emit(Event{
		Type: EventConnectionFailed,
		Err:  fmt.Errorf("realtime: reconnect budget exhausted after %d attempts", c.cfg.ReconnectAttempts),
	})
}

// ── Event handling ─────────────────────────────────────────────────────────────

func (c *Client) handleServerEvent(evt *serverEvent) {
	switch evt.Type {
	case typeSessionCreated:
		c.emit(Event{Type: EventSessionCreated})

	case typeTranscriptionCompleted:
		if evt.Transcript == "" {
			return
		}
		c.emit(Event{Type: EventTranscriptReady, Text: evt.Transcript})

	case typeResponseTextDelta, typeTranscriptDelta:
		if evt.Delta == "" {
			return
		}
		c.emit(Event{Type: EventResponseTextDelta, Text: evt.Delta})

	case typeResponseAudioDelta:
		if evt.ItemID != "" {
			c.mu.Lock()
			c.lastItemID = evt.ItemID
			c.mu.Unlock()
		}
		pcm, err := base64.StdEncoding.DecodeString(evt.Delta)
		if err != nil || len(pcm) == 0 {
			return
		}
		c.emit(Event{
			Type:   EventResponseAudioEnergy,
			Energy: audio.EnergyPercent(audio.RMS(pcm)),
		})

	case typeResponseDone, typeResponseTextDone:
		c.emit(Event{Type: EventResponseComplete})

	case typeSpeechStarted:
		c.emit(Event{Type: EventSpeechStartedHint})

	case typeSpeechStopped:
		c.emit(Event{Type: EventSpeechStoppedHint})

	case typeError:
		msg := "unknown error"
		if evt.Error != nil && evt.Error.Message != "" {
			msg = evt.Error.Message
		}
		c.emit(Event{Type: EventRemoteError, Err: fmt.Errorf("realtime: %s", msg)})
	}
}

// ── Internals ──────────────────────────────────────────────────────────────────

func (c *Client) setState(s ConnectionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosing {
		return
	}
	c.state = s
}

// emit delivers an event, dropping it if the client is shutting down.
func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.ctx.Done():
	}
}

// wake nudges the write loop without blocking.
func (c *Client) wake() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// writeEvent marshals v and writes it as one text frame on the current
// connection. Fails when not connected.
func (c *Client) writeEvent(v any) error {
	c.mu.Lock()
	conn := c.conn
	state := c.state
	c.mu.Unlock()

	if state == StateClosing {
		return ErrClientClosed
	}
	if conn == nil || state != StateConnected {
		return fmt.Errorf("realtime: not connected (state %s)", state)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("realtime: marshal: %w", err)
	}
	if err := conn.Write(c.ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("realtime: write: %w", err)
	}
	return nil
}
