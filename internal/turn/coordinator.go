// Package turn implements the session's turn-taking state machine. The
// coordinator owns the authoritative turn state; the voice detector and the
// realtime client never read or write it, they only emit events that the
// coordinator consumes.
//
// All events are funnelled through a single goroutine, so every transition —
// including the barge-in path, which must truncate the in-flight AI utterance
// and hand the turn to the user within one processing tick — is applied
// without interleaving.
package turn

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/voxfacile/voxfacile/internal/script"
)

// State is the authoritative turn state.
type State int32

const (
	// StateIdle means no session is active.
	StateIdle State = iota

	// StateUserTurn means the session waits for or receives user speech.
	StateUserTurn

	// StateAITurn means the AI is producing a response.
	StateAITurn

	// StateInterrupted is the transient sub-state of an AI turn passed
	// through during a barge-in.
	StateInterrupted
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateUserTurn:
		return "user_turn"
	case StateAITurn:
		return "ai_turn"
	case StateInterrupted:
		return "interrupted"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Cause names what drove a transition.
type Cause string

const (
	CauseStart            Cause = "start"
	CauseEnd              Cause = "end"
	CauseBargeIn          Cause = "barge_in"
	CauseSpeechEnd        Cause = "speech_end"
	CauseResponseBegan    Cause = "response_began"
	CauseResponseComplete Cause = "response_complete"
	CauseRemoteError      Cause = "remote_error"
	CauseConnectionFailed Cause = "connection_failed"
	CauseDeviceError      Cause = "device_error"
)

// Transition is one observed state change.
type Transition struct {
	From  State
	To    State
	Cause Cause

	// Err is set for failure-driven transitions.
	Err error
}

// Commander issues turn-boundary commands to the realtime session.
type Commander interface {
	// Commit marks the user's buffered audio as a complete utterance.
	Commit() error

	// Truncate interrupts the in-flight AI utterance.
	Truncate() error
}

const defaultEventBuf = 64

type eventKind int

const (
	evStart eventKind = iota
	evEnd
	evSpeechStart
	evSpeechEnd
	evResponseBegan
	evResponseComplete
	evRemoteError
	evConnectionFailed
	evDeviceError
)

type event struct {
	kind eventKind
	err  error
}

// Coordinator runs the turn state machine over a single event loop.
// All exported methods are safe for concurrent use.
type Coordinator struct {
	cmd Commander

	state       atomic.Int32
	events      chan event
	transitions chan Transition

	// cursorMu guards the cursor, which the loop advances and readers
	// (snapshot producers) inspect.
	cursorMu sync.Mutex
	cursor   *script.Cursor

	// awaitingResponse is loop-owned: set after a committed utterance until
	// the first response delta arrives.
	awaitingResponse bool

	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a coordinator in the idle state and starts its event loop.
// Close must be called to stop it.
func New(cmd Commander, cursor *script.Cursor) *Coordinator {
	c := &Coordinator{
		cmd:         cmd,
		cursor:      cursor,
		events:      make(chan event, defaultEventBuf),
		transitions: make(chan Transition, defaultEventBuf),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	go c.loop()
	return c
}

// State returns the current turn state.
func (c *Coordinator) State() State { return State(c.state.Load()) }

// Transitions returns the channel on which state changes are announced.
// Closed by Close.
func (c *Coordinator) Transitions() <-chan Transition { return c.transitions }

// Start activates the session: idle becomes user turn.
func (c *Coordinator) Start() { c.push(event{kind: evStart}) }

// End deactivates the session from any state.
func (c *Coordinator) End() { c.push(event{kind: evEnd}) }

// SpeechStart reports that local voice detection saw the user begin
// speaking. During an AI turn this triggers a barge-in.
func (c *Coordinator) SpeechStart() { c.push(event{kind: evSpeechStart}) }

// SpeechEnd reports that the user's utterance finished.
func (c *Coordinator) SpeechEnd() { c.push(event{kind: evSpeechEnd}) }

// ResponseBegan reports the first response delta of an AI utterance.
func (c *Coordinator) ResponseBegan() { c.push(event{kind: evResponseBegan}) }

// ResponseComplete reports the end of an AI utterance.
func (c *Coordinator) ResponseComplete() { c.push(event{kind: evResponseComplete}) }

// RemoteError reports a service-side failure. Forces idle.
func (c *Coordinator) RemoteError(err error) { c.push(event{kind: evRemoteError, err: err}) }

// ConnectionFailed reports an exhausted reconnect budget. Forces idle.
func (c *Coordinator) ConnectionFailed(err error) { c.push(event{kind: evConnectionFailed, err: err}) }

// DeviceError reports a capture-device failure. Forces idle.
func (c *Coordinator) DeviceError(err error) { c.push(event{kind: evDeviceError, err: err}) }

// Prompt returns the facilitator text for the current script position.
func (c *Coordinator) Prompt() string {
	c.cursorMu.Lock()
	defer c.cursorMu.Unlock()
	return c.cursor.Prompt()
}

// ScriptPosition returns the current script location.
func (c *Coordinator) ScriptPosition() script.Position {
	c.cursorMu.Lock()
	defer c.cursorMu.Unlock()
	return c.cursor.Position()
}

// ScriptProgress returns the fraction of the script completed.
func (c *Coordinator) ScriptProgress() float64 {
	c.cursorMu.Lock()
	defer c.cursorMu.Unlock()
	return c.cursor.Progress()
}

// ScriptDone reports whether the script has reached its terminal step.
func (c *Coordinator) ScriptDone() bool {
	c.cursorMu.Lock()
	defer c.cursorMu.Unlock()
	return c.cursor.Done()
}

// Close stops the event loop and closes the transition channel. Idempotent.
func (c *Coordinator) Close() error {
	c.closeOnce.Do(func() {
		close(c.quit)
		<-c.done
		close(c.transitions)
	})
	return nil
}

// push enqueues an event, dropping it when the coordinator is shutting down.
func (c *Coordinator) push(ev event) {
	select {
	case c.events <- ev:
	case <-c.quit:
	}
}

// ── Event loop ─────────────────────────────────────────────────────────────────

func (c *Coordinator) loop() {
	defer close(c.done)
	for {
		select {
		case <-c.quit:
			// Events pushed before Close still get processed, so an End
			// queued right before shutdown produces its idle transition.
			for {
				select {
				case ev := <-c.events:
					c.handle(ev)
				default:
					return
				}
			}
		case ev := <-c.events:
			c.handle(ev)
		}
	}
}

func (c *Coordinator) handle(ev event) {
	state := c.State()

	switch ev.kind {
	case evStart:
		if state != StateIdle {
			return
		}
		c.awaitingResponse = false
		c.transition(state, StateUserTurn, CauseStart, nil)

	case evEnd:
		if state == StateIdle {
			return
		}
		c.awaitingResponse = false
		c.transition(state, StateIdle, CauseEnd, nil)

	case evSpeechStart:
		// During the user's own turn, nothing changes; frames keep
		// streaming. During an AI turn this is a barge-in: truncate and
		// hand the turn over before any other event is processed.
		if state != StateAITurn {
			return
		}
		c.transition(state, StateInterrupted, CauseBargeIn, nil)
		if err := c.cmd.Truncate(); err != nil {
			slog.Warn("truncate on barge-in failed", "err", err)
		}
		c.awaitingResponse = false
		c.transition(StateInterrupted, StateUserTurn, CauseBargeIn, nil)

	case evSpeechEnd:
		if state != StateUserTurn {
			return
		}
		if err := c.cmd.Commit(); err != nil {
			slog.Warn("commit at end of utterance failed", "err", err)
			return
		}
		// The turn flips to the AI once the remote actually starts
		// responding, not at commit time.
		c.awaitingResponse = true

	case evResponseBegan:
		if state != StateUserTurn || !c.awaitingResponse {
			return
		}
		c.awaitingResponse = false
		c.transition(state, StateAITurn, CauseResponseBegan, nil)

	case evResponseComplete:
		if state != StateAITurn {
			return
		}
		c.advanceScript()
		c.transition(state, StateUserTurn, CauseResponseComplete, nil)

	case evRemoteError:
		c.fail(state, CauseRemoteError, ev.err)

	case evConnectionFailed:
		c.fail(state, CauseConnectionFailed, ev.err)

	case evDeviceError:
		c.fail(state, CauseDeviceError, ev.err)
	}
}

func (c *Coordinator) fail(from State, cause Cause, err error) {
	if from == StateIdle {
		return
	}
	c.awaitingResponse = false
	c.transition(from, StateIdle, cause, err)
}

func (c *Coordinator) advanceScript() {
	c.cursorMu.Lock()
	defer c.cursorMu.Unlock()
	if !c.cursor.Advance() {
		slog.Info("script completed", "position", c.cursor.Position())
	}
}

func (c *Coordinator) transition(from, to State, cause Cause, err error) {
	c.state.Store(int32(to))
	slog.Debug("turn transition",
		"from", from.String(),
		"to", to.String(),
		"cause", string(cause),
	)

	t := Transition{From: from, To: to, Cause: cause, Err: err}
	select {
	case c.transitions <- t:
	default:
		slog.Warn("transition observer is slow; dropping notification",
			"from", from.String(),
			"to", to.String(),
		)
	}
}
