// Package session wires the capture source, voice detector, realtime client
// and turn coordinator into one facade. The facade is the only surface the
// UI talks to: control calls go in, immutable [Snapshot] values come out.
//
// A facade serves exactly one session. Start acquires the microphone and the
// realtime connection; End releases both. Nothing outlives the session.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voxfacile/voxfacile/internal/observe"
	"github.com/voxfacile/voxfacile/internal/record"
	"github.com/voxfacile/voxfacile/internal/script"
	"github.com/voxfacile/voxfacile/internal/turn"
	"github.com/voxfacile/voxfacile/pkg/audio"
	"github.com/voxfacile/voxfacile/pkg/capture"
	"github.com/voxfacile/voxfacile/pkg/realtime"
	"github.com/voxfacile/voxfacile/pkg/vad"
)

const (
	// DefaultMaxDuration caps a session's total length.
	DefaultMaxDuration = 4 * time.Hour

	// defaultFrameBuf is the capture-to-loop frame buffer depth. The
	// capture callback must never block, so overflow drops frames.
	defaultFrameBuf = 32
)

// Config assembles a session's components. Source, Client, Detector and
// Cursor are required; the rest is optional.
type Config struct {
	Source   capture.Source
	Client   realtime.Session
	Detector *vad.Detector
	Cursor   *script.Cursor

	// MaxDuration ends the session when it elapses. Defaults to 4 hours.
	MaxDuration time.Duration

	// BreakAfter raises the snapshot's break flag once elapsed. Zero
	// disables break reminders.
	BreakAfter time.Duration

	// Recorder, when non-nil, receives every captured frame.
	Recorder *record.Recorder

	// Metrics records session telemetry. Nil means the package default
	// instance.
	Metrics *observe.Metrics
}

// Facade aggregates one session's components behind a snapshot/control
// surface. All exported methods are safe for concurrent use.
type Facade struct {
	cfg   Config
	coord *turn.Coordinator

	frames chan audio.Frame

	mu       sync.Mutex
	snap     Snapshot
	subs     map[int]chan Snapshot
	nextSub  int
	paused       bool
	started      bool
	looping      bool
	respDone     bool // next response delta starts a fresh utterance
	reconnecting bool // snapshot error is a transient reconnect notice

	// Utterance timing, touched only on the loop goroutine.
	speechBegan time.Duration
	committedAt time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	loopEnd chan struct{}
	endOnce sync.Once
}

// New creates a facade around cfg's components. The session does not touch
// the device or the network until Start.
func New(cfg Config) (*Facade, error) {
	if cfg.Source == nil || cfg.Client == nil || cfg.Detector == nil || cfg.Cursor == nil {
		return nil, fmt.Errorf("session: source, client, detector and cursor are required")
	}
	if cfg.MaxDuration == 0 {
		cfg.MaxDuration = DefaultMaxDuration
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}

	ctx, cancel := context.WithCancel(context.Background())
	f := &Facade{
		cfg:     cfg,
		coord:   turn.New(cfg.Client, cfg.Cursor),
		frames:  make(chan audio.Frame, defaultFrameBuf),
		subs:    make(map[int]chan Snapshot),
		ctx:     ctx,
		cancel:  cancel,
		loopEnd: make(chan struct{}),
	}
	f.snap = Snapshot{
		Turn:   turn.StateIdle,
		Script: cfg.Cursor.Position(),
		Prompt: cfg.Cursor.Prompt(),
	}
	return f, nil
}

// Start activates the session: connects the realtime client, opens the
// capture device, hands the turn to the user and sends the opening script
// prompt. A previous error in the snapshot is cleared.
func (f *Facade) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.started {
		f.mu.Unlock()
		return fmt.Errorf("session: already started")
	}
	f.started = true
	f.snap.Error = ""
	f.mu.Unlock()

	if err := f.cfg.Client.Connect(ctx); err != nil {
		f.surfaceError(err)
		return fmt.Errorf("session: connect: %w", err)
	}

	f.cfg.Source.OnFrame(f.onFrame)
	if err := f.cfg.Source.Open(ctx); err != nil {
		f.cfg.Client.Close()
		f.surfaceError(err)
		return fmt.Errorf("session: open capture: %w", err)
	}

	f.mu.Lock()
	f.looping = true
	f.mu.Unlock()
	go f.loop()
	f.coord.Start()

	if err := f.cfg.Client.SendText(f.coord.Prompt()); err != nil {
		slog.Warn("sending opening prompt failed", "err", err)
	}
	return nil
}

// End deactivates the session from any state, including mid-connect:
// the turn machine goes idle and every resource is released. Idempotent.
func (f *Facade) End() {
	f.coord.End()
	f.shutdown()
}

// Pause suspends audio capture and turn-taking without tearing down the
// connection. The voice detector is reset so a half-finished silence window
// cannot fire after Resume.
func (f *Facade) Pause() {
	f.mu.Lock()
	f.paused = true
	f.snap.Paused = true
	f.cfg.Detector.Reset()
	f.publishLocked()
	f.mu.Unlock()
}

// Resume lifts a pause.
func (f *Facade) Resume() {
	f.mu.Lock()
	f.paused = false
	f.snap.Paused = false
	f.snap.BreakDue = false
	f.publishLocked()
	f.mu.Unlock()
}

// ClearError removes the surfaced error from the snapshot. Clearing is an
// explicit UI action, never automatic.
func (f *Facade) ClearError() {
	f.mu.Lock()
	f.snap.Error = ""
	f.reconnecting = false
	f.publishLocked()
	f.mu.Unlock()
}

// SendPrompt transmits the current script prompt to the AI, asking it to
// facilitate the current step.
func (f *Facade) SendPrompt() error {
	return f.cfg.Client.SendText(f.coord.Prompt())
}

// SendText forwards a typed user message into the conversation.
func (f *Facade) SendText(text string) error {
	return f.cfg.Client.SendText(text)
}

// DeviceError reports a capture-device failure detected outside the open
// path, for example by a browser client that lost microphone permission.
func (f *Facade) DeviceError(err error) {
	f.coord.DeviceError(err)
}

// Snapshot returns the current session view.
func (f *Facade) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

// Subscribe registers a snapshot consumer. The returned channel always
// carries the latest snapshot: unread values are replaced, never queued.
// The cancel function removes the subscription and closes the channel.
func (f *Facade) Subscribe() (<-chan Snapshot, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextSub
	f.nextSub++
	ch := make(chan Snapshot, 1)
	ch <- f.snap
	f.subs[id] = ch

	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if sub, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// ── Frame path ─────────────────────────────────────────────────────────────────

// onFrame runs on the capture callback and must not block: frames are handed
// to the loop through a bounded buffer and dropped when it is full.
func (f *Facade) onFrame(frame audio.Frame) {
	select {
	case f.frames <- frame:
	default:
		slog.Debug("session loop busy; dropping captured frame", "seq", frame.Seq)
		f.cfg.Metrics.RecordDroppedFrame(f.ctx, "loop_busy")
	}
}

func (f *Facade) handleFrame(frame audio.Frame) {
	// The detector shares f.mu with Pause, whose reset must not interleave
	// with a processing step.
	f.mu.Lock()
	if f.paused {
		f.mu.Unlock()
		return
	}
	ev := f.cfg.Detector.Process(frame)
	f.mu.Unlock()

	if rec := f.cfg.Recorder; rec != nil {
		if err := rec.Write(frame); err != nil {
			slog.Warn("recording frame failed", "err", err)
		}
	}

	if err := f.cfg.Client.SendAudio(frame); err != nil {
		slog.Warn("forwarding audio failed", "err", err)
	}

	switch ev.Type {
	case vad.EventSpeechStart:
		f.speechBegan = frame.Timestamp
		f.coord.SpeechStart()
	case vad.EventSpeechEnd:
		f.cfg.Metrics.RecordSpeechSegment(f.ctx, (frame.Timestamp - f.speechBegan).Seconds())
		f.committedAt = time.Now()
		f.coord.SpeechEnd()
	}
}

// ── Event loop ─────────────────────────────────────────────────────────────────

func (f *Facade) loop() {
	defer close(f.loopEnd)

	maxTimer := time.NewTimer(f.cfg.MaxDuration)
	defer maxTimer.Stop()

	var breakCh <-chan time.Time
	if f.cfg.BreakAfter > 0 {
		breakTimer := time.NewTimer(f.cfg.BreakAfter)
		defer breakTimer.Stop()
		breakCh = breakTimer.C
	}

	clientEvents := f.cfg.Client.Events()
	transitions := f.coord.Transitions()

	for {
		select {
		case <-f.ctx.Done():
			// Shutdown closed the coordinator before cancelling, so the
			// transition channel is already closed: drain it to apply any
			// state change still in flight, then stop.
			if transitions != nil {
				for tr := range transitions {
					f.handleTransition(tr)
				}
			}
			return

		case frame := <-f.frames:
			f.handleFrame(frame)

		case ev, ok := <-clientEvents:
			if !ok {
				clientEvents = nil
				continue
			}
			f.handleClientEvent(ev)

		case tr, ok := <-transitions:
			if !ok {
				transitions = nil
				continue
			}
			f.handleTransition(tr)

		case <-maxTimer.C:
			slog.Info("session reached maximum duration", "max", f.cfg.MaxDuration)
			f.mu.Lock()
			f.snap.Error = "session reached its maximum duration"
			f.publishLocked()
			f.mu.Unlock()
			go f.End()

		case <-breakCh:
			breakCh = nil
			f.mu.Lock()
			f.snap.BreakDue = true
			f.publishLocked()
			f.mu.Unlock()
		}
	}
}

func (f *Facade) handleClientEvent(ev realtime.Event) {
	switch ev.Type {
	case realtime.EventSessionCreated:
		f.update(func(s *Snapshot) {
			s.Connection = f.cfg.Client.State()
			// A reconnect succeeded: the "retrying" notice is stale.
			if f.reconnecting {
				f.reconnecting = false
				s.Error = ""
			}
		})

	case realtime.EventTranscriptReady:
		f.update(func(s *Snapshot) { s.Transcript = ev.Text })

	case realtime.EventResponseTextDelta:
		f.recordFirstDelta()
		f.coord.ResponseBegan()
		f.update(func(s *Snapshot) {
			if f.respDone {
				f.respDone = false
				s.Response = ""
			}
			s.Response += ev.Text
		})

	case realtime.EventResponseAudioEnergy:
		f.recordFirstDelta()
		f.coord.ResponseBegan()
		f.update(func(s *Snapshot) { s.Energy = ev.Energy })

	case realtime.EventResponseComplete:
		f.coord.ResponseComplete()
		f.mu.Lock()
		f.respDone = true
		f.snap.Energy = 0
		f.publishLocked()
		f.mu.Unlock()

	case realtime.EventSpeechStartedHint, realtime.EventSpeechStoppedHint:
		// Server-side detection is advisory; local detection owns the turn.
		slog.Debug("server vad hint", "type", ev.Type)

	case realtime.EventRemoteError:
		f.cfg.Metrics.RecordRemoteError(f.ctx)
		f.coord.RemoteError(ev.Err)

	case realtime.EventConnectionLost:
		f.cfg.Metrics.RecordReconnectAttempt(f.ctx, false)
		f.update(func(s *Snapshot) {
			s.Connection = f.cfg.Client.State()
			s.Error = fmt.Sprintf("connection lost, retrying: %v", ev.Err)
			f.reconnecting = true
		})

	case realtime.EventConnectionFailed:
		f.coord.ConnectionFailed(ev.Err)

	case realtime.EventBackpressure:
		slog.Warn("outgoing audio buffer full; dropped newest frame")
		f.cfg.Metrics.RecordDroppedFrame(f.ctx, "backpressure")
	}
}

// recordFirstDelta closes the commit-to-first-delta latency window opened by
// the last detected speech end.
func (f *Facade) recordFirstDelta() {
	if f.committedAt.IsZero() {
		return
	}
	f.cfg.Metrics.RecordResponseLatency(f.ctx, time.Since(f.committedAt).Seconds())
	f.committedAt = time.Time{}
}

func (f *Facade) handleTransition(tr turn.Transition) {
	f.cfg.Metrics.RecordTurnTransition(f.ctx, tr.From.String(), tr.To.String(), string(tr.Cause))
	if tr.Cause == turn.CauseBargeIn {
		f.cfg.Metrics.RecordBargeIn(f.ctx)
	}

	f.mu.Lock()
	f.snap.Turn = tr.To
	f.snap.Script = f.coord.ScriptPosition()
	f.snap.Progress = f.coord.ScriptProgress()
	f.snap.Prompt = f.coord.Prompt()
	f.snap.Done = f.coord.ScriptDone()
	f.snap.Connection = f.cfg.Client.State()
	if tr.Err != nil {
		f.snap.Error = tr.Err.Error()
		f.reconnecting = false
	}
	if tr.Cause == turn.CauseBargeIn {
		f.snap.Energy = 0
		f.respDone = true
	}
	f.publishLocked()
	f.mu.Unlock()

	// A failure-driven return to idle ends the session: resources are
	// released while the error message stays in the snapshot.
	if tr.To == turn.StateIdle && tr.Cause != turn.CauseEnd {
		go f.shutdown()
	}
}

// ── Internals ──────────────────────────────────────────────────────────────────

func (f *Facade) shutdown() {
	f.endOnce.Do(func() {
		// Closing the coordinator first flushes its queued events and
		// closes the transition channel; the loop drains that channel on
		// cancellation, so the final idle transition always reaches the
		// snapshot before the loop stops.
		f.coord.Close()
		f.cancel()

		if err := f.cfg.Source.Close(); err != nil {
			slog.Warn("closing capture source failed", "err", err)
		}
		f.cfg.Client.Close()
		if rec := f.cfg.Recorder; rec != nil {
			if err := rec.Close(); err != nil {
				slog.Warn("closing recorder failed", "err", err)
			}
		}

		f.mu.Lock()
		looping := f.looping
		f.mu.Unlock()
		if looping {
			<-f.loopEnd
		}
	})
}

func (f *Facade) surfaceError(err error) {
	f.update(func(s *Snapshot) { s.Error = err.Error() })
}

func (f *Facade) update(fn func(*Snapshot)) {
	f.mu.Lock()
	fn(&f.snap)
	f.publishLocked()
	f.mu.Unlock()
}

// publishLocked fans the current snapshot out to all subscribers, replacing
// any unread value. Callers hold f.mu.
func (f *Facade) publishLocked() {
	for _, ch := range f.subs {
		select {
		case <-ch:
		default:
		}
		ch <- f.snap
	}
}
