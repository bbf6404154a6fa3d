package turn_test

import (
	"errors"
	"testing"
	"time"

	"github.com/voxfacile/voxfacile/internal/script"
	"github.com/voxfacile/voxfacile/internal/turn"
	"github.com/voxfacile/voxfacile/pkg/realtime/mock"
)

func newTestCursor(t *testing.T) *script.Cursor {
	t.Helper()
	c, err := script.NewCursor(&script.Outline{Sections: []script.Section{{
		ID:           "only",
		Introduction: "welcome",
		Exercises: []script.Exercise{{
			ID:    "only_a",
			Steps: []string{"one", "two", "three"},
		}},
	}}})
	if err != nil {
		t.Fatalf("NewCursor: %v", err)
	}
	return c
}

func newCoordinator(t *testing.T) (*turn.Coordinator, *mock.Session) {
	t.Helper()
	sess := mock.NewSession()
	c := turn.New(sess, newTestCursor(t))
	t.Cleanup(func() { c.Close() })
	return c, sess
}

// waitTransition reads transitions until one with the wanted destination
// arrives, returning it.
func waitTransition(t *testing.T, c *turn.Coordinator, to turn.State) turn.Transition {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case tr, ok := <-c.Transitions():
			if !ok {
				t.Fatalf("transition channel closed while waiting for %v", to)
			}
			if tr.To == to {
				return tr
			}
		case <-deadline:
			t.Fatalf("timeout waiting for transition to %v (state %v)", to, c.State())
		}
	}
}

// settle gives the event loop time to process everything queued so far.
func settle() { time.Sleep(20 * time.Millisecond) }

// driveToAITurn walks a fresh coordinator into the AI's turn.
func driveToAITurn(t *testing.T, c *turn.Coordinator) {
	t.Helper()
	c.Start()
	waitTransition(t, c, turn.StateUserTurn)
	c.SpeechEnd()
	c.ResponseBegan()
	waitTransition(t, c, turn.StateAITurn)
}

func TestCoordinator_StartAndEnd(t *testing.T) {
	t.Parallel()

	c, _ := newCoordinator(t)
	if got := c.State(); got != turn.StateIdle {
		t.Fatalf("initial state = %v; want idle", got)
	}

	c.Start()
	tr := waitTransition(t, c, turn.StateUserTurn)
	if tr.From != turn.StateIdle || tr.Cause != turn.CauseStart {
		t.Errorf("start transition = %+v", tr)
	}

	// Redundant Start is ignored.
	c.Start()
	settle()
	if got := c.State(); got != turn.StateUserTurn {
		t.Errorf("state after redundant Start = %v", got)
	}

	c.End()
	tr = waitTransition(t, c, turn.StateIdle)
	if tr.Cause != turn.CauseEnd {
		t.Errorf("end transition cause = %v", tr.Cause)
	}
}

func TestCoordinator_SpeechEndCommitsThenAwaitsResponse(t *testing.T) {
	t.Parallel()

	c, sess := newCoordinator(t)
	c.Start()
	waitTransition(t, c, turn.StateUserTurn)

	c.SpeechEnd()
	settle()
	if sess.CommitCalls != 1 {
		t.Errorf("CommitCalls = %d; want 1", sess.CommitCalls)
	}
	// The turn stays with the user until the remote starts responding.
	if got := c.State(); got != turn.StateUserTurn {
		t.Errorf("state after commit = %v; want user_turn", got)
	}

	c.ResponseBegan()
	tr := waitTransition(t, c, turn.StateAITurn)
	if tr.Cause != turn.CauseResponseBegan {
		t.Errorf("cause = %v; want response_began", tr.Cause)
	}
}

func TestCoordinator_ResponseBeganWithoutCommitIgnored(t *testing.T) {
	t.Parallel()

	c, _ := newCoordinator(t)
	c.Start()
	waitTransition(t, c, turn.StateUserTurn)

	// A stray response delta with no committed utterance keeps the turn
	// with the user.
	c.ResponseBegan()
	settle()
	if got := c.State(); got != turn.StateUserTurn {
		t.Errorf("state = %v; want user_turn", got)
	}
}

func TestCoordinator_BargeIn(t *testing.T) {
	t.Parallel()

	c, sess := newCoordinator(t)
	driveToAITurn(t, c)

	c.SpeechStart()

	// The barge-in passes through the interrupted sub-state and lands on
	// the user's turn, with the truncate already issued.
	tr := waitTransition(t, c, turn.StateInterrupted)
	if tr.From != turn.StateAITurn || tr.Cause != turn.CauseBargeIn {
		t.Errorf("interrupt transition = %+v", tr)
	}
	tr = waitTransition(t, c, turn.StateUserTurn)
	if tr.From != turn.StateInterrupted || tr.Cause != turn.CauseBargeIn {
		t.Errorf("handover transition = %+v", tr)
	}
	if sess.TruncateCalls != 1 {
		t.Errorf("TruncateCalls = %d; want 1", sess.TruncateCalls)
	}
}

func TestCoordinator_SpeechStartDuringUserTurnIsNoOp(t *testing.T) {
	t.Parallel()

	c, sess := newCoordinator(t)
	c.Start()
	waitTransition(t, c, turn.StateUserTurn)

	c.SpeechStart()
	settle()
	if got := c.State(); got != turn.StateUserTurn {
		t.Errorf("state = %v; want user_turn", got)
	}
	if sess.TruncateCalls != 0 {
		t.Errorf("TruncateCalls = %d; want 0", sess.TruncateCalls)
	}
}

func TestCoordinator_ResponseCompleteAdvancesScript(t *testing.T) {
	t.Parallel()

	c, _ := newCoordinator(t)
	start := c.ScriptPosition()
	driveToAITurn(t, c)

	c.ResponseComplete()
	tr := waitTransition(t, c, turn.StateUserTurn)
	if tr.Cause != turn.CauseResponseComplete {
		t.Errorf("cause = %v; want response_complete", tr.Cause)
	}
	if got := c.ScriptPosition(); got == start {
		t.Errorf("script position did not advance from %v", start)
	}
	if got := c.ScriptProgress(); got <= 0 {
		t.Errorf("progress = %v; want > 0", got)
	}
}

func TestCoordinator_StatesAreMutuallyExclusive(t *testing.T) {
	t.Parallel()

	c, _ := newCoordinator(t)
	c.Start()
	waitTransition(t, c, turn.StateUserTurn)

	// Interleave utterances and responses; every announced transition must
	// chain from the previous state, so no two turn states can ever hold
	// at once.
	go func() {
		for i := 0; i < 5; i++ {
			c.SpeechEnd()
			c.ResponseBegan()
			c.SpeechStart()
			c.ResponseComplete()
		}
		c.End()
	}()

	last := turn.StateUserTurn
	deadline := time.After(5 * time.Second)
	for {
		select {
		case tr, ok := <-c.Transitions():
			if !ok {
				t.Fatal("transition channel closed unexpectedly")
			}
			if tr.From != last {
				t.Fatalf("transition %+v does not chain from %v", tr, last)
			}
			last = tr.To
			if tr.To == turn.StateIdle {
				return
			}
		case <-deadline:
			t.Fatal("timeout waiting for the idle transition")
		}
	}
}

func TestCoordinator_FailuresForceIdle(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		fire  func(c *turn.Coordinator, err error)
		cause turn.Cause
	}{
		{"remote error", (*turn.Coordinator).RemoteError, turn.CauseRemoteError},
		{"connection failed", (*turn.Coordinator).ConnectionFailed, turn.CauseConnectionFailed},
		{"device error", (*turn.Coordinator).DeviceError, turn.CauseDeviceError},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			c, _ := newCoordinator(t)
			driveToAITurn(t, c)

			boom := errors.New("boom")
			tc.fire(c, boom)
			tr := waitTransition(t, c, turn.StateIdle)
			if tr.Cause != tc.cause {
				t.Errorf("cause = %v; want %v", tr.Cause, tc.cause)
			}
			if !errors.Is(tr.Err, boom) {
				t.Errorf("transition error = %v; want boom", tr.Err)
			}
		})
	}
}

func TestCoordinator_FailureWhileIdleIgnored(t *testing.T) {
	t.Parallel()

	c, _ := newCoordinator(t)
	c.RemoteError(errors.New("boom"))
	settle()
	if got := c.State(); got != turn.StateIdle {
		t.Errorf("state = %v; want idle", got)
	}
}

// An End pushed immediately before Close must still produce its idle
// transition: Close flushes queued events before the channel closes, which
// is what lets callers tear down without waiting on a timer.
func TestCoordinator_CloseFlushesQueuedEnd(t *testing.T) {
	t.Parallel()

	c, _ := newCoordinator(t)
	c.Start()
	waitTransition(t, c, turn.StateUserTurn)

	c.End()
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var sawIdle bool
	for tr := range c.Transitions() {
		if tr.To == turn.StateIdle && tr.Cause == turn.CauseEnd {
			sawIdle = true
		}
	}
	if !sawIdle {
		t.Error("idle transition lost when End raced Close")
	}
	if got := c.State(); got != turn.StateIdle {
		t.Errorf("state after Close = %v; want idle", got)
	}
}

func TestCoordinator_CloseIdempotent(t *testing.T) {
	t.Parallel()

	c, _ := newCoordinator(t)
	if err := c.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	select {
	case _, ok := <-c.Transitions():
		if ok {
			t.Error("unexpected transition after Close")
		}
	case <-time.After(time.Second):
		t.Fatal("transition channel not closed")
	}
}
