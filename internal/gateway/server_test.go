package gateway_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/voxfacile/voxfacile/internal/gateway"
	"github.com/voxfacile/voxfacile/internal/session"
	"github.com/voxfacile/voxfacile/internal/turn"
	"github.com/voxfacile/voxfacile/pkg/audio"
	"github.com/voxfacile/voxfacile/pkg/capture"
)

// fakeSession records control calls and lets tests publish snapshots.
type fakeSession struct {
	StartError error

	mu         sync.Mutex
	startCalls int
	endCalls   int
	pauseCalls int
	resumeOK   int
	clearOK    int
	prompts    int
	texts      []string
	deviceErrs []error
	snap       session.Snapshot
	subs       []chan session.Snapshot

	src    capture.Source
	frames chan audio.Frame
}

func newFakeSession(src capture.Source) *fakeSession {
	return &fakeSession{
		snap:   session.Snapshot{Turn: turn.StateIdle, Prompt: "welcome"},
		src:    src,
		frames: make(chan audio.Frame, 16),
	}
}

func (f *fakeSession) Start(ctx context.Context) error {
	f.mu.Lock()
	f.startCalls++
	f.mu.Unlock()
	if f.StartError != nil {
		return f.StartError
	}
	f.src.OnFrame(func(fr audio.Frame) { f.frames <- fr })
	return f.src.Open(ctx)
}

func (f *fakeSession) End() {
	f.mu.Lock()
	f.endCalls++
	f.mu.Unlock()
}

func (f *fakeSession) Pause()  { f.mu.Lock(); f.pauseCalls++; f.mu.Unlock() }
func (f *fakeSession) Resume() { f.mu.Lock(); f.resumeOK++; f.mu.Unlock() }

func (f *fakeSession) ClearError() { f.mu.Lock(); f.clearOK++; f.mu.Unlock() }

func (f *fakeSession) SendPrompt() error {
	f.mu.Lock()
	f.prompts++
	f.mu.Unlock()
	return nil
}

func (f *fakeSession) SendText(text string) error {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	f.mu.Unlock()
	return nil
}

func (f *fakeSession) DeviceError(err error) {
	f.mu.Lock()
	f.deviceErrs = append(f.deviceErrs, err)
	f.mu.Unlock()
}

func (f *fakeSession) Snapshot() session.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeSession) Subscribe() (<-chan session.Snapshot, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan session.Snapshot, 1)
	ch <- f.snap
	f.subs = append(f.subs, ch)
	return ch, func() {}
}

func (f *fakeSession) publish(snap session.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap = snap
	for _, ch := range f.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

// startServer spins up a gateway whose factory yields fakeSessions and
// records them for inspection.
func startServer(t *testing.T) (*httptest.Server, func() *fakeSession) {
	t.Helper()

	var mu sync.Mutex
	var last *fakeSession

	srv, err := gateway.New(gateway.Config{
		Factory: func(src capture.Source) (gateway.Session, error) {
			fs := newFakeSession(src)
			mu.Lock()
			last = fs
			mu.Unlock()
			return fs, nil
		},
	})
	if err != nil {
		t.Fatalf("gateway.New: %v", err)
	}

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, func() *fakeSession {
		mu.Lock()
		defer mu.Unlock()
		return last
	}
}

func post(t *testing.T, url string, body string) *http.Response {
	t.Helper()
	var rd *bytes.Reader
	if body == "" {
		rd = bytes.NewReader(nil)
	} else {
		rd = bytes.NewReader([]byte(body))
	}
	resp, err := http.Post(url, "application/json", rd)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeStatus(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return m
}

func TestStart(t *testing.T) {
	t.Parallel()
	ts, lastSession := startServer(t)

	resp := post(t, ts.URL+"/api/session/start", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start: got status %d", resp.StatusCode)
	}
	body := decodeStatus(t, resp)
	if body["session_id"] == "" || body["session_id"] == nil {
		t.Error("start response missing session_id")
	}
	if body["active"] != true {
		t.Error("start response should be active")
	}
	if fs := lastSession(); fs == nil || fs.startCalls != 1 {
		t.Errorf("session not started exactly once: %+v", fs)
	}

	t.Run("second start conflicts", func(t *testing.T) {
		resp := post(t, ts.URL+"/api/session/start", "")
		if resp.StatusCode != http.StatusConflict {
			t.Errorf("got status %d, want 409", resp.StatusCode)
		}
	})
}

func TestStart_FactoryError(t *testing.T) {
	t.Parallel()
	srv, err := gateway.New(gateway.Config{
		Factory: func(capture.Source) (gateway.Session, error) {
			return nil, errors.New("no microphone")
		},
	})
	if err != nil {
		t.Fatalf("gateway.New: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp := post(t, ts.URL+"/api/session/start", "")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("got status %d, want 500", resp.StatusCode)
	}
}

func TestStart_ConnectFailureFreesSlot(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	failNext := true
	srv, err := gateway.New(gateway.Config{
		Factory: func(src capture.Source) (gateway.Session, error) {
			fs := newFakeSession(src)
			mu.Lock()
			if failNext {
				fs.StartError = errors.New("remote unreachable")
				failNext = false
			}
			mu.Unlock()
			return fs, nil
		},
	})
	if err != nil {
		t.Fatalf("gateway.New: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	if resp := post(t, ts.URL+"/api/session/start", ""); resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("failing start: got status %d, want 502", resp.StatusCode)
	}
	if resp := post(t, ts.URL+"/api/session/start", ""); resp.StatusCode != http.StatusOK {
		t.Errorf("retry after failure: got status %d, want 200", resp.StatusCode)
	}
}

func TestControlsWithoutSession(t *testing.T) {
	t.Parallel()
	ts, _ := startServer(t)

	for _, path := range []string{"end", "pause", "resume", "clear-error", "prompt"} {
		resp := post(t, ts.URL+"/api/session/"+path, "")
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s without session: got status %d, want 404", path, resp.StatusCode)
		}
	}
}

func TestSessionLifecycle(t *testing.T) {
	t.Parallel()
	ts, lastSession := startServer(t)

	post(t, ts.URL+"/api/session/start", "")
	post(t, ts.URL+"/api/session/pause", "")
	post(t, ts.URL+"/api/session/resume", "")
	post(t, ts.URL+"/api/session/clear-error", "")
	post(t, ts.URL+"/api/session/prompt", "")

	resp := post(t, ts.URL+"/api/session/end", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("end: got status %d", resp.StatusCode)
	}

	fs := lastSession()
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.pauseCalls != 1 || fs.resumeOK != 1 || fs.clearOK != 1 || fs.prompts != 1 || fs.endCalls != 1 {
		t.Errorf("control calls not forwarded: %+v", fs)
	}

	t.Run("slot is free again", func(t *testing.T) {
		resp := post(t, ts.URL+"/api/session/start", "")
		if resp.StatusCode != http.StatusOK {
			t.Errorf("restart after end: got status %d", resp.StatusCode)
		}
	})
}

func TestSay(t *testing.T) {
	t.Parallel()
	ts, lastSession := startServer(t)
	post(t, ts.URL+"/api/session/start", "")

	resp := post(t, ts.URL+"/api/session/say", `{"text":"let us continue"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("say: got status %d", resp.StatusCode)
	}
	fs := lastSession()
	fs.mu.Lock()
	texts := fs.texts
	fs.mu.Unlock()
	if len(texts) != 1 || texts[0] != "let us continue" {
		t.Errorf("texts: got %v", texts)
	}

	t.Run("rejects empty body", func(t *testing.T) {
		resp := post(t, ts.URL+"/api/session/say", `{}`)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("got status %d, want 400", resp.StatusCode)
		}
	})
}

func TestSnapshotEndpoint(t *testing.T) {
	t.Parallel()
	ts, _ := startServer(t)

	t.Run("inactive", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/session")
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		defer resp.Body.Close()
		body := decodeStatus(t, resp)
		if body["active"] != false {
			t.Errorf("expected inactive, got %v", body)
		}
	})

	t.Run("active", func(t *testing.T) {
		post(t, ts.URL+"/api/session/start", "")
		resp, err := http.Get(ts.URL + "/api/session")
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		defer resp.Body.Close()
		body := decodeStatus(t, resp)
		if body["active"] != true {
			t.Errorf("expected active, got %v", body)
		}
		snap, ok := body["snapshot"].(map[string]any)
		if !ok || snap["prompt"] != "welcome" {
			t.Errorf("snapshot not embedded: %v", body)
		}
	})
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	t.Parallel()
	ts, _ := startServer(t)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s: got status %d", path, resp.StatusCode)
		}
	}
}

// ── Stream socket ──────────────────────────────────────────────────────────────

func dialStream(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/session/stream"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dialing stream: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func readSnapshot(t *testing.T, conn *websocket.Conn) session.Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	typ, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("reading snapshot: %v", err)
	}
	if typ != websocket.MessageText {
		t.Fatalf("got message type %v, want text", typ)
	}
	var snap session.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("unmarshalling snapshot: %v", err)
	}
	return snap
}

func TestStream_RequiresSession(t *testing.T) {
	t.Parallel()
	ts, _ := startServer(t)

	resp, err := http.Get(ts.URL + "/api/session/stream")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("got status %d, want 404", resp.StatusCode)
	}
}

func TestStream_SnapshotsFlowDown(t *testing.T) {
	t.Parallel()
	ts, lastSession := startServer(t)
	post(t, ts.URL+"/api/session/start", "")
	conn := dialStream(t, ts)

	// The current snapshot arrives immediately on attach.
	if snap := readSnapshot(t, conn); snap.Prompt != "welcome" {
		t.Errorf("initial snapshot prompt: got %q", snap.Prompt)
	}

	lastSession().publish(session.Snapshot{Turn: turn.StateUserTurn, Prompt: "next step"})
	if snap := readSnapshot(t, conn); snap.Turn != turn.StateUserTurn || snap.Prompt != "next step" {
		t.Errorf("updated snapshot: got %+v", snap)
	}
}

func TestStream_AudioFlowsUp(t *testing.T) {
	t.Parallel()
	ts, lastSession := startServer(t)
	post(t, ts.URL+"/api/session/start", "")
	conn := dialStream(t, ts)

	pcm := make([]byte, 640)
	for i := range pcm {
		pcm[i] = byte(i)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageBinary, pcm); err != nil {
		t.Fatalf("writing audio: %v", err)
	}

	select {
	case frame := <-lastSession().frames:
		if !bytes.Equal(frame.Data, pcm) {
			t.Error("frame data does not match pushed payload")
		}
		if frame.SampleRate != audio.DefaultFormat.SampleRate {
			t.Errorf("sample rate: got %d", frame.SampleRate)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the pushed frame")
	}
}

func TestStream_DeviceErrorForwarded(t *testing.T) {
	t.Parallel()
	ts, lastSession := startServer(t)
	post(t, ts.URL+"/api/session/start", "")
	conn := dialStream(t, ts)
	readSnapshot(t, conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msg := `{"type":"device_error","error":"microphone permission revoked"}`
	if err := conn.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
		t.Fatalf("writing control message: %v", err)
	}

	fs := lastSession()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		fs.mu.Lock()
		n := len(fs.deviceErrs)
		var got string
		if n > 0 {
			got = fs.deviceErrs[0].Error()
		}
		fs.mu.Unlock()
		if n > 0 {
			if got != "microphone permission revoked" {
				t.Errorf("device error: got %q", got)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("device error never reached the session")
}

func TestNew_RequiresFactory(t *testing.T) {
	t.Parallel()
	if _, err := gateway.New(gateway.Config{}); err == nil {
		t.Fatal("expected error for missing factory, got nil")
	}
}
