// Package gateway exposes a facilitation session over HTTP and WebSocket.
//
// The browser is a thin shell: it streams microphone PCM16 up the stream
// socket and renders the session snapshots coming back down. All control
// actions (start, end, pause, resume) are plain POST endpoints so the UI
// never needs a protocol beyond JSON over HTTP plus one audio socket.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/voxfacile/voxfacile/internal/health"
	"github.com/voxfacile/voxfacile/internal/observe"
	"github.com/voxfacile/voxfacile/internal/session"
	"github.com/voxfacile/voxfacile/pkg/audio"
	"github.com/voxfacile/voxfacile/pkg/capture"
)

// Session is the control surface the gateway needs from a running
// facilitation session. *session.Facade satisfies it.
type Session interface {
	Start(ctx context.Context) error
	End()
	Pause()
	Resume()
	ClearError()
	SendPrompt() error
	SendText(text string) error
	DeviceError(err error)
	Snapshot() session.Snapshot
	Subscribe() (<-chan session.Snapshot, func())
}

var _ Session = (*session.Facade)(nil)

// Factory assembles a session around the given capture source. The gateway
// calls it once per started session with a fresh [BrowserSource].
type Factory func(src capture.Source) (Session, error)

// Config configures a [Server]. Factory is required.
type Config struct {
	Factory Factory

	// Format is the PCM format browsers are expected to stream. Zero
	// means [audio.DefaultFormat].
	Format audio.Format

	// Metrics records HTTP and session metrics. Nil means the package
	// default instance.
	Metrics *observe.Metrics

	// Ready lists extra readiness checks beyond the built-in ones.
	Ready []health.Checker
}

// Server routes session control, the audio stream socket, health and
// metrics. At most one session is active at a time; starting a second one
// fails until the first ends.
type Server struct {
	cfg    Config
	router chi.Router

	mu   sync.Mutex
	sess Session
	src  *BrowserSource
	id   string
}

// New creates a Server and builds its routes.
func New(cfg Config) (*Server, error) {
	if cfg.Factory == nil {
		return nil, errors.New("gateway: factory is required")
	}
	if cfg.Format == (audio.Format{}) {
		cfg.Format = audio.DefaultFormat
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}

	s := &Server{cfg: cfg}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(observe.Middleware(cfg.Metrics))

	checks := append([]health.Checker{{
		Name: "session",
		Check: func(context.Context) error { return nil },
	}}, cfg.Ready...)
	health.New(checks...).Register(r)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/session", func(r chi.Router) {
		r.Get("/", s.handleSnapshot)
		r.Get("/stream", s.handleStream)
		r.Post("/start", s.handleStart)
		r.Post("/end", s.handleEnd)
		r.Post("/pause", s.control(Session.Pause))
		r.Post("/resume", s.control(Session.Resume))
		r.Post("/clear-error", s.control(Session.ClearError))
		r.Post("/prompt", s.handlePrompt)
		r.Post("/say", s.handleSay)
	})

	s.router = r
	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Close ends the active session, if any.
func (s *Server) Close() {
	if sess, _, _ := s.active(); sess != nil {
		s.endSession(sess)
	}
}

// ── Handlers ───────────────────────────────────────────────────────────────────

type statusBody struct {
	SessionID string           `json:"session_id,omitempty"`
	Snapshot  session.Snapshot `json:"snapshot"`
	Active    bool             `json:"active"`
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.sess != nil {
		s.mu.Unlock()
		writeJSON(w, http.StatusConflict, errorBody{Error: "a session is already active"})
		return
	}

	src := NewBrowserSource(s.cfg.Format)
	sess, err := s.cfg.Factory(src)
	if err != nil {
		s.mu.Unlock()
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	id := uuid.NewString()
	s.sess, s.src, s.id = sess, src, id
	s.mu.Unlock()

	if err := sess.Start(r.Context()); err != nil {
		s.mu.Lock()
		s.sess, s.src, s.id = nil, nil, ""
		s.mu.Unlock()
		sess.End()
		writeJSON(w, http.StatusBadGateway, errorBody{Error: err.Error()})
		return
	}

	s.cfg.Metrics.ActiveSessions.Add(r.Context(), 1)
	slog.Info("session started", "session_id", id)
	writeJSON(w, http.StatusOK, statusBody{SessionID: id, Snapshot: sess.Snapshot(), Active: true})
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	sess, _, id := s.active()
	if sess == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no active session"})
		return
	}
	s.endSession(sess)
	slog.Info("session ended", "session_id", id)
	writeJSON(w, http.StatusOK, statusBody{SessionID: id, Snapshot: sess.Snapshot()})
}

// control adapts a no-argument session method into a handler.
func (s *Server) control(fn func(Session)) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		sess, _, id := s.active()
		if sess == nil {
			writeJSON(w, http.StatusNotFound, errorBody{Error: "no active session"})
			return
		}
		fn(sess)
		writeJSON(w, http.StatusOK, statusBody{SessionID: id, Snapshot: sess.Snapshot(), Active: true})
	}
}

func (s *Server) handlePrompt(w http.ResponseWriter, _ *http.Request) {
	sess, _, id := s.active()
	if sess == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no active session"})
		return
	}
	if err := sess.SendPrompt(); err != nil {
		writeJSON(w, http.StatusBadGateway, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, statusBody{SessionID: id, Snapshot: sess.Snapshot(), Active: true})
}

func (s *Server) handleSay(w http.ResponseWriter, r *http.Request) {
	sess, _, id := s.active()
	if sess == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no active session"})
		return
	}

	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Text == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "body must be JSON with a non-empty text field"})
		return
	}
	if err := sess.SendText(body.Text); err != nil {
		writeJSON(w, http.StatusBadGateway, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, statusBody{SessionID: id, Snapshot: sess.Snapshot(), Active: true})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	sess, _, id := s.active()
	if sess == nil {
		writeJSON(w, http.StatusOK, statusBody{Active: false})
		return
	}
	writeJSON(w, http.StatusOK, statusBody{SessionID: id, Snapshot: sess.Snapshot(), Active: true})
}

// ── Stream socket ──────────────────────────────────────────────────────────────

// streamControl is a text message on the stream socket. Binary messages are
// raw PCM16 audio; text messages carry browser-side signals.
type streamControl struct {
	Type  string `json:"type"`
	Error string `json:"error,omitempty"`
}

// handleStream upgrades to WebSocket and runs the bidirectional stream:
// binary PCM16 frames up into the capture source, snapshot JSON down on
// every session change.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sess, src, id := s.active()
	if sess == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no active session"})
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The UI is served from whatever dev origin the facilitator runs.
		InsecureSkipVerify: true,
	})
	if err != nil {
		slog.Warn("stream accept failed", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(1 << 20)

	slog.Info("stream attached", "session_id", id)

	snaps, unsubscribe := sess.Subscribe()
	defer unsubscribe()

	g, ctx := errgroup.WithContext(r.Context())

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case snap, ok := <-snaps:
				if !ok {
					return nil
				}
				data, err := json.Marshal(snap)
				if err != nil {
					return err
				}
				if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
					return err
				}
			}
		}
	})

	g.Go(func() error {
		for {
			typ, data, err := conn.Read(ctx)
			if err != nil {
				return err
			}
			switch typ {
			case websocket.MessageBinary:
				src.Push(data)
			case websocket.MessageText:
				var msg streamControl
				if err := json.Unmarshal(data, &msg); err != nil {
					slog.Debug("ignoring malformed stream message", "err", err)
					continue
				}
				if msg.Type == "device_error" {
					sess.DeviceError(errors.New(msg.Error))
				}
			}
		}
	})

	if err := g.Wait(); err != nil &&
		!errors.Is(err, context.Canceled) &&
		websocket.CloseStatus(err) != websocket.StatusNormalClosure &&
		websocket.CloseStatus(err) != websocket.StatusGoingAway {
		slog.Debug("stream detached", "session_id", id, "err", err)
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

// ── Internals ──────────────────────────────────────────────────────────────────

func (s *Server) active() (Session, *BrowserSource, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess, s.src, s.id
}

func (s *Server) endSession(sess Session) {
	sess.End()
	s.mu.Lock()
	if s.sess == sess {
		s.sess, s.src, s.id = nil, nil, ""
	}
	s.mu.Unlock()
	s.cfg.Metrics.ActiveSessions.Add(context.Background(), -1)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encoding response failed", "err", err)
	}
}
