// Package web provides the HTTP control surface for the power-watchdog daemon.
package web

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/sweeney/power-watchdog/internal/status"
	"github.com/sweeney/power-watchdog/internal/store"
	"github.com/sweeney/power-watchdog/internal/watchdog"
)

// Controller is the set of watchdog operations exposed over HTTP.
type Controller interface {
	Feed() int
	SetTTL(ttl int) (int, error)
	ArmAuto()
	ForceOn()
	ForceOff()
	TriggerReboot() (resets uint64, started bool)
	Snapshot() watchdog.Snapshot
}

// Server serves the control routes and status pages over HTTP.
type Server struct {
	httpServer *http.Server
	router     chi.Router
	ctl        Controller
	tracker    *status.Tracker
	journal    store.Journal
	hub        *WSHub
	log        zerolog.Logger
}

// Option configures server construction.
type Option func(*Server)

// WithJournal serves event history from j at /events.
func WithJournal(j store.Journal) Option {
	return func(s *Server) {
		s.journal = j
	}
}

// WithHub serves a live event stream from h at /ws.
func WithHub(h *WSHub) Option {
	return func(s *Server) {
		s.hub = h
	}
}

// New creates a Server that drives ctl and reports state from tracker.
func New(addr string, ctl Controller, tracker *status.Tracker, log zerolog.Logger, opts ...Option) *Server {
	s := &Server{
		ctl:     ctl,
		tracker: tracker,
		journal: store.Nop{},
		log:     log,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.buildRouter()

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Router returns the configured router.
func (s *Server) Router() chi.Router {
	return s.router
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(hlog.NewHandler(s.log))
	r.Use(hlog.RequestIDHandler("req_id", "X-Request-Id"))
	r.Use(hlog.AccessHandler(func(r *http.Request, code, size int, dur time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", code).
			Int("size", size).
			Dur("duration", dur).
			Msg("request")
	}))
	r.Use(middleware.Recoverer)

	// Control routes answer any method.
	r.HandleFunc("/", s.handleStatus)
	r.HandleFunc("/off", s.handleOff)
	r.HandleFunc("/on", s.handleOn)
	r.HandleFunc("/reboot", s.handleReboot)
	r.HandleFunc("/auto", s.handleAuto)
	r.HandleFunc("/feed", s.handleFeed)
	r.HandleFunc("/ttl", s.handleTTL)

	r.Get("/status.json", s.handleStatusJSON)
	r.Get("/index.html", s.handleIndex)
	r.Get("/events", s.handleEvents)
	r.Get("/healthz", s.handleHealth)
	if s.hub != nil {
		r.Get("/ws", s.handleWS)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "method not allowed"})
	})
	return r
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
