package web

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/hlog"

	"github.com/sweeney/power-watchdog/internal/status"
	"github.com/sweeney/power-watchdog/internal/watchdog"
)

// Event history limits for /events.
const (
	DefaultEventLimit = 50
	MaxEventLimit     = 500
)

// StatusResponse is the body of GET /.
type StatusResponse struct {
	Counter  int    `json:"counter"`
	TTL      int    `json:"ttl"`
	MosfetOn bool   `json:"mosfet_on"`
	Resets   uint64 `json:"resets"`
	Running  bool   `json:"running"`
	Uptime   int64  `json:"uptime"`
}

// ModeResponse is the body of /on, /off and /auto.
type ModeResponse struct {
	Mosfet   string `json:"mosfet"`
	Watchdog string `json:"watchdog"`
}

// RebootResponse is the body of /reboot.
type RebootResponse struct {
	Reboot     bool   `json:"reboot"`
	ResetCount uint64 `json:"reset_count"`
}

// FeedResponse is the body of /feed.
type FeedResponse struct {
	WatchdogFeed bool `json:"watchdog_feed"`
	Counter      int  `json:"counter"`
}

// TTLResponse is the body of /ttl. Op is "get" when the request carried
// no valid ttl; the reported ttl is then the unchanged current value.
type TTLResponse struct {
	Op  string `json:"op"`
	TTL int    `json:"ttl"`
}

// ErrorResponse is returned for unknown routes.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.ctl.Snapshot()
	writeJSON(w, http.StatusOK, StatusResponse{
		Counter:  snap.Counter,
		TTL:      snap.TTL,
		MosfetOn: snap.Energized,
		Resets:   snap.ResetCount,
		Running:  snap.Running(),
		Uptime:   int64(snap.Uptime().Seconds()),
	})
}

func (s *Server) handleOff(w http.ResponseWriter, r *http.Request) {
	s.ctl.ForceOff()
	writeJSON(w, http.StatusOK, ModeResponse{Mosfet: "off", Watchdog: "off"})
}

func (s *Server) handleOn(w http.ResponseWriter, r *http.Request) {
	s.ctl.ForceOn()
	writeJSON(w, http.StatusOK, ModeResponse{Mosfet: "on", Watchdog: "off"})
}

func (s *Server) handleAuto(w http.ResponseWriter, r *http.Request) {
	s.ctl.ArmAuto()
	writeJSON(w, http.StatusOK, ModeResponse{Mosfet: "auto", Watchdog: "on"})
}

func (s *Server) handleReboot(w http.ResponseWriter, r *http.Request) {
	resets, started := s.ctl.TriggerReboot()
	if !started {
		hlog.FromRequest(r).Info().Msg("reboot already in progress")
	}
	writeJSON(w, http.StatusOK, RebootResponse{Reboot: true, ResetCount: resets})
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	counter := s.ctl.Feed()
	writeJSON(w, http.StatusOK, FeedResponse{WatchdogFeed: true, Counter: counter})
}

func (s *Server) handleTTL(w http.ResponseWriter, r *http.Request) {
	resp := TTLResponse{Op: "get"}

	raw := r.FormValue("ttl")
	if raw == "" {
		resp.TTL = s.ctl.Snapshot().TTL
		writeJSON(w, http.StatusOK, resp)
		return
	}

	ttl, err := watchdog.ParseTTL(raw)
	if err == nil {
		ttl, err = s.ctl.SetTTL(ttl)
	}
	if err != nil {
		hlog.FromRequest(r).Debug().Err(err).Msg("ttl rejected")
		resp.TTL = s.ctl.Snapshot().TTL
		writeJSON(w, http.StatusOK, resp)
		return
	}

	resp.Op = "set"
	resp.TTL = ttl
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatusJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(s.tracker.Snapshot()))
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, s.tracker.Snapshot(), s.hub != nil); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("render index")
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := DefaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}
	if limit > MaxEventLimit {
		limit = MaxEventLimit
	}

	events, err := s.journal.Recent(limit)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("read journal")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "journal unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
