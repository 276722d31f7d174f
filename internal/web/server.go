// Package web provides the HTTP status page and REST API for the pump-doser daemon.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/sweeney/pump-doser/internal/history"
	"github.com/sweeney/pump-doser/internal/logging"
	"github.com/sweeney/pump-doser/internal/pump"
	"github.com/sweeney/pump-doser/internal/status"
)

// maxConfigBytes bounds a configuration upload.
const maxConfigBytes = 64 << 10

// Pump is the device as seen through the run loop.
type Pump interface {
	GetConfig(ctx context.Context) (string, error)
	SetConfig(ctx context.Context, blob string) error
	Action(ctx context.Context, action int, payload string) (bool, string, error)
}

// History lists recorded doses, newest first.
type History interface {
	List(limit int) ([]history.Entry, error)
}

// Options configure a Server. Tracker is required; a nil Pump, History or
// Metrics leaves the corresponding routes unmounted.
type Options struct {
	Addr    string
	Tracker *status.Tracker
	Pump    Pump
	History History
	Metrics http.Handler

	// Timeout bounds how long a request waits for the run loop. A dose
	// holds the loop for its whole duration.
	Timeout time.Duration
}

// Server serves the status page and API over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	pump       Pump
	history    History
	timeout    time.Duration
}

// New creates a Server.
func New(o Options) *Server {
	s := &Server{
		tracker: o.Tracker,
		pump:    o.Pump,
		history: o.History,
		timeout: o.Timeout,
	}
	if s.timeout <= 0 {
		s.timeout = 30 * time.Second
	}

	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/index.html", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/index.json", s.handleJSON).Methods(http.MethodGet)

	api := r.PathPrefix("/api/pump").Subrouter()
	if s.pump != nil {
		api.HandleFunc("/config", s.getConfig).Methods(http.MethodGet)
		api.HandleFunc("/config", s.putConfig).Methods(http.MethodPut)
		api.HandleFunc("/actions/{action}", s.postAction).Methods(http.MethodPost)
	}
	if s.history != nil {
		api.HandleFunc("/history", s.listHistory).Methods(http.MethodGet)
	}
	if o.Metrics != nil {
		r.Handle("/metrics", o.Metrics).Methods(http.MethodGet)
	}

	s.httpServer = &http.Server{
		Addr:              o.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the root handler. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
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

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, snap); err != nil {
		logging.Error("render status page", "error", err)
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	blob, err := s.pump.GetConfig(ctx)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	io.WriteString(w, blob)
}

func (s *Server) putConfig(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxConfigBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	err = s.pump.SetConfig(ctx, string(body))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, pump.ErrParse), errors.Is(err, pump.ErrInvalidConfig):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		// Bind and persist failures: the configuration is live but degraded.
		writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) postAction(w http.ResponseWriter, r *http.Request) {
	action, err := strconv.Atoi(mux.Vars(r)["action"])
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("action must be an integer"))
		return
	}
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxConfigBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	ok, resp, err := s.pump.Action(ctx, action, string(payload))
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
	}
	io.WriteString(w, resp)
}

func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	entries, err := s.history.List(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

func writeError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{"success": false, "error": err.Error()})
}
