// Package web provides an HTTP status server for the amp-controller daemon.
package web

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strconv"

	"github.com/sweeney/amp-controller/internal/history"
	"github.com/sweeney/amp-controller/internal/status"
)

const (
	defaultHistory = 50
	maxHistory     = 1000
)

// EventLog is the subset of the history store the server reads.
type EventLog interface {
	Recent(n int) ([]history.Record, error)
}

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	events     EventLog
}

// New creates a Server that reads state from the given tracker. events and
// metrics may be nil, in which case their routes are not served.
func New(addr string, tracker *status.Tracker, events EventLog, metrics http.Handler) *Server {
	s := &Server{tracker: tracker, events: events}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	if events != nil {
		mux.HandleFunc("/history.json", s.handleHistory)
	}
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// Handler returns the route multiplexer.
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
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, snap); err != nil {
		log.Printf("web: render index: %v", err)
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

// HistoryJSON is the /history.json envelope.
type HistoryJSON struct {
	Events []history.Record `json:"events"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	n := defaultHistory
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			http.Error(w, "n must be a positive integer", http.StatusBadRequest)
			return
		}
		n = min(parsed, maxHistory)
	}

	records, err := s.events.Recent(n)
	if err != nil {
		log.Printf("web: read history: %v", err)
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}

	data, _ := json.MarshalIndent(HistoryJSON{Events: records}, "", "  ")
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}
