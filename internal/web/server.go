// Package web provides the HTTP status server of the power sampler: a
// status page, JSON status, sample queries and a live telemetry stream.
package web

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/crownstone/bluenet-sub000/internal/power"
	"github.com/crownstone/bluenet-sub000/internal/status"
)

// queryTimeout bounds a sample query to the engine goroutine.
const queryTimeout = 2 * time.Second

// SampleSource answers sample queries. Implementations forward the query
// to the goroutine that owns the engine.
type SampleSource interface {
	Samples(ctx context.Context, kind power.SamplesKind, index int) (power.Samples, error)
}

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	samples    SampleSource
	live       *hub
}

// New creates a Server that reads state from the given tracker. samples
// may be nil, in which case sample queries are unavailable.
func New(addr string, tracker *status.Tracker, samples SampleSource) *Server {
	s := &Server{tracker: tracker, samples: samples, live: newHub()}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	mux.HandleFunc("/samples", s.handleSamples)
	mux.HandleFunc("/live", s.handleLive)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server and disconnects live clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.live.closeAll()
	return s.httpServer.Shutdown(ctx)
}

// Broadcast sends telemetry to every live client. It never blocks.
func (s *Server) Broadcast(tel power.Telemetry) {
	s.live.broadcast(formatLive(tel))
}

// LiveClients returns the number of connected live clients.
func (s *Server) LiveClients() int {
	return s.live.count()
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}
