// Package web serves a node's status page, its JSON twin and the Prometheus
// scrape endpoint.
package web

import (
	"bytes"
	"context"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/signal-link/internal/status"
)

// Server is the node's read-only HTTP surface. Every route is GET (and
// therefore HEAD); other methods get 405 from the mux.
type Server struct {
	srv     *http.Server
	tracker *status.Tracker
}

// New returns a Server for addr backed by tracker. Nothing listens until
// ListenAndServe or Serve.
func New(addr string, tracker *status.Tracker) *Server {
	s := &Server{tracker: tracker}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /index.html", s.handleIndex)
	mux.HandleFunc("GET /index.json", s.handleJSON)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// Handler exposes the routes without a listener.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func (s *Server) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

func (s *Server) Serve(ln net.Listener) error {
	return s.srv.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// noStore marks a live status response as uncacheable.
func noStore(w http.ResponseWriter, contentType string) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-store")
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := renderHTML(&buf, s.tracker.Snapshot()); err != nil {
		log.Printf("web: render status page: %v", err)
		http.Error(w, "status page unavailable", http.StatusInternalServerError)
		return
	}
	noStore(w, "text/html; charset=utf-8")
	buf.WriteTo(w)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	noStore(w, "application/json")
	w.Write(status.FormatJSON(s.tracker.Snapshot()))
}
