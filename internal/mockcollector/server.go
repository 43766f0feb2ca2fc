// Package mockcollector provides a local trace collector for development
// and testing: it accepts the agent's gzip JSON-array POSTs, optionally
// plays back a scripted status sequence, and serves what it stored.
package mockcollector

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/talon-obs/talon/internal/beak"
	"github.com/talon-obs/talon/internal/trace"
)

// Config holds mock collector settings.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string

	// StatusScript is an optional sequence of status codes returned to
	// successive POSTs; once exhausted every POST gets 200.
	StatusScript []int

	// MaxBodyBytes bounds one decompressed request body.
	MaxBodyBytes int64
}

// DefaultConfig returns sensible defaults for local use.
func DefaultConfig() Config {
	return Config{
		Addr:         ":9411",
		MaxBodyBytes: 64 * 1024 * 1024,
	}
}

// Server is the mock collector.
type Server struct {
	config Config

	mu       sync.Mutex
	records  []trace.Record
	statuses []int
	posts    int

	ln  net.Listener
	srv *http.Server
}

// New creates a mock collector with the given config.
func New(config Config) *Server {
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}
	s := &Server{
		config:   config,
		statuses: append([]int(nil), config.StatusScript...),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			s.handleIngest(w, r)
		case r.Method == http.MethodGet && r.URL.Path == "/traces":
			s.handleTraces(w, r)
		case r.Method == http.MethodGet && r.URL.Path == "/stats":
			s.handleStats(w, r)
		default:
			http.NotFound(w, r)
		}
	})
	s.srv = &http.Server{Addr: config.Addr, Handler: mux}
	return s
}

// Start binds the listener and begins serving in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", s.config.Addr, err)
	}
	s.ln = ln
	go s.srv.Serve(ln)
	return nil
}

// Stop shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.config.Addr
}

// URL returns the ingest endpoint URL.
func (s *Server) URL() string {
	return "http://" + s.Addr() + "/"
}

// Stats reports how many POSTs arrived and how many records were stored.
func (s *Server) Stats() (posts, records int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.posts, len(s.records)
}

// Records returns a copy of the stored records.
func (s *Server) Records() []trace.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]trace.Record, len(s.records))
	copy(out, s.records)
	return out
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.posts++
	status := http.StatusOK
	if len(s.statuses) > 0 {
		status = s.statuses[0]
		s.statuses = s.statuses[1:]
	}
	s.mu.Unlock()

	body := io.Reader(r.Body)
	if r.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(r.Body)
		if err != nil {
			http.Error(w, "bad gzip body", http.StatusBadRequest)
			return
		}
		defer gz.Close()
		body = gz
	}

	var batch []trace.Record
	if err := json.NewDecoder(io.LimitReader(body, s.config.MaxBodyBytes)).Decode(&batch); err != nil {
		http.Error(w, "bad batch body", http.StatusBadRequest)
		return
	}

	if status >= 200 && status < 300 {
		s.mu.Lock()
		s.records = append(s.records, batch...)
		s.mu.Unlock()
	}
	w.WriteHeader(status)
}

func (s *Server) handleTraces(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	docs := make([]beak.Trace, 0, len(s.records))
	for i := range s.records {
		docs = append(docs, beak.FromRecord(&s.records[i]))
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(docs)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	posts, records := s.Stats()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int{
		"posts":   posts,
		"records": records,
	})
}
