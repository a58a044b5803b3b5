package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/FranNetty/dist-keras/internal/params"
	"github.com/FranNetty/dist-keras/internal/tensor"
	"github.com/FranNetty/dist-keras/internal/update"
)

// Server serves the canonical parameter set over HTTP for one training run.
type Server struct {
	store *params.Store // Lock-guarded parameter state
	rule  update.Rule   // Integrates submitted deltas

	listen  string // Requested listen address, may be ":0"
	mu      sync.Mutex
	ln      net.Listener
	httpSrv *http.Server
	started bool

	// Request counters, updated atomically by handlers.
	fetches  uint64
	updates  uint64
	rejected uint64
}

// New creates a server around store and rule, listening on listen once
// started. listen may be ":0" to pick an ephemeral port.
func New(listen string, store *params.Store, rule update.Rule) *Server {
	return &Server{
		store:  store,
		rule:   rule,
		listen: listen,
	}
}

// Start binds the listener and begins serving in the background.
// Binding happens synchronously: a port already in use returns an error
// right here. Starting a started server is a caller error.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.New("parameter server already started")
	}

	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.listen, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/parameters", s.handleParameters)
	mux.HandleFunc("/update", s.handleUpdate)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/stats", s.handleStats)

	s.httpSrv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second, // Prevent slowloris attacks
	}
	s.ln = ln
	s.started = true

	go func(srv *http.Server, ln net.Listener) {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("parameter server: serve: %v", err)
		}
	}(s.httpSrv, ln)

	log.Printf("parameter server listening on %s", ln.Addr())
	return nil
}

// Stop gracefully shuts the server down, draining in-flight requests
// until ctx expires. Stopping a stopped server is a caller error.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return errors.New("parameter server not started")
	}

	err := s.httpSrv.Shutdown(ctx)
	s.httpSrv = nil
	s.ln = nil
	s.started = false
	log.Println("parameter server stopped")
	return err
}

// Addr returns the bound address once started, or the configured listen
// address before that. With ":0" the bound address carries the actual port.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return s.listen
	}
	return s.ln.Addr().String()
}

// handleParameters serves the current parameter set as an opaque blob.
// A server with no parameters yet answers 200 with an empty body.
func (s *Server) handleParameters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	atomic.AddUint64(&s.fetches, 1)

	blob, err := tensor.EncodeParameterSet(s.store.Get())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := w.Write(blob); err != nil {
		log.Printf("parameter server: write response: %v", err)
	}
}

// handleUpdate decodes one delta and applies it under the store's lock.
// Failures are local to the request: the store is untouched and the
// process keeps serving. 400 marks an undecodable payload, 409 a shape
// conflict with the current set.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		atomic.AddUint64(&s.rejected, 1)
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}

	delta, err := tensor.DecodeDelta(body)
	if err != nil {
		atomic.AddUint64(&s.rejected, 1)
		log.Printf("parameter server: update rejected: %v", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if _, err := s.store.Apply(delta, s.rule); err != nil {
		atomic.AddUint64(&s.rejected, 1)
		log.Printf("parameter server: update rejected: %v", err)
		status := http.StatusInternalServerError
		if errors.Is(err, tensor.ErrShapeMismatch) {
			status = http.StatusConflict
		}
		http.Error(w, err.Error(), status)
		return
	}

	atomic.AddUint64(&s.updates, 1)
	w.WriteHeader(http.StatusNoContent)
}

// handleStats returns request counters and the held set's size.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := s.store.Stats()
	response := struct {
		Fetches    uint64 `json:"fetches"`
		Updates    uint64 `json:"updates"`
		Rejected   uint64 `json:"rejected"`
		Parameters struct {
			Tensors int `json:"tensors"`
			Values  int `json:"values"`
		} `json:"parameters"`
	}{
		Fetches:  atomic.LoadUint64(&s.fetches),
		Updates:  atomic.LoadUint64(&s.updates),
		Rejected: atomic.LoadUint64(&s.rejected),
	}
	response.Parameters.Tensors = stats.Tensors
	response.Parameters.Values = stats.Values

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}
