// Package httpapi serves the latest composite reading, and the journal
// when one is configured, over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/ericogr/water-monitor/pkg/output"
	"github.com/ericogr/water-monitor/pkg/sensor"
)

const (
	DefaultListen = ":8080"
	// DefaultLimit is the history page size when no limit is given.
	DefaultLimit = 100
)

type Server struct {
	listen  string
	history output.History
	router  *mux.Router
	srv     *http.Server
	ln      net.Listener

	mu     sync.RWMutex
	latest *sensor.Readings
}

// New builds the API. history may be nil, in which case the history route
// answers 404.
func New(listen string, history output.History) *Server {
	if listen == "" {
		listen = DefaultListen
	}
	s := &Server{listen: listen, history: history}
	s.configureRouter()
	return s
}

func (s *Server) configureRouter() {
	s.router = mux.NewRouter()
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/readings/latest", s.handleLatest()).Methods("GET")
	api.HandleFunc("/readings/history", s.handleHistory()).Methods("GET")
}

// Handler is the router wrapped with request logging.
func (s *Server) Handler() http.Handler {
	return handlers.LoggingHandler(log.Writer(), s.router)
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return err
	}
	s.ln = ln
	s.srv = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("http api: %v", err)
		}
	}()
	return nil
}

// Addr is the bound address once started.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.listen
	}
	return s.ln.Addr().String()
}

func (s *Server) Publish(r sensor.Readings) error {
	s.mu.Lock()
	s.latest = &r
	s.mu.Unlock()
	return nil
}

func (s *Server) Close() error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleLatest() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		latest := s.latest
		s.mu.RUnlock()
		if latest != nil {
			writeJSON(w, latest)
			return
		}
		if s.history != nil {
			rd, ok, err := s.history.Latest()
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			if ok {
				writeJSON(w, rd)
				return
			}
		}
		http.Error(w, "no reading yet", http.StatusNotFound)
	}
}

func (s *Server) handleHistory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.history == nil {
			http.Error(w, "history not configured", http.StatusNotFound)
			return
		}
		limit := DefaultLimit
		if q := r.URL.Query().Get("limit"); q != "" {
			n, err := strconv.Atoi(q)
			if err != nil || n < 0 {
				http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
				return
			}
			limit = n
		}
		rs, err := s.history.Recent(limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if rs == nil {
			rs = []sensor.Readings{}
		}
		writeJSON(w, rs)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("http api: encode response: %v", err)
	}
}
