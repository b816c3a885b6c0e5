// Package api serves entries, sensors and live events over HTTP and websocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/srg/brushlink/internal/groutine"
	"github.com/srg/brushlink/internal/integration"
	"github.com/srg/brushlink/internal/ringchan"
)

// Backend is the part of the integration the API exposes.
type Backend interface {
	Entries() []integration.EntryStatus
	Entry(id string) (integration.EntryStatus, bool)
	Sensors(id string) ([]integration.Sensor, error)
	StopEntry(ctx context.Context, id string) error
	Subscribe(buffer int) (*ringchan.RingChannel[integration.Event], func())
}

// Server is the HTTP front end.
type Server struct {
	backend Backend
	listen  string
	logger  *logrus.Logger
	ws      *wsHandler

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
	wg         sync.WaitGroup
}

// New creates a server that will listen on addr.
func New(backend Backend, addr string, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	return &Server{
		backend: backend,
		listen:  addr,
		logger:  logger,
		ws:      newWSHandler(backend, logger),
	}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/ws", s.ws.handle)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/entries", s.handleEntries).Methods(http.MethodGet)
	api.HandleFunc("/entries/{id}", s.handleEntry).Methods(http.MethodGet)
	api.HandleFunc("/entries/{id}/sensors", s.handleSensors).Methods(http.MethodGet)
	api.HandleFunc("/entries/{id}/stop", s.handleStop).Methods(http.MethodPost)

	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	return router
}

// Start begins serving in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.listen, err)
	}

	srv := &http.Server{
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.mu.Lock()
	s.httpServer = srv
	s.listener = ln
	s.mu.Unlock()

	s.logger.WithField("listen", ln.Addr().String()).Info("API server started")
	groutine.GoTracked(context.Background(), &s.wg, "api-server", func(context.Context) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithError(err).Error("API server failed")
		}
	})
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown closes websocket clients and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.ws.shutdown()

	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down API server: %w", err)
	}
	s.wg.Wait()
	s.logger.Info("API server stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEntries(w http.ResponseWriter, _ *http.Request) {
	entries := s.backend.Entries()
	if entries == nil {
		entries = []integration.EntryStatus{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleEntry(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	entry, ok := s.backend.Entry(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("entry %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleSensors(w http.ResponseWriter, r *http.Request) {
	sensors, err := s.backend.Sensors(mux.Vars(r)["id"])
	if err != nil {
		writeBackendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sensors)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.backend.StopEntry(r.Context(), id); err != nil {
		s.logger.WithFields(logrus.Fields{"entry_id": id, "error": err}).Warn("Stop request failed")
		writeBackendError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeBackendError(w http.ResponseWriter, err error) {
	if errors.Is(err, integration.ErrEntryNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
