// Package server provides the HTTP server for the natya dance practice system.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ayusman/natya/internal/detector"
	"github.com/ayusman/natya/internal/score"
	"github.com/ayusman/natya/internal/server/api"
	"github.com/ayusman/natya/internal/store"
)

// Config holds the server configuration.
type Config struct {
	StaticDir string
	Store     *store.Store
	Detector  detector.Detector
	Engine    *score.Engine
	// References is notified when a song's reference poses change.
	References api.Forgetter
	Live       api.LiveController
	Hub        *LiveHub
}

// Server represents the HTTP server for the natya application.
type Server struct {
	config Config
	mux    *http.ServeMux
	start  time.Time
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	if s.config.Store != nil {
		songs := api.NewSongHandler(s.config.Store, s.config.References)
		s.mux.Handle("/api/songs", songs)
		s.mux.Handle("/api/songs/", songs)
	}

	if s.config.Engine != nil {
		s.mux.Handle("/api/compare", api.NewCompareHandler(s.config.Engine))

		if s.config.Detector != nil {
			s.mux.Handle("/api/analyze", api.NewAnalyzeHandler(s.config.Detector, s.config.Engine, s.config.Store))
		}

		if s.config.Store != nil {
			sessions := api.NewSessionHandler(s.config.Store, s.config.Engine.Scorer(), s.config.Live)
			s.mux.Handle("/api/sessions", sessions)
			s.mux.Handle("/api/sessions/", sessions)
		}
	}

	if s.config.Hub != nil {
		s.mux.Handle("/api/live", s.config.Hub)
	}

	// Serve static files if StaticDir is configured
	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type healthResponse struct {
	Status      string        `json:"status"`
	Uptime      string        `json:"uptime"`
	LiveClients int           `json:"live_clients"`
	Policy      *score.Policy `json:"policy,omitempty"`
}

// handleHealth reports uptime, connected live clients and the scoring
// policy in force.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := healthResponse{
		Status: "ok",
		Uptime: time.Since(s.start).Round(time.Second).String(),
	}
	if s.config.Hub != nil {
		response.LiveClients = s.config.Hub.Clients()
	}
	if s.config.Engine != nil {
		policy := s.config.Engine.Scorer().Policy()
		response.Policy = &policy
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// HTTPServer returns an *http.Server for addr, for callers that need graceful
// shutdown.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
