// Package api serves the editor's JSON HTTP API. The same handler runs
// behind a local web server and behind API Gateway in Lambda.
//
// Every error is caught at the handler boundary and returned as
// {"error": "..."} with the single display message of the failure.
package api

import (
	"context"
	"net/http"

	"github.com/fpang/gemini-photo-editor/internal/chat"
	"github.com/fpang/gemini-photo-editor/internal/filehandler"
	"github.com/fpang/gemini-photo-editor/internal/session"
	"github.com/fpang/gemini-photo-editor/internal/store"
)

// Suggester proposes edits for an image.
type Suggester interface {
	SuggestEdits(ctx context.Context, img filehandler.Image) ([]chat.Suggestion, error)
}

// PickFunc opens a native file dialog and returns the chosen path. It
// returns an empty path when the user cancels.
type PickFunc func(ctx context.Context) (string, error)

// Config wires the API to its collaborators.
type Config struct {
	Sessions *session.Manager
	Prefs    store.PreferenceStore

	// Suggester is optional; /suggest answers 501 without it.
	Suggester Suggester

	// Picker is optional; /api/pick is only registered when set. Local
	// paths are never accepted over HTTP otherwise.
	Picker PickFunc

	// ProfileID selects the preference record. Empty means the default
	// profile.
	ProfileID string

	// AllowedOrigins are CORS origins accepted besides localhost.
	AllowedOrigins []string

	// WaitForBatches makes generate block until every variant has settled
	// and answer 200 with the final results. Lambda needs this: the
	// container is frozen once the response is sent, so nothing may keep
	// running after it.
	WaitForBatches bool
}

// Server is the HTTP API.
type Server struct {
	cfg Config
	mux *http.ServeMux
}

// New builds the API routes.
func New(cfg Config) *Server {
	if cfg.ProfileID == "" {
		cfg.ProfileID = store.DefaultProfileID
	}
	s := &Server{cfg: cfg, mux: http.NewServeMux()}

	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/sessions", s.handleSessions)
	s.mux.HandleFunc("/api/sessions/", s.handleSessionRoutes)
	s.mux.HandleFunc("/api/preferences", s.handlePreferences)
	s.mux.HandleFunc("/api/recent", s.handleRecentList)
	s.mux.HandleFunc("/api/recent/", s.handleRecentRoutes)
	if cfg.Picker != nil {
		s.mux.HandleFunc("/api/pick", s.handlePick)
	}
	return s
}

// Mux exposes the route table so binaries can add static file handlers.
func (s *Server) Mux() *http.ServeMux {
	return s.mux
}

// Handler returns the routes wrapped in logging and CORS middleware.
func (s *Server) Handler() http.Handler {
	return withLogging(withCORS(s.cfg.AllowedOrigins, s.mux))
}

// GET /api/health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.cfg.Sessions.Len(),
	})
}
