package api

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fpang/gemini-photo-editor/internal/filehandler"
	"github.com/fpang/gemini-photo-editor/internal/store"
	"github.com/rs/zerolog/log"
)

// recentView omits image bytes; thumbnails are fetched by name.
type recentView struct {
	Name         string    `json:"name"`
	MIMEType     string    `json:"mimeType"`
	OpenedAt     time.Time `json:"openedAt"`
	HasThumbnail bool      `json:"hasThumbnail"`
}

// preferencesView never includes the API key itself.
type preferencesView struct {
	DisclaimerAccepted bool         `json:"disclaimerAccepted"`
	HasAPIKey          bool         `json:"hasApiKey"`
	Recent             []recentView `json:"recent"`
	UpdatedAt          time.Time    `json:"updatedAt"`
}

func viewPreferences(p *store.Preferences) preferencesView {
	v := preferencesView{
		DisclaimerAccepted: p.DisclaimerAccepted,
		HasAPIKey:          p.APIKey != "",
		Recent:             viewRecent(p.Recent),
		UpdatedAt:          p.UpdatedAt,
	}
	return v
}

func viewRecent(recent []store.RecentProject) []recentView {
	out := make([]recentView, len(recent))
	for i, p := range recent {
		out[i] = recentView{
			Name:         p.Name,
			MIMEType:     p.MIMEType,
			OpenedAt:     p.OpenedAt,
			HasThumbnail: len(p.Thumbnail) > 0,
		}
	}
	return out
}

// preferencesUpdate is a partial update: nil fields are left unchanged. An
// empty apiKey clears the saved key.
type preferencesUpdate struct {
	DisclaimerAccepted *bool   `json:"disclaimerAccepted"`
	APIKey             *string `json:"apiKey"`
}

// GET /api/preferences, PUT /api/preferences
func (s *Server) handlePreferences(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet, http.MethodPut) {
		return
	}
	ctx := r.Context()
	prefs, err := s.cfg.Prefs.Load(ctx, s.cfg.ProfileID)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "failed to load preferences", err.Error())
		return
	}
	if r.Method == http.MethodGet {
		respondJSON(w, http.StatusOK, viewPreferences(prefs))
		return
	}

	var upd preferencesUpdate
	if err := decodeJSON(w, r, &upd); err != nil {
		respondError(w, err)
		return
	}
	if upd.DisclaimerAccepted != nil {
		prefs.DisclaimerAccepted = *upd.DisclaimerAccepted
	}
	if upd.APIKey != nil {
		prefs.APIKey = strings.TrimSpace(*upd.APIKey)
	}
	if err := s.cfg.Prefs.Save(ctx, s.cfg.ProfileID, prefs); err != nil {
		httpError(w, http.StatusInternalServerError, "failed to save preferences", err.Error())
		return
	}
	log.Info().
		Bool("disclaimer_accepted", prefs.DisclaimerAccepted).
		Bool("has_api_key", prefs.APIKey != "").
		Msg("Preferences updated")
	respondJSON(w, http.StatusOK, viewPreferences(prefs))
}

// GET /api/recent
func (s *Server) handleRecentList(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	prefs, err := s.cfg.Prefs.Load(r.Context(), s.cfg.ProfileID)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "failed to load preferences", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"recent": viewRecent(prefs.Recent)})
}

// GET /api/recent/{name}/thumbnail, DELETE /api/recent/{name}
func (s *Server) handleRecentRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/recent/"), "/")
	parts := strings.Split(rest, "/")
	name, err := url.PathUnescape(parts[0])
	if err != nil || name == "" {
		httpError(w, http.StatusBadRequest, "invalid project name")
		return
	}

	ctx := r.Context()
	prefs, err := s.cfg.Prefs.Load(ctx, s.cfg.ProfileID)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "failed to load preferences", err.Error())
		return
	}

	switch {
	case len(parts) == 2 && parts[1] == "thumbnail" && r.Method == http.MethodGet:
		p, ok := prefs.FindRecent(name)
		if !ok || len(p.Thumbnail) == 0 {
			httpError(w, http.StatusNotFound, "thumbnail not found")
			return
		}
		writeImage(w, p.ThumbnailImage())

	case len(parts) == 1 && r.Method == http.MethodDelete:
		if !prefs.RemoveRecent(name) {
			httpError(w, http.StatusNotFound, "recent project not found")
			return
		}
		if err := s.cfg.Prefs.Save(ctx, s.cfg.ProfileID, prefs); err != nil {
			httpError(w, http.StatusInternalServerError, "failed to save preferences", err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		httpError(w, http.StatusNotFound, "not found")
	}
}

// POST /api/pick opens the native file dialog and starts a session from the
// chosen file.
func (s *Server) handlePick(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	path, err := s.cfg.Picker(r.Context())
	if err != nil {
		httpError(w, http.StatusInternalServerError, "file dialog failed", err.Error())
		return
	}
	if path == "" {
		respondJSON(w, http.StatusOK, map[string]any{"canceled": true})
		return
	}

	img, err := filehandler.LoadImage(path)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	sess := s.openSession(r, img)
	respondJSON(w, http.StatusCreated, sess.Info())
}
