package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fpang/gemini-photo-editor/internal/chat"
	"github.com/fpang/gemini-photo-editor/internal/dispatch"
	"github.com/fpang/gemini-photo-editor/internal/export"
	"github.com/fpang/gemini-photo-editor/internal/filehandler"
	"github.com/fpang/gemini-photo-editor/internal/history"
	"github.com/fpang/gemini-photo-editor/internal/jobs"
	"github.com/fpang/gemini-photo-editor/internal/session"
	"github.com/fpang/gemini-photo-editor/internal/store"
	"github.com/rs/zerolog/log"
)

const (
	sessionsPrefix  = "/api/sessions/"
	sessionIDPrefix = "sess-"
)

// uploadedImage is an image sent inline in a JSON body. Data is base64.
type uploadedImage struct {
	Name string `json:"name"`
	Data []byte `json:"data"`
}

func decodeImages(in []uploadedImage) ([]filehandler.Image, error) {
	out := make([]filehandler.Image, 0, len(in))
	for i, u := range in {
		img, err := filehandler.DecodeUpload(u.Name, u.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: reference %d: %w", session.ErrInvalidRequest, i+1, err)
		}
		out = append(out, img)
	}
	return out, nil
}

// entryView is the JSON form of a history entry; image bytes are fetched
// separately.
type entryView struct {
	Index     int       `json:"index"`
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	MIMEType  string    `json:"mimeType"`
	SizeBytes int       `json:"sizeBytes"`
	CreatedAt time.Time `json:"createdAt"`
}

func viewEntry(i int, e history.Entry) entryView {
	return entryView{
		Index:     i,
		ID:        e.ID,
		Label:     e.Label,
		MIMEType:  e.Image.MIMEType,
		SizeBytes: e.Image.Size(),
		CreatedAt: e.CreatedAt,
	}
}

// historyResponse reports the entry at the cursor after an operation.
type historyResponse struct {
	Moved bool           `json:"moved"`
	Entry *entryView     `json:"entry,omitempty"`
	State dispatch.State `json:"state"`
}

func (s *Server) historyResult(sess *session.Session, moved bool) historyResponse {
	resp := historyResponse{Moved: moved, State: sess.State()}
	if e, ok := sess.Current(); ok {
		v := viewEntry(resp.State.Cursor, e)
		resp.Entry = &v
	}
	return resp
}

// /api/sessions: GET lists, POST opens a session from an upload or a recent project.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		respondJSON(w, http.StatusOK, map[string]any{"sessions": s.cfg.Sessions.List()})
	case http.MethodPost:
		s.handleOpen(w, r)
	default:
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// POST /api/sessions
//
// multipart/form-data with an "image" file opens an upload; a JSON body
// {"recent": "name"} reopens a recent project.
func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	var (
		img filehandler.Image
		err error
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		img, err = readMultipartImage(w, r)
	} else {
		var req struct {
			Recent string `json:"recent"`
		}
		if err = decodeJSON(w, r, &req); err == nil {
			if req.Recent == "" {
				err = fmt.Errorf("%w: recent project name is required", session.ErrInvalidRequest)
			} else {
				img, err = s.cfg.Prefs.RecentImage(r.Context(), s.cfg.ProfileID, req.Recent)
			}
		}
	}
	if err != nil {
		respondError(w, err)
		return
	}

	sess := s.openSession(r, img)
	respondJSON(w, http.StatusCreated, sess.Info())
}

func readMultipartImage(w http.ResponseWriter, r *http.Request) (filehandler.Image, error) {
	r.Body = http.MaxBytesReader(w, r.Body, filehandler.MaxImageBytes+1<<20)
	if err := r.ParseMultipartForm(filehandler.MaxImageBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return filehandler.Image{}, fmt.Errorf("upload exceeds %d bytes: %w", tooLarge.Limit, err)
		}
		return filehandler.Image{}, fmt.Errorf("%w: invalid upload: %w", session.ErrInvalidRequest, err)
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		return filehandler.Image{}, fmt.Errorf("%w: missing image file", session.ErrInvalidRequest)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return filehandler.Image{}, fmt.Errorf("read upload: %w", err)
	}
	img, err := filehandler.DecodeUpload(header.Filename, data)
	if err != nil {
		return filehandler.Image{}, fmt.Errorf("%w: %w", session.ErrInvalidRequest, err)
	}
	return img, nil
}

// openSession starts a session and records the image as a recent project.
// A failed preference write is logged, not returned: the session is usable.
func (s *Server) openSession(r *http.Request, img filehandler.Image) *session.Session {
	sess := s.cfg.Sessions.Open(img.Name, img)

	if s.cfg.Prefs == nil {
		return sess
	}
	ctx := r.Context()
	prefs, err := s.cfg.Prefs.Load(ctx, s.cfg.ProfileID)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load preferences for recent projects")
		return sess
	}
	prefs.AddRecent(store.NewRecentProject(img))
	if err := s.cfg.Prefs.Save(ctx, s.cfg.ProfileID, prefs); err != nil {
		log.Warn().Err(err).Msg("Failed to save recent projects")
	}
	return sess
}

// /api/sessions/{id}/{action}/...
func (s *Server) handleSessionRoutes(w http.ResponseWriter, r *http.Request) {
	id, action, rest, ok := jobs.ParseRoute(r.URL.Path, sessionsPrefix, sessionIDPrefix)
	if !ok {
		httpError(w, http.StatusNotFound, "not found")
		return
	}
	sess, found := s.cfg.Sessions.Get(id)
	if !found {
		httpError(w, http.StatusNotFound, "session not found")
		return
	}

	switch action {
	case "":
		s.handleSession(w, r, sess)
	case "edit":
		s.handleEdit(w, r, sess)
	case "undo", "redo":
		s.handleUndoRedo(w, r, sess, action)
	case "entries":
		s.handleEntries(w, r, sess, rest)
	case "current":
		s.handleCurrent(w, r, sess)
	case "features":
		s.handleFeatureRoutes(w, r, sess, rest)
	case "suggest":
		s.handleSuggest(w, r, sess)
	case "export":
		s.handleExport(w, r, sess)
	default:
		httpError(w, http.StatusNotFound, "not found")
	}
}

// GET returns the session summary; DELETE closes it (the "home" action).
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	switch r.Method {
	case http.MethodGet:
		respondJSON(w, http.StatusOK, sess.Info())
	case http.MethodDelete:
		s.cfg.Sessions.Close(sess.ID)
		w.WriteHeader(http.StatusNoContent)
	default:
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// editRequest is either a feature request or a free-form instruction.
type editRequest struct {
	Feature     string          `json:"feature"`
	Params      chat.Params     `json:"params"`
	References  []uploadedImage `json:"references"`
	Instruction string          `json:"instruction"`
	Label       string          `json:"label"`
}

// POST /api/sessions/{id}/edit
func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	var req editRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, err)
		return
	}

	var err error
	if req.Feature == "" {
		label := req.Label
		if label == "" {
			label = string(chat.FeatureEdit)
		}
		_, err = sess.EditInstruction(r.Context(), label, req.Instruction)
	} else {
		var feature chat.Feature
		feature, err = chat.ParseFeature(req.Feature)
		if err != nil {
			httpError(w, http.StatusBadRequest, err.Error())
			return
		}
		var refs []filehandler.Image
		if refs, err = decodeImages(req.References); err == nil {
			_, err = sess.Edit(r.Context(), feature, req.Params, refs)
		}
	}
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.historyResult(sess, true))
}

// POST /api/sessions/{id}/undo and /redo. At either end the call is a
// no-op and reports moved=false. During an edit it is refused with 409.
func (s *Server) handleUndoRedo(w http.ResponseWriter, r *http.Request, sess *session.Session, action string) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	var (
		moved bool
		err   error
	)
	if action == "undo" {
		_, moved, err = sess.Undo()
	} else {
		_, moved, err = sess.Redo()
	}
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.historyResult(sess, moved))
}

// GET /api/sessions/{id}/entries lists entries; /entries/{i} returns the image.
func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request, sess *session.Session, rest []string) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	if len(rest) == 0 {
		entries := sess.Entries()
		views := make([]entryView, len(entries))
		for i, e := range entries {
			views[i] = viewEntry(i, e)
		}
		respondJSON(w, http.StatusOK, map[string]any{"entries": views, "state": sess.State()})
		return
	}

	i, err := strconv.Atoi(rest[0])
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid entry index")
		return
	}
	e, ok := sess.Entry(i)
	if !ok {
		httpError(w, http.StatusNotFound, "entry not found")
		return
	}
	writeImage(w, e.Image)
}

// GET /api/sessions/{id}/current returns the image at the cursor.
func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	e, ok := sess.Current()
	if !ok {
		respondError(w, dispatch.ErrEmpty)
		return
	}
	writeImage(w, e.Image)
}

// POST /api/sessions/{id}/suggest
func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	if s.cfg.Suggester == nil {
		httpError(w, http.StatusNotImplemented, "suggestions are not available")
		return
	}
	e, ok := sess.Current()
	if !ok {
		respondError(w, dispatch.ErrEmpty)
		return
	}
	suggestions, err := s.cfg.Suggester.SuggestEdits(r.Context(), e.Image)
	if err != nil {
		respondError(w, chat.ClassifyError(err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"suggestions": suggestions})
}

// GET /api/sessions/{id}/export downloads the reachable history as a ZIP.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	entries := sess.Entries()
	if len(entries) == 0 {
		respondError(w, dispatch.ErrEmpty)
		return
	}

	base := strings.TrimSuffix(sess.Name, filepath.Ext(sess.Name))
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", base+"-history.zip"))
	if err := export.WriteZip(w, sess.Name, entries); err != nil {
		// Headers are already sent; the client sees a truncated archive.
		log.Error().Err(err).Str("session", sess.ID).Msg("Export failed")
	}
}

