package api

import (
	"net/http"

	"github.com/fpang/gemini-photo-editor/internal/chat"
	"github.com/fpang/gemini-photo-editor/internal/session"
)

// batchView is the JSON form of a feature's state and variant statuses.
type batchView struct {
	Feature chat.Feature         `json:"feature"`
	State   session.FeatureState `json:"state"`
	Keys    []string             `json:"keys"`
	Items   map[string]itemView  `json:"items"`
}

type itemView struct {
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	MIMEType   string `json:"mimeType,omitempty"`
	DurationMs int64  `json:"durationMs,omitempty"`
}

func viewBatch(feature chat.Feature, b session.BatchView) batchView {
	items := make(map[string]itemView, len(b.Items))
	for k, it := range b.Items {
		items[k] = itemView{
			Status:     string(it.Status),
			Error:      it.Error,
			MIMEType:   it.Value.MIMEType,
			DurationMs: it.Duration.Milliseconds(),
		}
	}
	keys := b.Keys
	if keys == nil {
		keys = []string{}
	}
	return batchView{Feature: feature, State: b.State, Keys: keys, Items: items}
}

// /api/sessions/{id}/features/{feature}[/{action}[/{key}[/commit]]]
//
//	GET    features/{f}                       state and variant statuses
//	POST   features/{f}/select                {"themes": [...]}
//	POST   features/{f}/generate              {"variants": [...], "references": [...]}
//	POST   features/{f}/back
//	GET    features/{f}/variants/{key}        variant image
//	POST   features/{f}/variants/{key}/commit commit the variant to history
func (s *Server) handleFeatureRoutes(w http.ResponseWriter, r *http.Request, sess *session.Session, rest []string) {
	if len(rest) == 0 {
		httpError(w, http.StatusNotFound, "feature is required")
		return
	}
	feature, err := chat.ParseFeature(rest[0])
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	action := ""
	if len(rest) > 1 {
		action = rest[1]
	}
	switch {
	case action == "":
		if !allowMethods(w, r, http.MethodGet) {
			return
		}
		respondJSON(w, http.StatusOK, viewBatch(feature, sess.Batch(feature)))

	case action == "select":
		s.handleSelect(w, r, sess, feature)

	case action == "generate":
		s.handleGenerate(w, r, sess, feature)

	case action == "back":
		if !allowMethods(w, r, http.MethodPost) {
			return
		}
		if _, err := sess.Back(feature); err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, viewBatch(feature, sess.Batch(feature)))

	case action == "variants" && len(rest) == 3:
		if !allowMethods(w, r, http.MethodGet) {
			return
		}
		img, err := sess.Variant(feature, rest[2])
		if err != nil {
			respondError(w, err)
			return
		}
		writeImage(w, img)

	case action == "variants" && len(rest) == 4 && rest[3] == "commit":
		if !allowMethods(w, r, http.MethodPost) {
			return
		}
		if _, err := sess.CommitVariant(feature, rest[2]); err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, s.historyResult(sess, true))

	default:
		httpError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request, sess *session.Session, feature chat.Feature) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	var req struct {
		Themes []string `json:"themes"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, err)
		return
	}
	if _, err := sess.SelectThemes(feature, req.Themes); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, viewBatch(feature, sess.Batch(feature)))
}

// POST features/{f}/generate starts the batch and returns 202 at once;
// clients poll GET features/{f} until the phase is results-shown. With
// WaitForBatches it answers 200 once the batch has settled.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request, sess *session.Session, feature chat.Feature) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	var req struct {
		Variants   []session.Variant `json:"variants"`
		References []uploadedImage   `json:"references"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, err)
		return
	}
	refs, err := decodeImages(req.References)
	if err != nil {
		respondError(w, err)
		return
	}
	if err := sess.StartBatch(r.Context(), feature, req.Variants, refs); err != nil {
		respondError(w, err)
		return
	}
	if s.cfg.WaitForBatches {
		sess.WaitBatch(feature)
		respondJSON(w, http.StatusOK, viewBatch(feature, sess.Batch(feature)))
		return
	}
	respondJSON(w, http.StatusAccepted, viewBatch(feature, sess.Batch(feature)))
}
