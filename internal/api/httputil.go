package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/fpang/gemini-photo-editor/internal/chat"
	"github.com/fpang/gemini-photo-editor/internal/dispatch"
	"github.com/fpang/gemini-photo-editor/internal/filehandler"
	"github.com/fpang/gemini-photo-editor/internal/session"
	"github.com/fpang/gemini-photo-editor/internal/store"
	"github.com/rs/zerolog/log"
)

// maxJSONBody bounds JSON request bodies. Reference images travel inline as
// base64, so this allows a primary-sized image plus overhead.
const maxJSONBody = 2 * filehandler.MaxImageBytes

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// httpError sends a JSON error response. The clientMsg is returned to the caller.
// Optional internalDetails are logged server-side but never sent to the client.
func httpError(w http.ResponseWriter, status int, clientMsg string, internalDetails ...string) {
	if len(internalDetails) > 0 {
		log.Error().
			Int("status", status).
			Str("clientMsg", clientMsg).
			Strs("internalDetails", internalDetails).
			Msg("HTTP error with internal details")
	}
	respondJSON(w, status, map[string]string{"error": clientMsg})
}

// respondError maps err to a status code and sends its display message.
func respondError(w http.ResponseWriter, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		httpError(w, status, dispatch.Message(err), err.Error())
		return
	}
	httpError(w, status, dispatch.Message(err))
}

func errorStatus(err error) int {
	var failure *dispatch.Failure
	var editErr *chat.EditError
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, session.ErrInvalidRequest),
		errors.Is(err, chat.ErrMissingReference):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrUnknownVariant),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, dispatch.ErrBusy),
		errors.Is(err, dispatch.ErrEmpty),
		errors.Is(err, dispatch.ErrBatchRunning),
		errors.Is(err, session.ErrInvalidTransition),
		errors.Is(err, session.ErrVariantNotReady):
		return http.StatusConflict
	case errors.As(err, &failure), errors.As(err, &editErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("request body exceeds %d bytes: %w", tooLarge.Limit, err)
		}
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty request body", session.ErrInvalidRequest)
		}
		return fmt.Errorf("%w: invalid JSON: %w", session.ErrInvalidRequest, err)
	}
	return nil
}

// writeImage streams raw image bytes.
func writeImage(w http.ResponseWriter, img filehandler.Image) {
	w.Header().Set("Content-Type", img.MIMEType)
	w.Header().Set("Content-Length", strconv.Itoa(img.Size()))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	w.Write(img.Data)
}

func allowMethods(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	httpError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}
