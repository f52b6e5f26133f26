package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/ecofinds/internal/apperror"
	"github.com/sakif/ecofinds/internal/auth"
)

// ErrorResponse is the JSON error body of the /api routes:
//
//	{"error": "not_found", "message": "product not found with id 9"}
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// statusOf maps an error from the service layer to an HTTP status and a
// machine-readable kind.
func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperror.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, apperror.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, apperror.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	}
	return http.StatusInternalServerError, "internal_error"
}

// writeError sends err as a JSON ErrorResponse. Internal errors never
// expose their text.
func writeError(w http.ResponseWriter, err error) {
	status, kind := statusOf(err)
	msg := "An internal error occurred"
	if status != http.StatusInternalServerError {
		msg = apperror.MessageOf(err, http.StatusText(status))
	}
	writeJSON(w, status, ErrorResponse{Error: kind, Message: msg})
}

// pages carries what every HTML handler needs.
type pages struct {
	render *Renderer
	logger *slog.Logger
}

// renderError shows the error page for err.
func (p pages) renderError(w http.ResponseWriter, r *http.Request, err error) {
	status, _ := statusOf(err)
	msg := "Something went wrong on our side. Please try again."
	switch status {
	case http.StatusInternalServerError:
		p.logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	case http.StatusNotFound:
		msg = "We couldn't find what you were looking for."
	default:
		msg = apperror.MessageOf(err, http.StatusText(status))
	}
	p.render.Render(w, r, status, "error", http.StatusText(status), map[string]any{
		"Status":  status,
		"Message": msg,
	})
}

// formError handles a failed form submission. Validation and conflict
// errors become a flash message on the form at back; anything else is an
// error page.
func (p pages) formError(w http.ResponseWriter, r *http.Request, err error, back string) {
	if errors.Is(err, apperror.ErrValidation) || errors.Is(err, apperror.ErrConflict) {
		addFlash(w, r, flashDanger, apperror.MessageOf(err, "Please check the form"))
		http.Redirect(w, r, back, http.StatusSeeOther)
		return
	}
	p.renderError(w, r, err)
}

// redirectWithFlash queues a message and redirects with 303.
func redirectWithFlash(w http.ResponseWriter, r *http.Request, kind, msg, to string) {
	addFlash(w, r, kind, msg)
	http.Redirect(w, r, to, http.StatusSeeOther)
}

// idParam parses a positive integer path parameter. Anything else is
// reported as not found.
func idParam(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, &apperror.AppError{Err: apperror.ErrNotFound, Message: "not found"}
	}
	return id, nil
}

// actor is the signed-in user. Routes using it sit behind auth.RequireAuth.
func actor(r *http.Request) int64 {
	id, _ := auth.UserIDFromContext(r.Context())
	return id
}

// safeNext returns next when it is a local path, otherwise fallback.
func safeNext(next, fallback string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return fallback
	}
	u, err := url.Parse(next)
	if err != nil || u.IsAbs() || u.Host != "" {
		return fallback
	}
	return next
}
