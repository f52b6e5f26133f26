package handler

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/sakif/ecofinds/internal/auth"
	"github.com/sakif/ecofinds/internal/model"
	"github.com/sakif/ecofinds/internal/service"
)

// AccountHandler serves the dashboard and profile pages.
type AccountHandler struct {
	pages
	users  *service.UserService
	secure bool
}

func NewAccountHandler(render *Renderer, users *service.UserService, secureCookies bool, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		pages:  pages{render: render, logger: logger},
		users:  users,
		secure: secureCookies,
	}
}

// HandleDashboard shows the user's profile and listings.
//
// HTTP: GET /dashboard/{userID}
func (h *AccountHandler) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "userID")
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	user, products, err := h.users.Dashboard(r.Context(), actor(r), id)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.render.Render(w, r, http.StatusOK, "dashboard", "Dashboard", map[string]any{
		"User":     user,
		"Products": products,
	})
}

// HandleEditForm renders the profile form.
//
// HTTP: GET /dashboard/{userID}/edit
func (h *AccountHandler) HandleEditForm(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "userID")
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	// Dashboard enforces that only the user may open their own form.
	user, _, err := h.users.Dashboard(r.Context(), actor(r), id)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.render.Render(w, r, http.StatusOK, "edit_user", "Edit profile", map[string]any{"User": user})
}

// HandleEdit saves the profile.
//
// HTTP: POST /dashboard/{userID}/edit
func (h *AccountHandler) HandleEdit(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "userID")
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	back := fmt.Sprintf("/dashboard/%d/edit", id)
	if err := r.ParseForm(); err != nil {
		redirectWithFlash(w, r, flashDanger, "Could not read the form", back)
		return
	}

	_, err = h.users.Update(r.Context(), actor(r), id, model.UserUpdate{
		Username:        r.PostForm.Get("username"),
		Email:           r.PostForm.Get("email"),
		Password:        r.PostForm.Get("password"),
		ConfirmPassword: r.PostForm.Get("confirm_password"),
	})
	if err != nil {
		h.formError(w, r, err, back)
		return
	}
	redirectWithFlash(w, r, flashSuccess, "Profile updated!", fmt.Sprintf("/dashboard/%d", id))
}

// HandleDelete removes the account and everything it owns, then signs out.
//
// HTTP: POST /dashboard/{userID}/delete
func (h *AccountHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "userID")
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	if err := h.users.Delete(r.Context(), actor(r), id); err != nil {
		h.renderError(w, r, err)
		return
	}
	auth.ClearSessionCookie(w, h.secure)
	redirectWithFlash(w, r, flashSuccess, "Your account has been deleted", "/")
}
