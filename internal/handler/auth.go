package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/rs/xid"

	"github.com/sakif/ecofinds/internal/apperror"
	"github.com/sakif/ecofinds/internal/auth"
	"github.com/sakif/ecofinds/internal/service"
)

const oauthStateCookie = "oauth_state"

// AuthHandler serves signup, login, logout and the optional GitHub flow.
type AuthHandler struct {
	pages
	auth   *service.AuthService
	users  *service.UserService
	github *auth.GitHubProvider // nil when GitHub sign-in is off
	secure bool
}

func NewAuthHandler(
	render *Renderer,
	authSvc *service.AuthService,
	users *service.UserService,
	github *auth.GitHubProvider,
	secureCookies bool,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		pages:  pages{render: render, logger: logger},
		auth:   authSvc,
		users:  users,
		github: github,
		secure: secureCookies,
	}
}

// HandleSignupForm renders the signup page.
//
// HTTP: GET /signup
func (h *AuthHandler) HandleSignupForm(w http.ResponseWriter, r *http.Request) {
	h.render.Render(w, r, http.StatusOK, "signup", "Sign up", nil)
}

// HandleSignup creates an account and sends the user to the login page.
// Errors are flashed back on the signup form.
//
// HTTP: POST /signup
func (h *AuthHandler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		redirectWithFlash(w, r, flashDanger, "Could not read the form", "/signup")
		return
	}
	_, err := h.auth.Signup(r.Context(), service.SignupInput{
		Username:        r.PostForm.Get("username"),
		Email:           r.PostForm.Get("email"),
		Password:        r.PostForm.Get("password"),
		ConfirmPassword: r.PostForm.Get("confirm_password"),
	})
	if err != nil {
		h.formError(w, r, err, "/signup")
		return
	}
	redirectWithFlash(w, r, flashSuccess, "Signup successful! Please login.", "/login")
}

// HandleLoginForm renders the login page.
//
// HTTP: GET /login?next=/cart/3
func (h *AuthHandler) HandleLoginForm(w http.ResponseWriter, r *http.Request) {
	h.renderLogin(w, r, http.StatusOK, "", r.URL.Query().Get("next"))
}

// HandleLogin checks the credentials, sets the session cookie and goes to
// next or the dashboard. Bad credentials re-render the form with 401.
//
// HTTP: POST /login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderError(w, r, apperror.ValidationFailed("", "Could not read the form"))
		return
	}
	email := r.PostForm.Get("email")
	next := r.PostForm.Get("next")

	result, err := h.auth.Login(r.Context(), email, r.PostForm.Get("password"))
	if err != nil {
		if errors.Is(err, apperror.ErrUnauthorized) {
			addFlash(w, r, flashDanger, apperror.MessageOf(err, "Invalid credentials"))
			h.renderLogin(w, r, http.StatusUnauthorized, email, next)
			return
		}
		h.renderError(w, r, err)
		return
	}

	auth.SetSessionCookie(w, result.Token, h.auth.SessionTTL(), h.secure)
	dest := safeNext(next, fmt.Sprintf("/dashboard/%d", result.User.ID))
	redirectWithFlash(w, r, flashSuccess, "Login successful!", dest)
}

func (h *AuthHandler) renderLogin(w http.ResponseWriter, r *http.Request, status int, email, next string) {
	h.render.Render(w, r, status, "login", "Log in", map[string]any{
		"Email":  email,
		"Next":   safeNext(next, ""),
		"GitHub": h.github != nil,
	})
}

// HandleLogout clears the session cookie. Tokens are stateless, so an
// already copied token stays valid until it expires.
//
// HTTP: GET /logout, POST /logout
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	auth.ClearSessionCookie(w, h.secure)
	redirectWithFlash(w, r, flashSuccess, "Logged out successfully", "/login")
}

// HandleMe returns the signed-in user as JSON.
//
// HTTP: GET /api/me (auth required)
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.Get(r.Context(), actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// HandleGitHubLogin redirects to GitHub. A random state is kept in a
// short-lived cookie and checked on the callback.
//
// HTTP: GET /auth/github/login
func (h *AuthHandler) HandleGitHubLogin(w http.ResponseWriter, r *http.Request) {
	state := xid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   300,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.github.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleGitHubCallback finishes the GitHub flow and signs the user in.
//
// HTTP: GET /auth/github/callback?code=xxx&state=yyy
func (h *AuthHandler) HandleGitHubCallback(w http.ResponseWriter, r *http.Request) {
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || stateCookie.Value == "" || r.URL.Query().Get("state") != stateCookie.Value {
		h.logger.Warn("github callback: state mismatch")
		redirectWithFlash(w, r, flashDanger, "GitHub sign-in failed, please try again", "/login")
		return
	}
	http.SetCookie(w, &http.Cookie{Name: oauthStateCookie, Value: "", Path: "/", MaxAge: -1})

	if denied := r.URL.Query().Get("error"); denied != "" {
		h.logger.Info("github callback: authorization denied", slog.String("error", denied))
		redirectWithFlash(w, r, flashDanger, "GitHub sign-in was cancelled", "/login")
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		redirectWithFlash(w, r, flashDanger, "GitHub sign-in failed, please try again", "/login")
		return
	}

	ghUser, err := h.github.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("github callback: exchange failed", slog.String("error", err.Error()))
		redirectWithFlash(w, r, flashDanger, "GitHub sign-in failed, please try again", "/login")
		return
	}

	result, err := h.auth.LoginWithGitHub(r.Context(), ghUser)
	if err != nil {
		h.formError(w, r, err, "/login")
		return
	}

	auth.SetSessionCookie(w, result.Token, h.auth.SessionTTL(), h.secure)
	redirectWithFlash(w, r, flashSuccess, "Login successful!", fmt.Sprintf("/dashboard/%d", result.User.ID))
}
