// Package service holds the marketplace business rules.
//
// Services take plain values and return model types or apperror values.
// They never see HTTP: handlers parse forms and cookies, call a service,
// and map the returned sentinel to a status code.
//
// Every mutating operation takes the id of the signed-in user (the actor)
// and checks it against the owner of the record it touches.
package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/sakif/ecofinds/internal/apperror"
	"github.com/sakif/ecofinds/internal/auth"
	"github.com/sakif/ecofinds/internal/model"
	"github.com/sakif/ecofinds/internal/repository"
)

const (
	MaxUsernameLength = 50
	MaxEmailLength    = 120
	MinPasswordLength = 6
)

// msgInvalidCredentials is shared by the unknown-email and wrong-password
// paths so a caller cannot tell them apart.
const msgInvalidCredentials = "Invalid credentials"

var usernameDisallowed = regexp.MustCompile(`[^a-zA-Z0-9_.-]+`)

type AuthService struct {
	users     repository.UserRepository
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	logger    *slog.Logger

	// dummyHash is verified against when the email is unknown, so both
	// failure paths cost one bcrypt comparison.
	dummyHash string
}

func NewAuthService(
	users repository.UserRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	logger *slog.Logger,
) (*AuthService, error) {
	dummy, err := passwords.Hash(rand.Text())
	if err != nil {
		return nil, fmt.Errorf("service/auth: preparing dummy hash: %w", err)
	}
	return &AuthService{
		users:     users,
		tokens:    tokens,
		passwords: passwords,
		logger:    logger,
		dummyHash: dummy,
	}, nil
}

// AuthResult bundles the signed-in user with a fresh session token.
type AuthResult struct {
	User  *model.User
	Token string
}

// SignupInput is the signup form.
type SignupInput struct {
	Username        string
	Email           string
	Password        string
	ConfirmPassword string
}

// Signup validates the form and creates the account. It does not sign the
// user in; the caller redirects to the login page.
func (s *AuthService) Signup(ctx context.Context, in SignupInput) (*model.User, error) {
	username, err := validateUsername(in.Username)
	if err != nil {
		return nil, err
	}
	email, err := validateEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if err := validatePassword(in.Password, in.ConfirmPassword); err != nil {
		return nil, err
	}

	// Checked up front for the friendly message; the unique index still
	// catches a concurrent signup.
	if _, err := s.users.GetUserByEmail(ctx, email); err == nil {
		return nil, apperror.Conflict("email", "Email already exists")
	} else if !errors.Is(err, apperror.ErrNotFound) {
		return nil, fmt.Errorf("service/auth: checking email: %w", err)
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("service/auth: hashing password: %w", err)
	}

	user := &model.User{Username: username, Email: email, PasswordHash: hash}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("service/auth: creating user: %w", err)
	}

	s.logger.Info("user signed up",
		slog.Int64("userID", user.ID),
		slog.String("username", user.Username),
	)
	return user, nil
}

// Login checks the credentials and issues a session token. Unknown emails
// and wrong passwords both return apperror.ErrUnauthorized with the same
// message.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, apperror.Unauthorized(msgInvalidCredentials)
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			_ = s.passwords.Verify(s.dummyHash, password)
			s.logger.Info("login failed", slog.String("reason", "unknown email"))
			return nil, apperror.Unauthorized(msgInvalidCredentials)
		}
		return nil, fmt.Errorf("service/auth: looking up user: %w", err)
	}

	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		s.logger.Info("login failed",
			slog.Int64("userID", user.ID),
			slog.String("reason", "bad password"),
		)
		return nil, apperror.Unauthorized(msgInvalidCredentials)
	}

	return s.issue(user)
}

// LoginWithGitHub signs in the account whose email matches the GitHub
// profile, creating one on first use. Accounts created this way get a
// random password nobody knows; the owner can set one from the profile page.
func (s *AuthService) LoginWithGitHub(ctx context.Context, gh *auth.GitHubUser) (*AuthResult, error) {
	if gh == nil {
		return nil, fmt.Errorf("service/auth: GitHub user must not be nil")
	}
	email, err := validateEmail(gh.Email)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
	case errors.Is(err, apperror.ErrNotFound):
		user, err = s.createGitHubUser(ctx, gh, email)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("service/auth: looking up GitHub user: %w", err)
	}

	s.logger.Info("user authenticated via GitHub",
		slog.Int64("userID", user.ID),
		slog.String("login", gh.Login),
	)
	return s.issue(user)
}

func (s *AuthService) createGitHubUser(ctx context.Context, gh *auth.GitHubUser, email string) (*model.User, error) {
	hash, err := s.passwords.Hash(rand.Text())
	if err != nil {
		return nil, fmt.Errorf("service/auth: hashing placeholder password: %w", err)
	}

	base := usernameDisallowed.ReplaceAllString(gh.Login, "")
	if base == "" {
		base = "github"
	}
	candidates := []string{
		truncate(base, MaxUsernameLength),
		truncate(base, MaxUsernameLength-12) + fmt.Sprintf("-gh%d", gh.ID),
	}

	for _, name := range candidates {
		user := &model.User{Username: name, Email: email, PasswordHash: hash}
		err := s.users.CreateUser(ctx, user)
		if err == nil {
			return user, nil
		}
		var appErr *apperror.AppError
		if errors.As(err, &appErr) && appErr.Field == "username" {
			continue
		}
		return nil, fmt.Errorf("service/auth: creating GitHub user: %w", err)
	}
	return nil, apperror.Conflict("username", "Could not pick a free username for this GitHub account")
}

// ValidateToken returns the user id encoded in a session token.
func (s *AuthService) ValidateToken(token string) (int64, error) {
	id, err := s.tokens.Validate(token)
	if err != nil {
		return 0, fmt.Errorf("service/auth: %w", err)
	}
	return id, nil
}

// SessionTTL is how long issued tokens stay valid.
func (s *AuthService) SessionTTL() time.Duration {
	return s.tokens.TTL()
}

func (s *AuthService) issue(user *model.User) (*AuthResult, error) {
	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating token for user %d: %w", user.ID, err)
	}
	return &AuthResult{User: user, Token: token}, nil
}

func validateUsername(raw string) (string, error) {
	username := strings.TrimSpace(raw)
	if username == "" {
		return "", apperror.ValidationFailed("username", "Username is required")
	}
	if len(username) > MaxUsernameLength {
		return "", apperror.ValidationFailed("username",
			fmt.Sprintf("Username must be %d characters or less", MaxUsernameLength))
	}
	return username, nil
}

func validateEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", apperror.ValidationFailed("email", "Email is required")
	}
	if len(email) > MaxEmailLength {
		return "", apperror.ValidationFailed("email",
			fmt.Sprintf("Email must be %d characters or less", MaxEmailLength))
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apperror.ValidationFailed("email", "Email address is not valid")
	}
	return email, nil
}

func validatePassword(password, confirm string) error {
	if len(password) < MinPasswordLength {
		return apperror.ValidationFailed("password",
			fmt.Sprintf("Password must be at least %d characters", MinPasswordLength))
	}
	if len(password) > auth.MaxPasswordBytes {
		return apperror.ValidationFailed("password",
			fmt.Sprintf("Password must be at most %d bytes", auth.MaxPasswordBytes))
	}
	if password != confirm {
		return apperror.ValidationFailed("confirm_password", "Passwords do not match")
	}
	return nil
}

// requireSelf rejects an actor operating on another user's data.
func requireSelf(actor, userID int64) error {
	if actor != userID {
		return apperror.Forbidden("You can only manage your own account")
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
