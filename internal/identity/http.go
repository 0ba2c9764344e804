// Copyright (c) 2026 Kivora. All rights reserved.
// Author: dev@kivora.app

package identity

import (
	stdctx "context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kivora/crm/internal/platform/apperr"
	"github.com/kivora/crm/internal/platform/constants"
	"github.com/kivora/crm/internal/platform/middleware"
	requestutil "github.com/kivora/crm/internal/platform/request"
	"github.com/kivora/crm/internal/platform/respond"
	"github.com/kivora/crm/internal/platform/validate"
)

// # HTTP Delivery

// PasswordUpdater is the slice of the provider the password endpoint needs:
// it rotates a credential after verifying the current password.
type PasswordUpdater interface {
	UpdatePassword(context stdctx.Context, userID, currentPassword, newPassword string) error
}

// AccessTokenIssuer mints the JWT handed to the dashboard after sign-in.
type AccessTokenIssuer interface {
	GenerateAccessToken(userID, email, role string, timeToLive time.Duration) (string, error)
}

// Handler implements the session endpoints of the dashboard API.
//
// # Scope
//
// This handler manages the session lifecycle entry points (login, logout,
// session readout, forced password reset). It contains no resolution logic;
// everything flows through the [Manager].
type Handler struct {
	manager     *Manager
	credentials PasswordUpdater
	tokens      AccessTokenIssuer

	// resolveTimeout bounds how long login waits for its session to publish.
	resolveTimeout time.Duration
}

// NewHandler constructs a new [Handler] with its dependencies.
func NewHandler(manager *Manager, credentials PasswordUpdater, tokens AccessTokenIssuer) *Handler {
	return &Handler{
		manager:        manager,
		credentials:    credentials,
		tokens:         tokens,
		resolveTimeout: constants.LoginResolveTimeout,
	}
}

// Routes returns a [chi.Router] configured with the session routes.
//
// # Endpoints
//   - POST /login    : Authenticates and returns a JWT plus the resolved user.
//   - POST /logout   : Terminates the provider session (authenticated).
//   - GET  /session  : Reads the published session state (authenticated).
//   - POST /password : Completes the forced password reset (authenticated).
func (handler *Handler) Routes() chi.Router {
	router := chi.NewRouter()

	router.Post("/login", handler.login)

	// Session state carries PII (name, email, role); every readout of it
	// requires an authenticated caller.
	router.Group(func(protected chi.Router) {
		protected.Use(middleware.RequireAuth)
		protected.Get("/session", handler.session)
		protected.Post("/logout", handler.logout)
		protected.Post("/password", handler.updatePassword)
	})

	return router
}

// loginRequest represents the JSON payload expected for authentication.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// login handles POST /api/v1/auth/login requests.
//
// # Parameters
//   - writer: The HTTP response constructor.
//   - request: The incoming HTTP request payload.
//
// # Returns
//   - Writes HTTP 200 OK on success with AccessToken and resolved user.
//   - Writes HTTP 401 Unauthorized for bad credentials.
//   - Writes HTTP 503 if resolution does not publish within the deadline.
func (handler *Handler) login(writer http.ResponseWriter, request *http.Request) {
	// ── 1. Payload Extraction ─────────────────────────────────────────────

	var input loginRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	// ── 2. Boundary Validation ────────────────────────────────────────────

	validator := &validate.Validator{}
	validator.
		Required(FieldEmail, input.Email).
		Required(FieldPassword, input.Password)
	if err := validator.Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	// ── 3. Application Execution ──────────────────────────────────────────

	// Subscribe BEFORE signing in so the published resolution cannot race
	// past us between the provider event and our first read.
	sessions, cancel := handler.manager.Subscribe()
	defer cancel()

	if err := handler.manager.SignIn(request.Context(), input.Email, input.Password); err != nil {
		respond.Error(writer, request, err)
		return
	}

	user, err := awaitSession(request, input.Email, sessions, handler.resolveTimeout)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	token, err := handler.tokens.GenerateAccessToken(user.ID, user.Email, string(user.Role), constants.AccessTokenTTL)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	// ── 4. Presentation Output ────────────────────────────────────────────

	respond.OK(writer, map[string]any{
		FieldAccessToken: token,
		FieldUser:        user,
	})
}

// awaitSession waits for the listener to publish the resolution triggered by
// the sign-in above, bounded by timeout.
//
// The session feed is process-global: under concurrent logins it can carry
// another caller's resolution, or a sign-out. Only a publication whose
// provider identity matches the email that just authenticated may be answered
// with a token; everything else is skipped until the deadline.
func awaitSession(request *http.Request, email string, sessions <-chan SessionUpdate, timeout time.Duration) (*ResolvedUser, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-request.Context().Done():
			return nil, apperr.ServiceUnavailable("Sign-in was interrupted")

		case <-timer.C:
			return nil, apperr.ServiceUnavailable("Sign-in is taking longer than expected")

		case update := <-sessions:
			if update.User == nil || update.Identity == nil {
				continue
			}
			if strings.EqualFold(strings.TrimSpace(update.Identity.Email), strings.TrimSpace(email)) {
				return update.User, nil
			}
		}
	}
}

// logout handles POST /api/v1/auth/logout requests.
//
// # Returns
//   - Writes HTTP 204 No Content on success.
func (handler *Handler) logout(writer http.ResponseWriter, request *http.Request) {
	if err := handler.manager.SignOut(request.Context()); err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.NoContent(writer)
}

// session handles GET /api/v1/auth/session requests.
//
// It reads the published session slot without blocking: user is nil while no
// session exists, and loading is true while a resolution is in flight.
func (handler *Handler) session(writer http.ResponseWriter, request *http.Request) {
	user, loading := handler.manager.Current()

	respond.OK(writer, map[string]any{
		FieldUser:    user,
		FieldLoading: loading,
	})
}

// updatePasswordRequest represents the JSON payload for the forced reset.
type updatePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// updatePassword handles POST /api/v1/auth/password requests.
//
// # Parameters
//   - writer: The HTTP response constructor.
//   - request: The incoming HTTP request payload.
//
// # Returns
//   - Writes HTTP 204 No Content on success.
//   - Writes HTTP 401 Unauthorized for a wrong current password.
func (handler *Handler) updatePassword(writer http.ResponseWriter, request *http.Request) {
	// ── 1. Payload Extraction ─────────────────────────────────────────────

	var input updatePasswordRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	// ── 2. Boundary Validation ────────────────────────────────────────────

	validator := &validate.Validator{}
	validator.
		Required(FieldCurrentPassword, input.CurrentPassword).
		Required(FieldNewPassword, input.NewPassword).
		MinLen(FieldNewPassword, input.NewPassword, 8).
		Custom(FieldNewPassword, input.NewPassword == input.CurrentPassword, "New password must differ from the current one")
	if err := validator.Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	// ── 3. Application Execution ──────────────────────────────────────────

	userID, err := requestutil.RequiredUserID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	if err := handler.credentials.UpdatePassword(request.Context(), userID, input.CurrentPassword, input.NewPassword); err != nil {
		respond.Error(writer, request, err)
		return
	}

	// The credential is rotated; clear the obligation on the published session
	// and best-effort persist the flag to the backing record store.
	if err := handler.manager.MarkPasswordResetSatisfied(request.Context()); err != nil {
		respond.Error(writer, request, err)
		return
	}

	// ── 4. Presentation Output ────────────────────────────────────────────

	respond.NoContent(writer)
}
