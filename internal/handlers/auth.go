package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/contactbook/apiserver/internal/auth"
	"github.com/contactbook/apiserver/internal/services"
	"github.com/contactbook/apiserver/types"
)

const maxAvatarBytes = 8 << 20

// AuthHandler provides the signup, login, token, confirmation, and
// profile endpoints.
type AuthHandler struct {
	userService *services.UserService
}

// NewAuthHandler constructs an AuthHandler with the provided service.
func NewAuthHandler(userService *services.UserService) *AuthHandler {
	return &AuthHandler{userService: userService}
}

// AuthRouter registers auth routes on the given router. limiter may be
// nil to disable rate limiting (tests).
func AuthRouter(
	r chi.Router,
	userService *services.UserService,
	authMiddleware func(http.Handler) http.Handler,
	limiter func(http.Handler) http.Handler,
) {
	handler := NewAuthHandler(userService)

	r.Post("/signup", handler.Signup)
	with(r, limiter).Post("/login", handler.Login)
	with(r, limiter).Get("/refresh_token", handler.RefreshToken)
	with(r, limiter).Get("/confirmed_email/{token}", handler.ConfirmEmail)
	with(r, limiter).Post("/request_email", handler.RequestEmail)
	with(r, authMiddleware).Get("/me/", handler.Me)
	with(r, authMiddleware).Patch("/avatar", handler.UpdateAvatar)
}

func with(r chi.Router, mw func(http.Handler) http.Handler) chi.Router {
	if mw == nil {
		return r
	}
	return r.With(mw)
}

// RequireAuth resolves the bearer access token to an authenticated
// user on each request and injects it into the context. This is the
// single authorization gate for every protected route.
func RequireAuth(userService *services.UserService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := bearerToken(r)
			if err != nil {
				writeUnauthorized(w, auth.ErrInvalidToken.Error())
				return
			}

			user, err := userService.CurrentUser(r.Context(), tokenString)
			if err != nil {
				writeUnauthorized(w, auth.ErrInvalidToken.Error())
				return
			}

			ctx := context.WithValue(r.Context(), contextUserKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Signup creates a new unconfirmed user account.
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if req.Username == "" || req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing required fields")
		return
	}

	user, err := h.userService.Signup(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, services.ErrEmailTaken) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	writeJSON(w, http.StatusCreated, SignupResponse{User: user, Detail: "User successfully created"})
}

// Login verifies form credentials and returns a token pair.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	email := strings.TrimSpace(r.PostFormValue("username"))
	password := r.PostFormValue("password")
	if email == "" || password == "" {
		writeError(w, http.StatusBadRequest, "missing credentials")
		return
	}

	pair, err := h.userService.Login(r.Context(), email, password)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidEmail),
			errors.Is(err, services.ErrEmailNotConfirmed),
			errors.Is(err, services.ErrInvalidPassword):
			writeUnauthorized(w, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "failed to authenticate")
		}
		return
	}

	writeJSON(w, http.StatusOK, pair)
}

// RefreshToken exchanges a bearer refresh token for a new pair.
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	tokenString, err := bearerToken(r)
	if err != nil {
		writeUnauthorized(w, auth.ErrInvalidToken.Error())
		return
	}

	pair, err := h.userService.Refresh(r.Context(), tokenString)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, services.ErrInvalidRefreshToken):
			writeUnauthorized(w, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "failed to refresh token")
		}
		return
	}

	writeJSON(w, http.StatusOK, pair)
}

// ConfirmEmail redeems a confirmation token from the emailed link.
func (h *AuthHandler) ConfirmEmail(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	message, err := h.userService.ConfirmEmail(r.Context(), token)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidEmailToken):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, services.ErrVerification):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "failed to confirm email")
		}
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: message})
}

// RequestEmail queues another confirmation email.
func (h *AuthHandler) RequestEmail(w http.ResponseWriter, r *http.Request) {
	var req RequestEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "missing email")
		return
	}

	message, err := h.userService.RequestEmail(r.Context(), req.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to request email")
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: message})
}

// Me returns the current authenticated user's profile.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w, auth.ErrInvalidToken.Error())
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// UpdateAvatar stores the uploaded image and returns the updated user.
func (h *AuthHandler) UpdateAvatar(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w, auth.ErrInvalidToken.Error())
		return
	}

	if err := r.ParseMultipartForm(maxAvatarBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	updated, err := h.userService.UpdateAvatar(r.Context(), user, file, header.Size, contentType)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update avatar")
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

type SignupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SignupResponse struct {
	User   types.User `json:"user"`
	Detail string     `json:"detail"`
}

type RequestEmailRequest struct {
	Email string `json:"email"`
}
