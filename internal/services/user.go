package services

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/contactbook/apiserver/internal/auth"
	"github.com/contactbook/apiserver/internal/store"
	"github.com/contactbook/apiserver/types"
	"github.com/google/uuid"
)

const dispatchTimeout = 10 * time.Second

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id int) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	UpdateRefreshToken(ctx context.Context, userID int, token *string) error
	SwapRefreshToken(ctx context.Context, userID int, current, next string) error
	SetConfirmed(ctx context.Context, userID int) error
	UpdateAvatar(ctx context.Context, userID int, url string) (types.User, error)
}

// ConfirmationSender queues a confirmation email for delivery.
type ConfirmationSender interface {
	SendConfirmation(ctx context.Context, email, username string) error
}

// AvatarStorage persists an uploaded avatar and returns its public URL.
type AvatarStorage interface {
	SaveAvatar(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
}

// TokenPair is the credential pair issued on login and refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// UserService encapsulates the signup, login, token refresh, email
// confirmation, and avatar use-cases.
type UserService struct {
	repo    UserRepository
	hasher  *auth.PasswordHasher
	tokens  *auth.TokenService
	mail    ConfirmationSender
	avatars AvatarStorage
}

func NewUserService(
	repo UserRepository,
	hasher *auth.PasswordHasher,
	tokens *auth.TokenService,
	mail ConfirmationSender,
	avatars AvatarStorage,
) *UserService {
	return &UserService{
		repo:    repo,
		hasher:  hasher,
		tokens:  tokens,
		mail:    mail,
		avatars: avatars,
	}
}

// Signup creates an unconfirmed user, hashes the password, assigns a
// gravatar default avatar, and queues the confirmation email in the
// background. A duplicate email yields ErrEmailTaken.
func (s *UserService) Signup(ctx context.Context, username, email, password string) (types.User, error) {
	if _, err := s.repo.GetByEmail(ctx, email); err == nil {
		return types.User{}, ErrEmailTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return types.User{}, err
	}

	hashed, err := s.hasher.Hash(password)
	if err != nil {
		return types.User{}, err
	}

	avatar := gravatarURL(email)
	user, err := s.repo.Create(ctx, types.User{
		Username:     username,
		Email:        email,
		PasswordHash: hashed,
		Avatar:       &avatar,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return types.User{}, ErrEmailTaken
		}
		return types.User{}, err
	}

	s.dispatchConfirmation(user.Email, user.Username)
	return user, nil
}

// Login verifies credentials and issues a fresh token pair, persisting
// the refresh token as the user's single active session.
func (s *UserService) Login(ctx context.Context, email, password string) (TokenPair, error) {
	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return TokenPair{}, ErrInvalidEmail
		}
		return TokenPair{}, err
	}
	if !user.Confirmed {
		return TokenPair{}, ErrEmailNotConfirmed
	}
	if !s.hasher.Verify(password, user.PasswordHash) {
		return TokenPair{}, ErrInvalidPassword
	}

	pair, err := s.issuePair(user.Email)
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.repo.UpdateRefreshToken(ctx, user.ID, &pair.RefreshToken); err != nil {
		return TokenPair{}, err
	}
	return pair, nil
}

// Refresh exchanges a valid refresh token for a new pair. A presented
// token that no longer matches the stored one is treated as reuse:
// the stored token is nulled and the caller must log in again.
func (s *UserService) Refresh(ctx context.Context, token string) (TokenPair, error) {
	email, err := s.tokens.DecodeRefreshToken(token)
	if err != nil {
		return TokenPair{}, err
	}
	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return TokenPair{}, ErrInvalidRefreshToken
		}
		return TokenPair{}, err
	}
	if user.RefreshToken == nil || *user.RefreshToken != token {
		_ = s.repo.UpdateRefreshToken(ctx, user.ID, nil)
		return TokenPair{}, ErrInvalidRefreshToken
	}

	pair, err := s.issuePair(user.Email)
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.repo.SwapRefreshToken(ctx, user.ID, token, pair.RefreshToken); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Lost a concurrent rotation; the presented token is spent.
			_ = s.repo.UpdateRefreshToken(ctx, user.ID, nil)
			return TokenPair{}, ErrInvalidRefreshToken
		}
		return TokenPair{}, err
	}
	return pair, nil
}

// CurrentUser resolves a bearer access token to the authenticated
// user. Any failure (signature, expiry, scope, subject, unknown user)
// is reported as auth.ErrInvalidToken.
func (s *UserService) CurrentUser(ctx context.Context, token string) (types.User, error) {
	email, err := s.tokens.ParseAccessToken(token)
	if err != nil {
		return types.User{}, err
	}
	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, auth.ErrInvalidToken
		}
		return types.User{}, err
	}
	return user, nil
}

// ConfirmEmail redeems a confirmation token. Confirming an already
// confirmed email is an idempotent success.
func (s *UserService) ConfirmEmail(ctx context.Context, token string) (string, error) {
	email, err := s.tokens.ParseEmailToken(token)
	if err != nil {
		return "", err
	}
	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrVerification
		}
		return "", err
	}
	if user.Confirmed {
		return "Your email is already confirmed", nil
	}
	if err := s.repo.SetConfirmed(ctx, user.ID); err != nil {
		return "", err
	}
	return "Email confirmed", nil
}

// RequestEmail queues another confirmation email. An unknown address
// gets the same generic reply as a known one so the endpoint cannot be
// used to probe which emails are registered.
func (s *UserService) RequestEmail(ctx context.Context, email string) (string, error) {
	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "Check your email for confirmation.", nil
		}
		return "", err
	}
	if user.Confirmed {
		return "Your email is already confirmed", nil
	}
	s.dispatchConfirmation(user.Email, user.Username)
	return "Check your email for confirmation.", nil
}

// UpdateAvatar stores the uploaded image and persists its public URL
// on the user record.
func (s *UserService) UpdateAvatar(ctx context.Context, user types.User, r io.Reader, size int64, contentType string) (types.User, error) {
	key := fmt.Sprintf("avatars/%d/%s", user.ID, uuid.NewString())
	url, err := s.avatars.SaveAvatar(ctx, key, r, size, contentType)
	if err != nil {
		return types.User{}, err
	}
	return s.repo.UpdateAvatar(ctx, user.ID, url)
}

func (s *UserService) issuePair(email string) (TokenPair, error) {
	access, err := s.tokens.CreateAccessToken(email)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.tokens.CreateRefreshToken(email)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh, TokenType: "bearer"}, nil
}

// dispatchConfirmation queues the confirmation email without blocking
// the request. Failures are logged, never surfaced to the caller.
func (s *UserService) dispatchConfirmation(email, username string) {
	if s.mail == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		defer cancel()
		if err := s.mail.SendConfirmation(ctx, email, username); err != nil {
			log.Printf("failed to queue confirmation email for %s: %v", email, err)
		}
	}()
}

func gravatarURL(email string) string {
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(email))))
	return fmt.Sprintf("https://www.gravatar.com/avatar/%s?d=identicon", hex.EncodeToString(sum[:]))
}
