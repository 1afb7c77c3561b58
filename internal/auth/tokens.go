package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token scopes. Access and refresh tokens are structurally identical
// except for scope and lifetime; the scope check prevents a token
// issued for one purpose from being replayed for the other.
const (
	ScopeAccess  = "access_token"
	ScopeRefresh = "refresh_token"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
	defaultEmailTTL   = 7 * 24 * time.Hour
)

// ErrInvalidToken is returned when a token fails signature, expiry,
// scope, or subject validation. Callers surface it as unauthorized
// without distinguishing which check failed.
var ErrInvalidToken = errors.New("could not validate credentials")

// ErrInvalidEmailToken is returned for a bad email confirmation token.
// It is a distinct error because the confirmation route reports it as
// unprocessable rather than unauthorized.
var ErrInvalidEmailToken = errors.New("invalid token for email verification")

// Claims are the signed JWT claims. Email confirmation tokens carry no
// scope; access and refresh tokens carry theirs in Scope.
type Claims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope,omitempty"`
}

// TokenService issues and validates the three token kinds used by the
// service: access, refresh, and email confirmation. It holds only
// immutable configuration.
type TokenService struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	emailTTL   time.Duration
}

// NewTokenService constructs a TokenService signing with the given
// secret. Non-positive TTLs fall back to the defaults (15 minutes for
// access, 7 days for refresh and email tokens).
func NewTokenService(secret string, accessTTL, refreshTTL, emailTTL time.Duration) *TokenService {
	if accessTTL <= 0 {
		accessTTL = defaultAccessTTL
	}
	if refreshTTL <= 0 {
		refreshTTL = defaultRefreshTTL
	}
	if emailTTL <= 0 {
		emailTTL = defaultEmailTTL
	}
	return &TokenService{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		emailTTL:   emailTTL,
	}
}

// CreateAccessToken issues a short-lived token authorizing API calls
// on behalf of the given email.
func (s *TokenService) CreateAccessToken(email string) (string, error) {
	return s.sign(email, ScopeAccess, s.accessTTL)
}

// CreateRefreshToken issues a long-lived token exchangeable for a new
// token pair.
func (s *TokenService) CreateRefreshToken(email string) (string, error) {
	return s.sign(email, ScopeRefresh, s.refreshTTL)
}

// CreateEmailToken issues a confirmation token proving ownership of
// the given email. It carries no scope and is unrelated to sessions.
func (s *TokenService) CreateEmailToken(email string) (string, error) {
	return s.sign(email, "", s.emailTTL)
}

// ParseAccessToken validates an access token and returns its subject.
// This is the single authorization gate for protected routes.
func (s *TokenService) ParseAccessToken(token string) (string, error) {
	return s.parseScoped(token, ScopeAccess)
}

// DecodeRefreshToken validates a refresh token and returns its subject.
func (s *TokenService) DecodeRefreshToken(token string) (string, error) {
	return s.parseScoped(token, ScopeRefresh)
}

// ParseEmailToken validates a confirmation token and returns its
// subject. Scope is not checked; confirmation tokens carry none.
func (s *TokenService) ParseEmailToken(token string) (string, error) {
	claims, err := s.parse(token)
	if err != nil {
		return "", ErrInvalidEmailToken
	}
	email := strings.TrimSpace(claims.Subject)
	if email == "" {
		return "", ErrInvalidEmailToken
	}
	return email, nil
}

func (s *TokenService) sign(email, scope string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Scope: scope,
	}
	if scope == ScopeRefresh {
		// Timestamps are second-granular; without a unique ID two
		// rotations in the same second would mint the same token and
		// reuse detection could not tell them apart.
		claims.ID = uuid.NewString()
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *TokenService) parseScoped(token, scope string) (string, error) {
	claims, err := s.parse(token)
	if err != nil {
		return "", ErrInvalidToken
	}
	if claims.Scope != scope {
		return "", ErrInvalidToken
	}
	email := strings.TrimSpace(claims.Subject)
	if email == "" {
		return "", ErrInvalidToken
	}
	return email, nil
}

func (s *TokenService) parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
