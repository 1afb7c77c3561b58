package services

import "errors"

// Signup/login/refresh failure modes. Handlers map these to HTTP
// statuses; the login variants all surface as unauthorized so a caller
// cannot probe which check failed beyond the message text.
var (
	ErrEmailTaken          = errors.New("account already exists")
	ErrInvalidEmail        = errors.New("invalid email")
	ErrEmailNotConfirmed   = errors.New("email not confirmed")
	ErrInvalidPassword     = errors.New("invalid password")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrVerification        = errors.New("verification error")
)
