package types

import "time"

// User represents an account in the system.
type User struct {
	// ID is the unique identifier of the user.
	ID int `json:"id" db:"id"`

	// Username is the display name chosen at signup.
	Username string `json:"username" db:"username"`

	// Email is the user's unique email address; it is also the JWT subject.
	Email string `json:"email" db:"email"`

	// PasswordHash stores the bcrypt hash of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// Confirmed reports whether the user has redeemed an email
	// confirmation token. Unconfirmed users cannot log in.
	Confirmed bool `json:"confirmed" db:"confirmed"`

	// RefreshToken is the single active refresh token issued to the
	// user, or nil if none is outstanding. It is overwritten on every
	// login and refresh and never exposed in API responses.
	RefreshToken *string `json:"-" db:"refresh_token"`

	// Avatar is the URL of the user's avatar image, if any.
	Avatar *string `json:"avatar" db:"avatar"`

	// CreatedAt is the timestamp when the account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
