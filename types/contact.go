package types

import (
	"fmt"
	"time"
)

// Contact represents a single address-book entry. Contacts always
// belong to exactly one user and are never visible outside that user.
type Contact struct {
	// ID is the unique identifier of the contact.
	ID int `json:"id" db:"id"`

	// Firstname is the contact's given name.
	Firstname string `json:"firstname" db:"firstname"`

	// Lastname is the contact's family name.
	Lastname string `json:"lastname" db:"lastname"`

	// Email is the contact's email address.
	Email string `json:"email" db:"email"`

	// Phone is the contact's phone number in free form.
	Phone string `json:"phone" db:"phone"`

	// Birthday is the contact's date of birth, if known.
	Birthday *Date `json:"birthday" db:"birthday"`

	// UserID is the identifier of the owning user. It is never part of
	// API payloads; ownership is implied by the bearer token.
	UserID int `json:"-" db:"user_id"`

	// CreatedAt is the timestamp at which the contact was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

const dateLayout = "2006-01-02"

// Date is a calendar date without a time component. It marshals to and
// from the "YYYY-MM-DD" form used by the API.
type Date struct {
	time.Time
}

// NewDate builds a Date from year, month, and day in UTC.
func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.Format(dateLayout) + `"`), nil
}

func (d *Date) UnmarshalJSON(data []byte) error {
	raw := string(data)
	if len(raw) < 2 || raw[0] != '"' || raw[len(raw)-1] != '"' {
		return fmt.Errorf("invalid date %s", raw)
	}
	parsed, err := time.Parse(dateLayout, raw[1:len(raw)-1])
	if err != nil {
		return fmt.Errorf("invalid date %s: expected YYYY-MM-DD", raw)
	}
	d.Time = parsed
	return nil
}
