package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/contactbook/apiserver/types"
)

const contactColumns = "id, firstname, lastname, email, phone, birthday, user_id, created_at, updated_at"

// ContactRepository handles persistence for contacts. Every query and
// mutation is scoped by the owning user id; a contact is never visible
// or mutable by any other user.
type ContactRepository struct {
	db *sql.DB
}

func NewContactRepository(db *sql.DB) *ContactRepository {
	return &ContactRepository{db: db}
}

func (r *ContactRepository) ListByUser(ctx context.Context, userID int) ([]types.Contact, error) {
	const query = `
		SELECT ` + contactColumns + `
		FROM contacts
		WHERE user_id = $1
		ORDER BY id`
	return r.queryContacts(ctx, query, userID)
}

func (r *ContactRepository) GetByUser(ctx context.Context, userID, contactID int) (types.Contact, error) {
	const query = `
		SELECT ` + contactColumns + `
		FROM contacts
		WHERE id = $1 AND user_id = $2`
	row := r.db.QueryRowContext(ctx, query, contactID, userID)
	return scanContact(row.Scan)
}

func (r *ContactRepository) Create(ctx context.Context, contact types.Contact) (types.Contact, error) {
	now := time.Now()
	contact.CreatedAt = now
	contact.UpdatedAt = now

	const query = `
		INSERT INTO contacts (firstname, lastname, email, phone, birthday, user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`
	err := r.db.QueryRowContext(
		ctx,
		query,
		contact.Firstname,
		contact.Lastname,
		contact.Email,
		contact.Phone,
		birthdayValue(contact.Birthday),
		contact.UserID,
		contact.CreatedAt,
		contact.UpdatedAt,
	).Scan(&contact.ID)
	if err != nil {
		return types.Contact{}, err
	}
	return contact, nil
}

func (r *ContactRepository) UpdateByUser(ctx context.Context, contact types.Contact) (types.Contact, error) {
	contact.UpdatedAt = time.Now()

	const query = `
		UPDATE contacts
		SET firstname = $1,
			lastname = $2,
			email = $3,
			phone = $4,
			birthday = $5,
			updated_at = $6
		WHERE id = $7 AND user_id = $8`
	result, err := r.db.ExecContext(
		ctx,
		query,
		contact.Firstname,
		contact.Lastname,
		contact.Email,
		contact.Phone,
		birthdayValue(contact.Birthday),
		contact.UpdatedAt,
		contact.ID,
		contact.UserID,
	)
	if err != nil {
		return types.Contact{}, err
	}
	if err := checkAffected(result); err != nil {
		return types.Contact{}, err
	}
	return r.GetByUser(ctx, contact.UserID, contact.ID)
}

func (r *ContactRepository) DeleteByUser(ctx context.Context, userID, contactID int) error {
	const query = `DELETE FROM contacts WHERE id = $1 AND user_id = $2`
	result, err := r.db.ExecContext(ctx, query, contactID, userID)
	if err != nil {
		return err
	}
	return checkAffected(result)
}

func (r *ContactRepository) SearchByFirstname(ctx context.Context, userID int, firstname string) ([]types.Contact, error) {
	const query = `
		SELECT ` + contactColumns + `
		FROM contacts
		WHERE user_id = $1 AND firstname = $2
		ORDER BY id`
	return r.queryContacts(ctx, query, userID, firstname)
}

func (r *ContactRepository) SearchByLastname(ctx context.Context, userID int, lastname string) ([]types.Contact, error) {
	const query = `
		SELECT ` + contactColumns + `
		FROM contacts
		WHERE user_id = $1 AND lastname = $2
		ORDER BY id`
	return r.queryContacts(ctx, query, userID, lastname)
}

func (r *ContactRepository) SearchByEmail(ctx context.Context, userID int, email string) ([]types.Contact, error) {
	const query = `
		SELECT ` + contactColumns + `
		FROM contacts
		WHERE user_id = $1 AND email = $2
		ORDER BY id`
	return r.queryContacts(ctx, query, userID, email)
}

// ListWithBirthdays returns the user's contacts that have a birthday
// set. The upcoming-birthday window itself is applied by the service
// layer.
func (r *ContactRepository) ListWithBirthdays(ctx context.Context, userID int) ([]types.Contact, error) {
	const query = `
		SELECT ` + contactColumns + `
		FROM contacts
		WHERE user_id = $1 AND birthday IS NOT NULL
		ORDER BY id`
	return r.queryContacts(ctx, query, userID)
}

func (r *ContactRepository) queryContacts(ctx context.Context, query string, args ...any) ([]types.Contact, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	contacts := make([]types.Contact, 0)
	for rows.Next() {
		contact, err := scanContact(rows.Scan)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, contact)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return contacts, nil
}

func scanContact(scan func(...any) error) (types.Contact, error) {
	var contact types.Contact
	var birthday sql.NullTime
	err := scan(
		&contact.ID,
		&contact.Firstname,
		&contact.Lastname,
		&contact.Email,
		&contact.Phone,
		&birthday,
		&contact.UserID,
		&contact.CreatedAt,
		&contact.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Contact{}, ErrNotFound
		}
		return types.Contact{}, err
	}
	if birthday.Valid {
		contact.Birthday = &types.Date{Time: birthday.Time}
	}
	return contact, nil
}

func birthdayValue(birthday *types.Date) any {
	if birthday == nil {
		return nil
	}
	return birthday.Time
}
