package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/contactbook/apiserver/types"
	"github.com/lib/pq"
)

const pqUniqueViolation = "23505"

// UserRepository handles persistence for users.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetByID(ctx context.Context, id int) (types.User, error) {
	const query = `
		SELECT id, username, email, password_hash, confirmed, refresh_token, avatar, created_at
		FROM users
		WHERE id = $1`
	return r.scanUser(r.db.QueryRowContext(ctx, query, id))
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	const query = `
		SELECT id, username, email, password_hash, confirmed, refresh_token, avatar, created_at
		FROM users
		WHERE email = $1`
	return r.scanUser(r.db.QueryRowContext(ctx, query, email))
}

func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	user.CreatedAt = time.Now()

	const query = `
		INSERT INTO users (username, email, password_hash, confirmed, avatar, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`
	err := r.db.QueryRowContext(
		ctx,
		query,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.Confirmed,
		user.Avatar,
		user.CreatedAt,
	).Scan(&user.ID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return types.User{}, ErrDuplicate
		}
		return types.User{}, err
	}
	return user, nil
}

// UpdateRefreshToken stores token as the user's single active refresh
// token, unconditionally replacing any prior value. A nil token
// invalidates the session.
func (r *UserRepository) UpdateRefreshToken(ctx context.Context, userID int, token *string) error {
	const query = `UPDATE users SET refresh_token = $1 WHERE id = $2`
	result, err := r.db.ExecContext(ctx, query, token, userID)
	if err != nil {
		return err
	}
	return checkAffected(result)
}

// SwapRefreshToken replaces the stored refresh token only if it still
// equals current. ErrNotFound means another rotation won the race (or
// the user vanished); the caller must treat the presented token as
// spent.
func (r *UserRepository) SwapRefreshToken(ctx context.Context, userID int, current, next string) error {
	const query = `
		UPDATE users
		SET refresh_token = $1
		WHERE id = $2 AND refresh_token IS NOT DISTINCT FROM $3`
	result, err := r.db.ExecContext(ctx, query, next, userID, current)
	if err != nil {
		return err
	}
	return checkAffected(result)
}

// SetConfirmed marks the user's email as confirmed.
func (r *UserRepository) SetConfirmed(ctx context.Context, userID int) error {
	const query = `UPDATE users SET confirmed = TRUE WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, userID)
	if err != nil {
		return err
	}
	return checkAffected(result)
}

// UpdateAvatar stores the avatar URL and returns the updated user.
func (r *UserRepository) UpdateAvatar(ctx context.Context, userID int, url string) (types.User, error) {
	const query = `UPDATE users SET avatar = $1 WHERE id = $2`
	result, err := r.db.ExecContext(ctx, query, url, userID)
	if err != nil {
		return types.User{}, err
	}
	if err := checkAffected(result); err != nil {
		return types.User{}, err
	}
	return r.GetByID(ctx, userID)
}

func (r *UserRepository) scanUser(row *sql.Row) (types.User, error) {
	var user types.User
	var refreshToken, avatar sql.NullString
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.Confirmed,
		&refreshToken,
		&avatar,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	if refreshToken.Valid {
		user.RefreshToken = &refreshToken.String
	}
	if avatar.Valid {
		user.Avatar = &avatar.String
	}
	return user, nil
}

func checkAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
