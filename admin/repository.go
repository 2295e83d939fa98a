package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrUserNotFound = errors.New("admin: user not found")
)

type Repository interface {
	GetByID(ctx context.Context, id string) (User, error)
	Search(ctx context.Context, params SearchParams) ([]User, error)
	Count(ctx context.Context, params SearchParams) (int, error)
	UpdateEmail(ctx context.Context, id, email string) error
	UpdatePhone(ctx context.Context, id, phone string) error
	UpdateStatus(ctx context.Context, id string, status UserStatus) error
	InsertPasswordResetToken(ctx context.Context, id, userID, tokenHash string, expiresAt time.Time) error
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const userColumns = `u.id, u.name, u.email, u.phone, u.user_type, u.status, u.last_login_at, b.name, b.id::text, u.created_at`

const userFrom = ` FROM users u LEFT JOIN businesses b ON b.user_id = u.id`

func (r *PGRepository) GetByID(ctx context.Context, id string) (User, error) {
	const query = `SELECT ` + userColumns + userFrom + ` WHERE u.id = $1`

	user, err := scanUser(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("admin: get user %s: %w", id, err)
	}
	return user, nil
}

func (r *PGRepository) Search(ctx context.Context, params SearchParams) ([]User, error) {
	whereClause, args := searchWhere(params)

	limit := params.Limit
	offset := (params.Page - 1) * params.Limit

	query := fmt.Sprintf(`SELECT %s%s%s ORDER BY u.created_at DESC LIMIT %d OFFSET %d`,
		userColumns, userFrom, whereClause, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("admin: query users: %w", err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("admin: scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("admin: iterate users: %w", err)
	}
	return users, nil
}

func (r *PGRepository) Count(ctx context.Context, params SearchParams) (int, error) {
	whereClause, args := searchWhere(params)

	query := fmt.Sprintf(`SELECT COUNT(*)%s%s`, userFrom, whereClause)

	var total int
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("admin: count users: %w", err)
	}
	return total, nil
}

func searchWhere(params SearchParams) (string, []any) {
	where := []string{"1=1"}
	args := []any{}

	if params.Query != "" {
		pattern := "%" + params.Query + "%"
		idx := len(args) + 1
		where = append(where, fmt.Sprintf(
			"(u.name ILIKE $%d OR u.email ILIKE $%d OR u.phone LIKE $%d OR b.name ILIKE $%d)",
			idx, idx, idx, idx))
		args = append(args, pattern)
	}
	if params.UserType != "" {
		where = append(where, fmt.Sprintf("u.user_type=$%d", len(args)+1))
		args = append(args, params.UserType)
	}

	return " WHERE " + strings.Join(where, " AND "), args
}

func (r *PGRepository) UpdateEmail(ctx context.Context, id, email string) error {
	return r.updateField(ctx, id, "email", email)
}

func (r *PGRepository) UpdatePhone(ctx context.Context, id, phone string) error {
	return r.updateField(ctx, id, "phone", phone)
}

func (r *PGRepository) UpdateStatus(ctx context.Context, id string, status UserStatus) error {
	return r.updateField(ctx, id, "status", string(status))
}

func (r *PGRepository) updateField(ctx context.Context, id, column, value string) error {
	query := fmt.Sprintf(`UPDATE users SET %s = $2, updated_at = get_tx_timestamp() WHERE id = $1`, column)

	tag, err := r.pool.Exec(ctx, query, id, value)
	if err != nil {
		return fmt.Errorf("admin: update %s for %s: %w", column, id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *PGRepository) InsertPasswordResetToken(ctx context.Context, id, userID, tokenHash string, expiresAt time.Time) error {
	const query = `
		INSERT INTO password_reset_tokens (id, user_id, token_hash, expires_at)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4)
	`

	if _, err := r.pool.Exec(ctx, query, id, userID, tokenHash, expiresAt); err != nil {
		return fmt.Errorf("admin: insert reset token: %w", err)
	}
	return nil
}

func scanUser(row pgx.Row) (User, error) {
	var user User
	return user, row.Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.Phone,
		&user.UserType,
		&user.Status,
		&user.LastLoginAt,
		&user.BusinessName,
		&user.BusinessID,
		&user.CreatedAt,
	)
}
