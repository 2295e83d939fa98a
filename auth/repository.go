package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrAdminNotFound signals that the admin account does not exist.
	ErrAdminNotFound = errors.New("auth: admin not found")
	// ErrDuplicateEmail signals that the email is already registered.
	ErrDuplicateEmail = errors.New("auth: email already exists")
)

// Repository handles data access for admin authentication.
type Repository interface {
	CreateAdmin(ctx context.Context, params CreateAdminParams) (Admin, error)
	GetAdminByEmail(ctx context.Context, email string) (Admin, error)
	GetAdminByID(ctx context.Context, adminID string) (Admin, error)
}

// CreateAdminParams contains write parameters for provisioning admins.
type CreateAdminParams struct {
	Email        string
	PasswordHash string
	Role         Role
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed auth repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// CreateAdmin inserts a new admin with hashed password.
func (r *PGRepository) CreateAdmin(ctx context.Context, params CreateAdminParams) (Admin, error) {
	const insertSQL = `
		INSERT INTO admins (email, password_hash, role)
		VALUES ($1, $2, $3)
		RETURNING id, email, password_hash, role, created_at
	`

	admin, err := scanAdmin(r.pool.QueryRow(ctx, insertSQL, params.Email, params.PasswordHash, params.Role))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Admin{}, ErrDuplicateEmail
		}
		return Admin{}, fmt.Errorf("auth: create admin: %w", err)
	}

	return admin, nil
}

// GetAdminByEmail retrieves an admin by email address.
func (r *PGRepository) GetAdminByEmail(ctx context.Context, email string) (Admin, error) {
	const selectSQL = `
		SELECT id, email, password_hash, role, created_at
		FROM admins
		WHERE email = $1
	`

	admin, err := scanAdmin(r.pool.QueryRow(ctx, selectSQL, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Admin{}, ErrAdminNotFound
		}
		return Admin{}, fmt.Errorf("auth: get admin by email: %w", err)
	}

	return admin, nil
}

// GetAdminByID retrieves an admin by ID.
func (r *PGRepository) GetAdminByID(ctx context.Context, adminID string) (Admin, error) {
	const selectSQL = `
		SELECT id, email, password_hash, role, created_at
		FROM admins
		WHERE id = $1
	`

	admin, err := scanAdmin(r.pool.QueryRow(ctx, selectSQL, adminID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Admin{}, ErrAdminNotFound
		}
		return Admin{}, fmt.Errorf("auth: get admin by id: %w", err)
	}

	return admin, nil
}

func scanAdmin(row pgx.Row) (Admin, error) {
	var admin Admin
	err := row.Scan(
		&admin.ID,
		&admin.Email,
		&admin.PasswordHash,
		&admin.Role,
		&admin.CreatedAt,
	)
	if err != nil {
		return Admin{}, err
	}
	return admin, nil
}
