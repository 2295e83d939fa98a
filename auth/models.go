package auth

import "time"

type Role string

const (
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "superadmin"
)

// Admin is the domain representation of a staff account. It mirrors the
// admins table and carries no JSON annotations so it can be reused by
// different presentation layers.
type Admin struct {
	ID           string
	Email        string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
}

// CreateAdminRequest contains admin provisioning data supplied by callers.
type CreateAdminRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     Role   `json:"role"`
}

// LoginRequest contains admin login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
