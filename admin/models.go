package admin

import "time"

// UserStatus is the platform account state an admin can set.
type UserStatus string

const (
	StatusActive    UserStatus = "ACTIVE"
	StatusSuspended UserStatus = "SUSPENDED"
	StatusBanned    UserStatus = "BANNED"
)

// User is the staff-facing view of a platform user, including the
// joined business name when one exists.
type User struct {
	ID           string
	Name         string
	Email        string
	Phone        *string
	UserType     string
	Status       UserStatus
	LastLoginAt  *time.Time
	BusinessName *string
	BusinessID   *string
	CreatedAt    time.Time
}

// SearchParams filters the user listing. Query matches name, email,
// phone, and business name case-insensitively.
type SearchParams struct {
	Query    string
	UserType string
	Page     int
	Limit    int
}

// SearchResult is one page of users plus pagination totals.
type SearchResult struct {
	Users      []User
	Total      int
	Page       int
	Limit      int
	TotalPages int
}
