package audit

import "time"

// Entry mirrors the admin_audit_logs table: one row per admin action.
type Entry struct {
	ID           string
	AdminID      string
	ActionType   string
	TargetUserID *string
	Metadata     map[string]any
	CreatedAt    time.Time
}

// Filters narrows a log listing. Zero values are ignored.
type Filters struct {
	Page         int
	Limit        int
	ActionType   string
	AdminID      string
	TargetUserID string
	Start        *time.Time
	End          *time.Time
}

// Page is one page of audit entries plus the unfiltered total.
type Page struct {
	Entries    []Entry
	Total      int
	PageNumber int
	Limit      int
}

// ActionCount is one line of the audit summary.
type ActionCount struct {
	ActionType string
	Count      int64
}
