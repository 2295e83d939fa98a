package audit

import (
	"context"
	"fmt"
)

// Service records and queries the admin action trail.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Record writes one audit entry. It satisfies the AuditWriter interfaces
// declared by the action-layer services.
func (s *Service) Record(ctx context.Context, adminID, actionType string, targetID *string, metadata map[string]any) error {
	if adminID == "" {
		return fmt.Errorf("audit: missing admin id")
	}
	if actionType == "" {
		return fmt.Errorf("audit: missing action type")
	}
	return s.repo.Insert(ctx, Entry{
		AdminID:      adminID,
		ActionType:   actionType,
		TargetUserID: targetID,
		Metadata:     metadata,
	})
}

// GetLogs returns one filtered page of the audit trail.
func (s *Service) GetLogs(ctx context.Context, filters Filters) (Page, error) {
	entries, total, err := s.repo.List(ctx, filters)
	if err != nil {
		return Page{}, err
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	limit := filters.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return Page{
		Entries:    entries,
		Total:      total,
		PageNumber: page,
		Limit:      limit,
	}, nil
}

// Summary returns per-action counts across the whole trail.
func (s *Service) Summary(ctx context.Context) ([]ActionCount, error) {
	return s.repo.CountByAction(ctx)
}
