package admin

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrInvalidStatus signals a status outside the allowed vocabulary.
	ErrInvalidStatus = errors.New("admin: invalid status")
)

// AuditWriter records admin actions. Optional; a nil writer disables
// audit logging.
type AuditWriter interface {
	Record(ctx context.Context, adminID, actionType string, targetID *string, metadata map[string]any) error
}

// Service covers staff operations over platform users: search, identity
// edits, account status, and forced password resets.
type Service struct {
	repo        Repository
	audit       AuditWriter
	idGenerator func() string
	now         func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{
		repo:        repo,
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

func (s *Service) WithAuditWriter(w AuditWriter) *Service {
	s.audit = w
	return s
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) GetUser(ctx context.Context, userID string) (User, error) {
	return s.repo.GetByID(ctx, userID)
}

// SearchUsers returns one page of users matching the filters. The page
// and its total run as parallel queries.
func (s *Service) SearchUsers(ctx context.Context, params SearchParams) (SearchResult, error) {
	if params.Page <= 0 {
		params.Page = 1
	}
	if params.Limit <= 0 || params.Limit > 100 {
		params.Limit = 10
	}

	var (
		users []User
		total int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		users, err = s.repo.Search(gctx, params)
		return err
	})
	g.Go(func() error {
		var err error
		total, err = s.repo.Count(gctx, params)
		return err
	})
	if err := g.Wait(); err != nil {
		return SearchResult{}, err
	}

	totalPages := total / params.Limit
	if total%params.Limit > 0 {
		totalPages++
	}

	return SearchResult{
		Users:      users,
		Total:      total,
		Page:       params.Page,
		Limit:      params.Limit,
		TotalPages: totalPages,
	}, nil
}

func (s *Service) ChangeEmail(ctx context.Context, adminID, userID, email string) error {
	if email == "" {
		return fmt.Errorf("admin: email is required")
	}
	if err := s.repo.UpdateEmail(ctx, userID, email); err != nil {
		return err
	}
	s.writeAudit(ctx, adminID, "CHANGE_EMAIL", userID, map[string]any{"email": email})
	return nil
}

func (s *Service) ChangePhone(ctx context.Context, adminID, userID, phone string) error {
	if phone == "" {
		return fmt.Errorf("admin: phone is required")
	}
	if err := s.repo.UpdatePhone(ctx, userID, phone); err != nil {
		return err
	}
	s.writeAudit(ctx, adminID, "CHANGE_PHONE", userID, map[string]any{"phone": phone})
	return nil
}

func (s *Service) ChangeStatus(ctx context.Context, adminID, userID string, status UserStatus) error {
	switch status {
	case StatusActive, StatusSuspended, StatusBanned:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	if err := s.repo.UpdateStatus(ctx, userID, status); err != nil {
		return err
	}
	s.writeAudit(ctx, adminID, "CHANGE_STATUS", userID, map[string]any{"status": string(status)})
	return nil
}

// ForcePasswordReset issues a one-hour reset token for the user. Only
// the bcrypt hash is stored; the raw token is returned once for
// delivery and never persisted.
func (s *Service) ForcePasswordReset(ctx context.Context, adminID, userID string) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("admin: generate reset token: %w", err)
	}
	rawToken := hex.EncodeToString(raw)

	tokenHash, err := bcrypt.GenerateFromPassword([]byte(rawToken), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("admin: hash reset token: %w", err)
	}

	expiresAt := s.now().Add(time.Hour)
	if err := s.repo.InsertPasswordResetToken(ctx, s.idGenerator(), userID, string(tokenHash), expiresAt); err != nil {
		return "", err
	}

	s.writeAudit(ctx, adminID, "RESET_PASSWORD", userID, nil)
	return rawToken, nil
}

func (s *Service) writeAudit(ctx context.Context, adminID, actionType, targetUserID string, metadata map[string]any) {
	if s.audit == nil || adminID == "" {
		return
	}
	_ = s.audit.Record(ctx, adminID, actionType, &targetUserID, metadata)
}
