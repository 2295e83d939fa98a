package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository interface {
	Insert(ctx context.Context, entry Entry) error
	List(ctx context.Context, filters Filters) ([]Entry, int, error)
	CountByAction(ctx context.Context) ([]ActionCount, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) Insert(ctx context.Context, entry Entry) error {
	const query = `
		INSERT INTO admin_audit_logs (admin_id, action_type, target_user_id, metadata)
		VALUES ($1::uuid, $2, $3::uuid, $4)
	`

	var meta any
	if len(entry.Metadata) > 0 {
		b, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("audit: encode metadata: %w", err)
		}
		meta = b
	}

	if _, err := r.pool.Exec(ctx, query, entry.AdminID, entry.ActionType, entry.TargetUserID, meta); err != nil {
		return fmt.Errorf("audit: insert entry: %w", err)
	}
	return nil
}

func (r *PGRepository) List(ctx context.Context, filters Filters) ([]Entry, int, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.Limit <= 0 || filters.Limit > 200 {
		filters.Limit = 50
	}

	base := `SELECT id, admin_id::text, action_type, target_user_id::text, metadata, created_at
	         FROM admin_audit_logs`
	where := []string{"1=1"}
	args := []any{}

	if filters.ActionType != "" {
		where = append(where, fmt.Sprintf("action_type=$%d", len(args)+1))
		args = append(args, filters.ActionType)
	}
	if filters.AdminID != "" {
		where = append(where, fmt.Sprintf("admin_id=$%d::uuid", len(args)+1))
		args = append(args, filters.AdminID)
	}
	if filters.TargetUserID != "" {
		where = append(where, fmt.Sprintf("target_user_id=$%d::uuid", len(args)+1))
		args = append(args, filters.TargetUserID)
	}
	if filters.Start != nil {
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)+1))
		args = append(args, *filters.Start)
	}
	if filters.End != nil {
		where = append(where, fmt.Sprintf("created_at <= $%d", len(args)+1))
		args = append(args, *filters.End)
	}

	whereClause := " WHERE " + strings.Join(where, " AND ")

	limit := filters.Limit
	offset := (filters.Page - 1) * filters.Limit

	query := fmt.Sprintf(`%s%s ORDER BY created_at DESC LIMIT %d OFFSET %d`, base, whereClause, limit, offset)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("audit: query list: %w", err)
	}
	defer rows.Close()

	list := []Entry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("audit: iterate list: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM admin_audit_logs%s", whereClause)
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("audit: count list: %w", err)
	}

	return list, total, nil
}

func (r *PGRepository) CountByAction(ctx context.Context) ([]ActionCount, error) {
	const query = `
		SELECT action_type, COUNT(*)
		FROM admin_audit_logs
		GROUP BY action_type
		ORDER BY COUNT(*) DESC
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("audit: query summary: %w", err)
	}
	defer rows.Close()

	counts := []ActionCount{}
	for rows.Next() {
		var c ActionCount
		if err := rows.Scan(&c.ActionType, &c.Count); err != nil {
			return nil, fmt.Errorf("audit: scan summary: %w", err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: iterate summary: %w", err)
	}
	return counts, nil
}

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		entry   Entry
		metaRaw []byte
	)
	err := row.Scan(
		&entry.ID,
		&entry.AdminID,
		&entry.ActionType,
		&entry.TargetUserID,
		&metaRaw,
		&entry.CreatedAt,
	)
	if err != nil {
		return Entry{}, fmt.Errorf("audit: scan entry: %w", err)
	}
	if len(metaRaw) > 0 {
		if err := json.Unmarshal(metaRaw, &entry.Metadata); err != nil {
			return Entry{}, fmt.Errorf("audit: decode metadata: %w", err)
		}
	}
	return entry, nil
}
