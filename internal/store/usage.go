package store

import (
	"context"
	"database/sql"
	"fmt"

	"chatinbox/internal/domain"
)

// Usage returns the recorded usage for a tenant, quota type and period.
func (s *SQLiteStore) Usage(ctx context.Context, tenantID string, qt domain.QuotaType, period string) (int64, error) {
	var used int64
	err := s.db.QueryRowContext(ctx,
		`SELECT used FROM quota_usage WHERE tenant_id = ? AND quota_type = ? AND period = ?`,
		tenantID, string(qt), period,
	).Scan(&used)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read usage: %w", err)
	}
	return used, nil
}

// AddUsage adds delta to a usage counter and returns the new total.
func (s *SQLiteStore) AddUsage(ctx context.Context, tenantID string, qt domain.QuotaType, period string, delta int64) (int64, error) {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO quota_usage (tenant_id, quota_type, period, used, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(tenant_id, quota_type, period) DO UPDATE SET used = used + excluded.used, updated_at = excluded.updated_at`,
		tenantID, string(qt), period, delta, s.now().UTC(),
	); err != nil {
		return 0, fmt.Errorf("add usage: %w", err)
	}
	return s.Usage(ctx, tenantID, qt, period)
}
