// Package quota meters bot usage per tenant and calendar month.
package quota

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"chatinbox/internal/domain"
)

// PeriodLayout formats the month a usage counter belongs to.
const PeriodLayout = "2006-01"

// UsageStore persists usage counters.
type UsageStore interface {
	Usage(ctx context.Context, tenantID string, qt domain.QuotaType, period string) (int64, error)
	AddUsage(ctx context.Context, tenantID string, qt domain.QuotaType, period string, delta int64) (int64, error)
}

// LedgerConfig configures a Ledger.
type LedgerConfig struct {
	Store       UsageStore
	Tenants     domain.TenantDirectory
	DefaultPlan domain.Plan
	Logger      *slog.Logger
	Now         func() time.Time
}

// Ledger answers quota checks from monthly usage counters.
type Ledger struct {
	store       UsageStore
	tenants     domain.TenantDirectory
	defaultPlan domain.Plan
	logger      *slog.Logger
	now         func() time.Time
}

func NewLedger(cfg LedgerConfig) *Ledger {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Ledger{
		store:       cfg.Store,
		tenants:     cfg.Tenants,
		defaultPlan: cfg.DefaultPlan,
		logger:      cfg.Logger,
		now:         cfg.Now,
	}
}

// Period returns the usage period containing t.
func Period(t time.Time) string {
	return t.UTC().Format(PeriodLayout)
}

// NextReset returns the first instant of the month after t, in UTC.
func NextReset(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}

func (l *Ledger) limit(tenantID string, qt domain.QuotaType) int64 {
	plan := l.defaultPlan
	if t, ok := l.tenants.Tenant(tenantID); ok && t.Plan != nil {
		plan = *t.Plan
	}
	switch qt {
	case domain.QuotaBotCalls:
		return plan.BotCalls
	case domain.QuotaBotMessages:
		return plan.BotMessages
	}
	return 0
}

// Check reports whether one more unit of qt is allowed this month.
// A zero limit is unlimited.
func (l *Ledger) Check(ctx context.Context, tenantID string, qt domain.QuotaType) (domain.QuotaGate, error) {
	now := l.now()
	used, err := l.store.Usage(ctx, tenantID, qt, Period(now))
	if err != nil {
		return domain.QuotaGate{}, fmt.Errorf("check %s quota: %w", qt, err)
	}

	gate := domain.QuotaGate{
		Allowed:   true,
		QuotaType: qt,
		Usage:     used,
		Limit:     l.limit(tenantID, qt),
		Remaining: -1,
		ResetsAt:  NextReset(now),
	}
	if gate.Limit > 0 {
		gate.Remaining = max(gate.Limit-used, 0)
		gate.Allowed = used < gate.Limit
	}
	if !gate.Allowed {
		l.logger.Info("quota exhausted", "tenant", tenantID, "quota", qt, "usage", used, "limit", gate.Limit)
	}
	return gate, nil
}

// Increment records one unit of qt for the current month.
func (l *Ledger) Increment(ctx context.Context, tenantID string, qt domain.QuotaType) error {
	total, err := l.store.AddUsage(ctx, tenantID, qt, Period(l.now()), 1)
	if err != nil {
		return fmt.Errorf("increment %s usage: %w", qt, err)
	}
	l.logger.Debug("usage recorded", "tenant", tenantID, "quota", qt, "total", total)
	return nil
}
