package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/smallbiznis/luc/internal/account/domain"
)

// CreateFromPreset creates an account tracking only the preset's services.
// An existing account is never replaced.
func (m *Manager) CreateFromPreset(ctx context.Context, userID, presetID, planID string) (acct *domain.Account, err error) {
	ctx, end := m.startSpan(ctx, "CreateFromPreset")
	defer func() { end(err) }()

	userID, err = normalizeUserID(userID)
	if err != nil {
		return nil, err
	}
	fresh, err := m.engine.NewAccountFromPreset(userID, presetID, planID)
	if err != nil {
		return nil, err
	}
	stored, created, err := m.store.Create(ctx, fresh)
	if err != nil {
		return nil, m.storageFailure(ctx, "create", userID, err)
	}
	if !created {
		return nil, fmt.Errorf("%w: %s", domain.ErrAccountExists, userID)
	}
	m.snapshots.Invalidate(userID)
	m.log.Info("account created from preset",
		zap.String("user_id", userID),
		zap.String("preset_id", presetID),
		zap.String("plan_id", stored.PlanID),
		zap.Int("services", len(stored.Quotas)),
	)
	return stored, nil
}

// QuoteBatch quotes every item independently against a snapshot.
func (m *Manager) QuoteBatch(ctx context.Context, userID string, items []domain.BatchItem) ([]domain.Quote, error) {
	if len(items) == 0 {
		return nil, domain.ErrEmptyBatch
	}
	acct, err := m.snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	return m.engine.QuoteBatch(acct, items), nil
}

// Alerts reports the blocked services and whether any warning is raised.
func (m *Manager) Alerts(ctx context.Context, userID string) (domain.AccountAlerts, error) {
	acct, err := m.snapshot(ctx, userID)
	if err != nil {
		return domain.AccountAlerts{}, err
	}
	return domain.AccountAlerts{
		UserID:          acct.UserID,
		HasWarnings:     m.engine.HasWarnings(acct),
		BlockedServices: m.engine.BlockedServices(acct),
		Warnings:        m.engine.Summary(acct).Warnings,
	}, nil
}
