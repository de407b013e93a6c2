package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/smallbiznis/luc/internal/account/domain"
	"github.com/smallbiznis/luc/internal/catalog"
)

// mutation computes a change to acct. It returns the ledger entries to
// append and whether anything must be persisted.
type mutation func(acct *domain.Account) (entries []domain.UsageHistoryEntry, persist bool, err error)

// mutate runs fn under the lock of an existing account and commits its
// result. A missing account is ErrAccountNotFound. Events are the caller's
// to publish once mutate returns without error.
func (m *Manager) mutate(ctx context.Context, op, userID string, fn mutation) (*domain.Account, error) {
	return m.apply(ctx, op, userID, m.load, fn)
}

// mutateOrCreate is mutate for debits: the first quota charge is what
// creates an account, on the default plan.
func (m *Manager) mutateOrCreate(ctx context.Context, op, userID string, fn mutation) (*domain.Account, error) {
	return m.apply(ctx, op, userID, func(ctx context.Context, userID string) (*domain.Account, error) {
		return m.getOrCreate(ctx, userID, "")
	}, fn)
}

func (m *Manager) load(ctx context.Context, userID string) (*domain.Account, error) {
	acct, err := m.store.Get(ctx, userID)
	if errors.Is(err, domain.ErrAccountNotFound) {
		return nil, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, userID)
	}
	if err != nil {
		return nil, m.storageFailure(ctx, "get", userID, err)
	}
	return acct, nil
}

func (m *Manager) apply(ctx context.Context, op, userID string, load func(context.Context, string) (*domain.Account, error), fn mutation) (*domain.Account, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return nil, err
	}
	unlock, err := m.lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	acct, err := load(ctx, userID)
	if err != nil {
		return nil, err
	}
	entries, persist, err := fn(acct)
	if err != nil {
		return nil, err
	}
	if !persist {
		return acct, nil
	}
	if err := m.store.Commit(ctx, acct, entries...); err != nil {
		m.snapshots.Invalidate(userID)
		return nil, m.storageFailure(ctx, op, userID, err)
	}
	m.snapshots.Set(acct)
	m.log.Debug("account mutated",
		zap.String("op", op),
		zap.String("user_id", userID),
		zap.Int("entries", len(entries)),
	)
	return acct, nil
}

func (m *Manager) newEntry(userID string, key catalog.ServiceKey, typ domain.EntryType, amount, cost float64, description string) domain.UsageHistoryEntry {
	now := m.clock.Now()
	return domain.UsageHistoryEntry{
		ID:          ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		UserID:      userID,
		Service:     key,
		Amount:      amount,
		Type:        typ,
		Cost:        cost,
		Timestamp:   now,
		Description: description,
	}
}

func debitDescription(key catalog.ServiceKey, description string) string {
	if d := strings.TrimSpace(description); d != "" {
		return d
	}
	return fmt.Sprintf("%s usage", key)
}

func creditDescription(key catalog.ServiceKey, description string) string {
	if d := strings.TrimSpace(description); d != "" {
		return d
	}
	return fmt.Sprintf("%s credit/refund", key)
}

// Debit re-checks admission under the lock, then persists the new usage
// and its ledger entry together. A denied debit changes nothing.
func (m *Manager) Debit(ctx context.Context, req domain.UsageRequest) (result domain.DebitResult, err error) {
	ctx, end := m.startSpan(ctx, "Debit")
	defer func() { end(err) }()

	_, err = m.mutateOrCreate(ctx, "debit", req.UserID, func(acct *domain.Account) ([]domain.UsageHistoryEntry, bool, error) {
		result = m.engine.Debit(acct, req.Service, req.Amount)
		m.logDecision(acct.UserID, result.Decision)
		if !result.Success {
			return nil, false, nil
		}
		entry := m.newEntry(acct.UserID, req.Service, domain.EntryTypeDebit, req.Amount, result.OverageCost, debitDescription(req.Service, req.Description))
		return []domain.UsageHistoryEntry{entry}, true, nil
	})
	if err != nil {
		m.metrics.RecordDebit(ctx, string(req.Service), "error", 0)
		return domain.DebitResult{}, err
	}
	m.metrics.RecordDebit(ctx, string(req.Service), string(result.Decision.Zone), result.OverageCost)
	m.publish(ctx, result.Events)
	return result, nil
}

// DebitBatch applies every item or none of them.
func (m *Manager) DebitBatch(ctx context.Context, userID string, items []domain.BatchItem, description string) (result domain.BatchDebitResult, err error) {
	ctx, end := m.startSpan(ctx, "DebitBatch")
	defer func() { end(err) }()

	if len(items) == 0 {
		return domain.BatchDebitResult{}, domain.ErrEmptyBatch
	}
	_, err = m.mutateOrCreate(ctx, "debit_batch", userID, func(acct *domain.Account) ([]domain.UsageHistoryEntry, bool, error) {
		result = m.engine.DebitBatch(acct, items)
		if !result.Success {
			if n := len(result.Results); n > 0 {
				m.logDecision(acct.UserID, result.Results[n-1].Decision)
			}
			return nil, false, nil
		}
		entries := make([]domain.UsageHistoryEntry, 0, len(result.Results))
		for _, r := range result.Results {
			entries = append(entries, m.newEntry(acct.UserID, r.Service, domain.EntryTypeDebit, r.Amount, r.OverageCost, debitDescription(r.Service, description)))
		}
		return entries, true, nil
	})
	if err != nil {
		return domain.BatchDebitResult{}, err
	}

	var events []domain.Event
	for _, r := range result.Results {
		outcome := string(r.Decision.Zone)
		if !result.Success && r.Success {
			outcome = "rolled_back"
		}
		m.metrics.RecordDebit(ctx, string(r.Service), outcome, r.OverageCost)
		if result.Success || !r.Success {
			events = append(events, r.Events...)
		}
	}
	m.publish(ctx, events)
	return result, nil
}

// Credit returns usage to a quota. Billed overage is never refunded.
func (m *Manager) Credit(ctx context.Context, req domain.UsageRequest) (result domain.CreditResult, err error) {
	ctx, end := m.startSpan(ctx, "Credit")
	defer func() { end(err) }()

	_, err = m.mutate(ctx, "credit", req.UserID, func(acct *domain.Account) ([]domain.UsageHistoryEntry, bool, error) {
		result = m.engine.Credit(acct, req.Service, req.Amount)
		if !result.Success {
			if !req.Service.Valid() {
				m.log.Warn("unknown service credited",
					zap.String("user_id", acct.UserID),
					zap.String("service", string(req.Service)),
				)
			}
			return nil, false, nil
		}
		entry := m.newEntry(acct.UserID, req.Service, domain.EntryTypeCredit, req.Amount, 0, creditDescription(req.Service, req.Description))
		return []domain.UsageHistoryEntry{entry}, true, nil
	})
	if err != nil {
		m.metrics.RecordCredit(ctx, string(req.Service), "error")
		return domain.CreditResult{}, err
	}
	outcome := "applied"
	if !result.Success {
		outcome = "rejected"
	}
	m.metrics.RecordCredit(ctx, string(req.Service), outcome)
	return result, nil
}

// RecordDebit appends a debit entry without touching quotas. Callers that
// use it own the consistency between the ledger and the account.
func (m *Manager) RecordDebit(ctx context.Context, req domain.LedgerRequest) (*domain.UsageHistoryEntry, error) {
	return m.record(ctx, domain.EntryTypeDebit, req)
}

// RecordCredit appends a credit entry without touching quotas.
func (m *Manager) RecordCredit(ctx context.Context, req domain.LedgerRequest) (*domain.UsageHistoryEntry, error) {
	req.Cost = 0
	return m.record(ctx, domain.EntryTypeCredit, req)
}

func (m *Manager) record(ctx context.Context, typ domain.EntryType, req domain.LedgerRequest) (*domain.UsageHistoryEntry, error) {
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return nil, err
	}
	if !req.Service.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownService, req.Service)
	}
	if !nonNegative(req.Amount) || !nonNegative(req.Cost) {
		return nil, domain.ErrInvalidAmount
	}

	description := debitDescription(req.Service, req.Description)
	if typ == domain.EntryTypeCredit {
		description = creditDescription(req.Service, req.Description)
	}
	entry := m.newEntry(userID, req.Service, typ, req.Amount, req.Cost, description)
	if err := m.store.AppendEntry(ctx, entry); err != nil {
		return nil, m.storageFailure(ctx, "append_entry", userID, err)
	}
	return &entry, nil
}

func nonNegative(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}

// ChangePlan moves the account to planID, keeping its usage.
func (m *Manager) ChangePlan(ctx context.Context, userID, planID string) (acct *domain.Account, err error) {
	ctx, end := m.startSpan(ctx, "ChangePlan")
	defer func() { end(err) }()

	if _, ok := m.engine.Catalog().Plan(strings.TrimSpace(planID)); !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownPlan, planID)
	}
	var from string
	acct, err = m.mutate(ctx, "change_plan", userID, func(acct *domain.Account) ([]domain.UsageHistoryEntry, bool, error) {
		from = acct.PlanID
		if err := m.engine.UpdatePlan(acct, planID); err != nil {
			return nil, false, err
		}
		return nil, true, nil
	})
	if err != nil {
		return nil, err
	}
	m.log.Info("plan changed",
		zap.String("user_id", acct.UserID),
		zap.String("from", from),
		zap.String("to", acct.PlanID),
	)
	m.publish(ctx, []domain.Event{{
		Type:      domain.EventPlanChanged,
		UserID:    acct.UserID,
		Message:   fmt.Sprintf("Plan changed from %s to %s", from, acct.PlanID),
		Data:      map[string]any{"from": from, "to": acct.PlanID},
		Timestamp: m.clock.Now(),
	}})
	return acct, nil
}

// ResetBillingCycle starts a new cycle now, whether or not the current
// one has ended.
func (m *Manager) ResetBillingCycle(ctx context.Context, userID string) (acct *domain.Account, err error) {
	ctx, end := m.startSpan(ctx, "ResetBillingCycle")
	defer func() { end(err) }()

	acct, err = m.mutate(ctx, "reset_cycle", userID, func(acct *domain.Account) ([]domain.UsageHistoryEntry, bool, error) {
		m.engine.ResetBillingCycle(acct)
		return nil, true, nil
	})
	if err != nil {
		return nil, err
	}
	m.publish(ctx, []domain.Event{m.cycleResetEvent(acct, "manual")})
	return acct, nil
}

func (m *Manager) cycleResetEvent(acct *domain.Account, trigger string) domain.Event {
	return domain.Event{
		Type:      domain.EventCycleReset,
		UserID:    acct.UserID,
		Message:   "Billing cycle reset",
		Data:      map[string]any{"trigger": trigger, "billingCycleEnd": acct.BillingCycleEnd},
		Timestamp: m.clock.Now(),
	}
}

// ResetDueCycles resets up to batch accounts whose cycle ended by now. An
// account is re-checked under its lock, so concurrent sweeps reset it once.
// Failures on one account do not stop the sweep.
func (m *Manager) ResetDueCycles(ctx context.Context, now time.Time, batch int) (int, error) {
	ids, err := m.store.ListDue(ctx, now, batch)
	if err != nil {
		return 0, m.storageFailure(ctx, "list_due", "", err)
	}

	var (
		reset int
		errs  []error
	)
	for _, userID := range ids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		due := false
		acct, err := m.mutate(ctx, "reset_cycle", userID, func(acct *domain.Account) ([]domain.UsageHistoryEntry, bool, error) {
			if !acct.CycleDue(now) {
				return nil, false, nil
			}
			due = true
			m.engine.ResetBillingCycle(acct)
			return nil, true, nil
		})
		if errors.Is(err, domain.ErrAccountNotFound) {
			// deleted since ListDue
			continue
		}
		if err != nil {
			m.log.Warn("cycle reset failed", zap.String("user_id", userID), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", userID, err))
			continue
		}
		if !due {
			continue
		}
		reset++
		m.publish(ctx, []domain.Event{m.cycleResetEvent(acct, "scheduled")})
	}
	return reset, errors.Join(errs...)
}
