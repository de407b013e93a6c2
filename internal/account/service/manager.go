package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/luc/internal/account/domain"
	"github.com/smallbiznis/luc/internal/cache"
	"github.com/smallbiznis/luc/internal/clock"
	"github.com/smallbiznis/luc/internal/config"
	"github.com/smallbiznis/luc/internal/gating"
	"github.com/smallbiznis/luc/internal/lock"
	obsmetrics "github.com/smallbiznis/luc/internal/observability/metrics"
	"github.com/smallbiznis/luc/internal/observability/tracing"
)

const (
	defaultHistoryLimit = 100
	statsWindow         = 1000
	exportHistoryLimit  = 10000
)

type Params struct {
	fx.In

	Config    config.Config
	Log       *zap.Logger
	Store     domain.Store
	Engine    *gating.Engine
	Locker    lock.Locker
	Clock     clock.Clock
	Snapshots cache.AccountSnapshotCache `optional:"true"`
	Metrics   *obsmetrics.Metrics        `optional:"true"`
	Handlers  []domain.EventHandler      `group:"luc.event_handlers"`
}

// Manager combines engine decisions with persistence. Every mutation of an
// account runs under that account's lock: load, compute, persist.
type Manager struct {
	log       *zap.Logger
	store     domain.Store
	engine    *gating.Engine
	locker    lock.Locker
	clock     clock.Clock
	snapshots cache.AccountSnapshotCache
	metrics   *obsmetrics.Metrics
	handlers  []domain.EventHandler
	tracer    trace.Tracer
	ledgerCap int
}

func NewManager(p Params) *Manager {
	snapshots := p.Snapshots
	if snapshots == nil {
		snapshots = cache.NewAccountSnapshotCache(config.Config{})
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}
	ledgerCap := p.Config.LedgerMaxEntries
	if ledgerCap <= 0 {
		ledgerCap = domain.DefaultLedgerCap
	}
	return &Manager{
		log:       p.Log.Named("account.service"),
		store:     p.Store,
		engine:    p.Engine,
		locker:    p.Locker,
		clock:     clk,
		snapshots: snapshots,
		metrics:   p.Metrics,
		handlers:  p.Handlers,
		tracer:    otel.Tracer("luc/account"),
		ledgerCap: ledgerCap,
	}
}

// NewService exposes the manager through the domain interface.
func NewService(m *Manager) domain.Service { return m }

var _ domain.Service = (*Manager)(nil)

func normalizeUserID(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", domain.ErrInvalidUserID
	}
	return userID, nil
}

func (m *Manager) startSpan(ctx context.Context, name string) (context.Context, func(error)) {
	ctx, span := m.tracer.Start(ctx, "account."+name)
	span.SetAttributes(tracing.SafeAttributes(attribute.String("luc.operation", name))...)
	return ctx, func(err error) {
		if err != nil {
			if safe := tracing.SafeError(err); safe != nil {
				span.RecordError(safe)
			}
			span.SetStatus(codes.Error, name+" failed")
		}
		span.End()
	}
}

// GetOrCreate returns the stored account or creates one on planID, or on
// the default plan when planID is empty. Concurrent callers for the same
// user end up with the same account.
func (m *Manager) GetOrCreate(ctx context.Context, userID, planID string) (acct *domain.Account, err error) {
	ctx, end := m.startSpan(ctx, "GetOrCreate")
	defer func() { end(err) }()
	return m.getOrCreate(ctx, userID, planID)
}

func (m *Manager) getOrCreate(ctx context.Context, userID, planID string) (*domain.Account, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return nil, err
	}
	acct, err := m.store.Get(ctx, userID)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, domain.ErrAccountNotFound) {
		return nil, m.storageFailure(ctx, "get", userID, err)
	}

	fresh, err := m.engine.NewAccount(userID, planID)
	if err != nil {
		return nil, err
	}
	stored, created, err := m.store.Create(ctx, fresh)
	if err != nil {
		return nil, m.storageFailure(ctx, "create", userID, err)
	}
	if created {
		m.log.Info("account created",
			zap.String("user_id", userID),
			zap.String("plan_id", stored.PlanID),
		)
	}
	return stored, nil
}

func (m *Manager) Get(ctx context.Context, userID string) (*domain.Account, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return nil, err
	}
	acct, err := m.store.Get(ctx, userID)
	if err != nil && !errors.Is(err, domain.ErrAccountNotFound) {
		return nil, m.storageFailure(ctx, "get", userID, err)
	}
	return acct, err
}

func (m *Manager) List(ctx context.Context, filter domain.ListFilter) ([]domain.Account, error) {
	items, err := m.store.List(ctx, filter)
	if err != nil {
		return nil, m.storageFailure(ctx, "list", "", err)
	}
	return items, nil
}

// Delete removes the account and its ledger.
func (m *Manager) Delete(ctx context.Context, userID string) (err error) {
	ctx, end := m.startSpan(ctx, "Delete")
	defer func() { end(err) }()

	userID, err = normalizeUserID(userID)
	if err != nil {
		return err
	}
	unlock, err := m.lock(ctx, userID)
	if err != nil {
		return err
	}
	defer unlock()

	m.snapshots.Invalidate(userID)
	if err := m.store.Delete(ctx, userID); err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return err
		}
		return m.storageFailure(ctx, "delete", userID, err)
	}
	m.log.Info("account deleted", zap.String("user_id", userID))
	return nil
}

// snapshot serves display reads. It may be stale and must never feed a
// mutation.
func (m *Manager) snapshot(ctx context.Context, userID string) (*domain.Account, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return nil, err
	}
	if acct, ok := m.snapshots.Get(userID); ok {
		return acct, nil
	}
	acct, err := m.getOrCreate(ctx, userID, "")
	if err != nil {
		return nil, err
	}
	m.snapshots.Set(acct)
	return acct, nil
}

// CanExecute is a pre-flight check on a snapshot. Debit re-checks under
// the lock.
func (m *Manager) CanExecute(ctx context.Context, req domain.UsageRequest) (domain.AdmissionDecision, error) {
	acct, err := m.snapshot(ctx, req.UserID)
	if err != nil {
		return domain.AdmissionDecision{}, err
	}
	decision := m.engine.CanExecute(acct, req.Service, req.Amount)
	m.metrics.RecordAdmission(ctx, string(req.Service), string(decision.Zone))
	m.logDecision(acct.UserID, decision)
	return decision, nil
}

func (m *Manager) CanExecuteBatch(ctx context.Context, userID string, items []domain.BatchItem) (domain.BatchDecision, error) {
	acct, err := m.snapshot(ctx, userID)
	if err != nil {
		return domain.BatchDecision{}, err
	}
	out := m.engine.CanExecuteBatch(acct, items)
	for _, d := range out.Results {
		m.metrics.RecordAdmission(ctx, string(d.Service), string(d.Zone))
		m.logDecision(acct.UserID, d)
	}
	return out, nil
}

func (m *Manager) Quote(ctx context.Context, req domain.UsageRequest) (domain.Quote, error) {
	acct, err := m.snapshot(ctx, req.UserID)
	if err != nil {
		return domain.Quote{}, err
	}
	return m.engine.Quote(acct, req.Service, req.Amount), nil
}

func (m *Manager) Summary(ctx context.Context, userID string) (domain.Summary, error) {
	acct, err := m.snapshot(ctx, userID)
	if err != nil {
		return domain.Summary{}, err
	}
	return m.engine.Summary(acct), nil
}

// History returns the newest entries first. limit defaults to 100 and is
// capped at the ledger size.
func (m *Manager) History(ctx context.Context, userID string, limit int) ([]domain.UsageHistoryEntry, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return nil, err
	}
	switch {
	case limit <= 0:
		limit = defaultHistoryLimit
	case limit > m.ledgerCap:
		limit = m.ledgerCap
	}
	entries, err := m.store.History(ctx, userID, limit)
	if err != nil {
		return nil, m.storageFailure(ctx, "history", userID, err)
	}
	return entries, nil
}

func (m *Manager) lock(ctx context.Context, userID string) (lock.Unlock, error) {
	start := time.Now()
	unlock, err := m.locker.Lock(ctx, lock.AccountKey(userID))
	m.metrics.ObserveLockWait(ctx, time.Since(start))
	if err != nil {
		m.log.Warn("account lock not acquired", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}
	return unlock, nil
}

func (m *Manager) storageFailure(ctx context.Context, op, userID string, err error) error {
	err = domain.WrapStorage(op, err)
	var se *domain.StorageError
	if errors.As(err, &se) {
		op = se.Op
	}
	m.metrics.RecordStorageError(ctx, op)
	m.log.Error("storage failure",
		zap.String("op", op),
		zap.String("user_id", userID),
		zap.Error(err),
	)
	return err
}

func (m *Manager) logDecision(userID string, d domain.AdmissionDecision) {
	switch d.Zone {
	case domain.ZoneUnknownService:
		m.log.Warn("unknown service requested",
			zap.String("user_id", userID),
			zap.String("service", string(d.Service)),
		)
	case domain.ZoneBlocked:
		m.log.Info("usage blocked",
			zap.String("user_id", userID),
			zap.String("service", string(d.Service)),
			zap.Float64("requested", d.Requested),
			zap.String("reason", d.Reason),
		)
	}
}
