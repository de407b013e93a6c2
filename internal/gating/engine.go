// Package gating holds the pure quota admission and metering rules.
// Every function operates on one in-memory account and performs no I/O;
// callers serialize mutations per account.
package gating

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/smallbiznis/luc/internal/account/domain"
	"github.com/smallbiznis/luc/internal/catalog"
	"github.com/smallbiznis/luc/internal/clock"
)

type Engine struct {
	catalog *catalog.Catalog
	clock   clock.Clock
}

func New(cat *catalog.Catalog, clk clock.Clock) *Engine {
	if clk == nil {
		clk = clock.System()
	}
	return &Engine{catalog: cat, clock: clk}
}

func (e *Engine) Catalog() *catalog.Catalog { return e.catalog }

// NewAccount builds a fresh account on planID, or the default plan when
// planID is empty. The billing cycle starts now and ends one month later.
func (e *Engine) NewAccount(userID, planID string) (*domain.Account, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domain.ErrInvalidUserID
	}
	plan := e.catalog.DefaultPlan()
	if planID = strings.TrimSpace(planID); planID != "" {
		p, ok := e.catalog.Plan(planID)
		if !ok {
			return nil, fmt.Errorf("%w: %s", catalog.ErrUnknownPlan, planID)
		}
		plan = p
	}

	now := e.clock.Now()
	quotas := make(map[catalog.ServiceKey]domain.QuotaRecord, len(plan.Quotas))
	for key, limit := range plan.Quotas {
		quotas[key] = domain.QuotaRecord{Limit: limit, LastUpdated: now}
	}
	return &domain.Account{
		UserID:            userID,
		PlanID:            plan.ID,
		PlanName:          plan.Name,
		Quotas:            quotas,
		BillingCycleStart: now,
		BillingCycleEnd:   now.AddDate(0, 1, 0),
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// NewAccountFromPreset builds a fresh account that tracks only the preset's
// services, with the preset's quotas as limits. planID defaults to the
// preset's recommended plan and sets the overage tolerance.
func (e *Engine) NewAccountFromPreset(userID, presetID, planID string) (*domain.Account, error) {
	preset, ok := e.catalog.Preset(presetID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", catalog.ErrUnknownPreset, presetID)
	}
	if strings.TrimSpace(planID) == "" {
		planID = preset.RecommendedPlan
	}
	acct, err := e.NewAccount(userID, planID)
	if err != nil {
		return nil, err
	}
	acct.Quotas = make(map[catalog.ServiceKey]domain.QuotaRecord, len(preset.Quotas))
	for key, limit := range preset.Quotas {
		acct.Quotas[key] = domain.QuotaRecord{Limit: limit, LastUpdated: acct.CreatedAt}
	}
	return acct, nil
}

// threshold returns the overage tolerance of the account's plan. An
// account whose plan is no longer configured gets no tolerance.
func (e *Engine) threshold(acct *domain.Account) float64 {
	if plan, ok := e.catalog.Plan(acct.PlanID); ok {
		return plan.OverageThreshold
	}
	return 0
}

func (e *Engine) lookup(acct *domain.Account, key catalog.ServiceKey) (domain.QuotaRecord, catalog.ServiceBucket, bool) {
	rec, tracked := acct.Quotas[key]
	svc, known := e.catalog.Service(key)
	return rec, svc, tracked && known
}

// CanExecute decides whether amount of service may be consumed. It never
// mutates acct.
func (e *Engine) CanExecute(acct *domain.Account, key catalog.ServiceKey, amount float64) domain.AdmissionDecision {
	decision := domain.AdmissionDecision{Service: key, Requested: amount}
	if !validAmount(amount) {
		if math.IsNaN(amount) || math.IsInf(amount, 0) {
			decision.Requested = 0
		}
		decision.Zone = domain.ZoneInvalidAmount
		decision.Reason = invalidAmountReason
		return decision
	}

	rec, svc, ok := e.lookup(acct, key)
	if !ok {
		decision.Zone = domain.ZoneUnknownService
		decision.Reason = unknownServiceReason(key)
		return decision
	}

	threshold := e.threshold(acct)
	maxAllowed := mul(rec.Limit, add(1, threshold))
	projected := add(rec.Used, amount)

	decision.CurrentUsed = rec.Used
	decision.Limit = rec.Limit
	decision.OverageAllowed = sub(maxAllowed, rec.Limit)

	switch {
	case projected <= rec.Limit:
		decision.Allowed = true
		decision.Zone = domain.ZoneWithinQuota
	case projected <= maxAllowed:
		over := sub(projected, rec.Limit)
		decision.Allowed = true
		decision.Zone = domain.ZoneOverage
		decision.Reason = "Within overage threshold"
		decision.WouldExceedBy = over
		decision.ProjectedCost = mul(over, svc.OverageRate)
	default:
		decision.Zone = domain.ZoneBlocked
		decision.WouldExceedBy = sub(projected, rec.Limit)
		decision.Reason = blockedReason(sub(projected, maxAllowed), svc.Unit, threshold)
	}
	return decision
}

// CanExecuteBatch evaluates items in order as if each earlier allowed item
// had already been debited. acct is not mutated.
func (e *Engine) CanExecuteBatch(acct *domain.Account, items []domain.BatchItem) domain.BatchDecision {
	work := acct.Clone()
	out := domain.BatchDecision{AllAllowed: true, Results: make([]domain.AdmissionDecision, 0, len(items))}
	for _, item := range items {
		d := e.CanExecute(work, item.Service, item.Amount)
		out.Results = append(out.Results, d)
		if !d.Allowed {
			out.AllAllowed = false
			continue
		}
		rec := work.Quotas[item.Service]
		rec.Used = add(rec.Used, item.Amount)
		rec.Overage = overageOf(rec.Used, rec.Limit)
		work.Quotas[item.Service] = rec
	}
	return out
}

// Debit charges amount against service. A denied debit leaves acct
// untouched. Only the growth of the overage is billed.
func (e *Engine) Debit(acct *domain.Account, key catalog.ServiceKey, amount float64) domain.DebitResult {
	decision := e.CanExecute(acct, key, amount)
	result := domain.DebitResult{Service: key, Amount: decision.Requested, Decision: decision}
	now := e.clock.Now()

	if !decision.Allowed {
		result.Reason = decision.Reason
		if rec, ok := acct.Quotas[key]; ok {
			result.NewUsed = rec.Used
			result.NewOverage = rec.Overage
			result.QuotaPercent = percentOf(rec.Used, rec.Limit)
		}
		if decision.Zone == domain.ZoneBlocked {
			result.Events = append(result.Events, domain.Event{
				Type:      domain.EventQuotaBlocked,
				UserID:    acct.UserID,
				Service:   key,
				Message:   decision.Reason,
				Data:      map[string]any{"requested": amount, "used": decision.CurrentUsed, "limit": decision.Limit},
				Timestamp: now,
			})
		}
		return result
	}

	rec := acct.Quotas[key]
	svc, _ := e.catalog.Service(key)
	prevPercent := percentOf(rec.Used, rec.Limit)
	prevOverage := rec.Overage

	rec.Used = add(rec.Used, amount)
	rec.Overage = overageOf(rec.Used, rec.Limit)
	rec.LastUpdated = now

	var cost float64
	if delta := sub(rec.Overage, prevOverage); delta > 0 {
		cost = mul(delta, svc.OverageRate)
		acct.TotalOverageCost = add(acct.TotalOverageCost, cost)
	}
	acct.Quotas[key] = rec
	acct.UpdatedAt = now

	percent := percentOf(rec.Used, rec.Limit)
	result.Success = true
	result.NewUsed = rec.Used
	result.NewOverage = rec.Overage
	result.OverageCost = cost
	result.QuotaPercent = percent
	result.Warning = e.warning(svc, percent)
	result.Events = e.debitEvents(acct.UserID, key, svc, prevPercent, percent, cost, now)
	return result
}

func (e *Engine) warning(svc catalog.ServiceBucket, percent float64) string {
	alerts := e.catalog.Alerts()
	switch {
	case percent >= alerts.Critical:
		return fmt.Sprintf("Critical: %s at %.1f%% of quota", svc.Name, percent)
	case percent > alerts.Warning:
		return fmt.Sprintf("Warning: %s at %.1f%% of quota", svc.Name, percent)
	}
	return ""
}

// debitEvents reports alert bands entered by this debit, not bands the
// account was already in.
func (e *Engine) debitEvents(userID string, key catalog.ServiceKey, svc catalog.ServiceBucket, prev, cur, cost float64, now time.Time) []domain.Event {
	alerts := e.catalog.Alerts()
	var events []domain.Event
	data := map[string]any{"percent": cur}
	switch {
	case cur >= alerts.Critical && prev < alerts.Critical:
		events = append(events, domain.Event{
			Type: domain.EventQuotaCritical, UserID: userID, Service: key,
			Message: e.warning(svc, cur), Data: data, Timestamp: now,
		})
	case cur > alerts.Warning && cur < alerts.Critical && prev <= alerts.Warning:
		events = append(events, domain.Event{
			Type: domain.EventQuotaWarning, UserID: userID, Service: key,
			Message: e.warning(svc, cur), Data: data, Timestamp: now,
		})
	}
	if cost > 0 {
		events = append(events, domain.Event{
			Type: domain.EventOverageIncurred, UserID: userID, Service: key,
			Message:   fmt.Sprintf("Overage incurred: $%.4f", cost),
			Data:      map[string]any{"cost": cost},
			Timestamp: now,
		})
	}
	return events
}

// DebitBatch applies every item or none of them.
func (e *Engine) DebitBatch(acct *domain.Account, items []domain.BatchItem) domain.BatchDebitResult {
	work := acct.Clone()
	out := domain.BatchDebitResult{Results: make([]domain.DebitResult, 0, len(items))}
	var total float64
	for _, item := range items {
		r := e.Debit(work, item.Service, item.Amount)
		out.Results = append(out.Results, r)
		if !r.Success {
			out.Reason = fmt.Sprintf("%s: %s", item.Service, r.Reason)
			return out
		}
		total = add(total, r.OverageCost)
	}
	*acct = *work
	out.Success = true
	out.OverageCost = total
	return out
}

// Credit returns amount of service to the quota, flooring used at zero.
// Overage already billed stays in TotalOverageCost.
func (e *Engine) Credit(acct *domain.Account, key catalog.ServiceKey, amount float64) domain.CreditResult {
	result := domain.CreditResult{Service: key, AmountRequested: amount}
	if !validAmount(amount) {
		result.Reason = invalidAmountReason
		if math.IsNaN(amount) || math.IsInf(amount, 0) {
			result.AmountRequested = 0
		}
		return result
	}
	rec, _, ok := e.lookup(acct, key)
	if !ok {
		result.Reason = unknownServiceReason(key)
		return result
	}

	now := e.clock.Now()
	prev := rec.Used
	rec.Used = math.Max(0, sub(rec.Used, amount))
	rec.Overage = overageOf(rec.Used, rec.Limit)
	rec.LastUpdated = now
	acct.Quotas[key] = rec
	acct.UpdatedAt = now

	result.Success = true
	result.AmountCredited = sub(prev, rec.Used)
	result.NewUsed = rec.Used
	result.NewOverage = rec.Overage
	return result
}

// Quote previews the cost of consuming amount of service.
func (e *Engine) Quote(acct *domain.Account, key catalog.ServiceKey, amount float64) domain.Quote {
	decision := e.CanExecute(acct, key, amount)
	q := domain.Quote{
		Service:     key,
		Amount:      decision.Requested,
		CurrentUsed: decision.CurrentUsed,
		Limit:       decision.Limit,
		Allowed:     decision.Allowed,
	}
	if !decision.Allowed {
		q.Reason = decision.Reason
	}
	if decision.Zone == domain.ZoneInvalidAmount || decision.Zone == domain.ZoneUnknownService {
		return q
	}
	svc, _ := e.catalog.Service(key)
	q.Unit = svc.Unit
	projected := add(decision.CurrentUsed, amount)
	if projected > decision.Limit {
		q.WouldExceed = true
		q.ProjectedOverage = sub(projected, decision.Limit)
		q.ProjectedCost = mul(q.ProjectedOverage, svc.OverageRate)
	}
	return q
}

// QuoteBatch quotes each item against the current usage. Unlike
// CanExecuteBatch, items do not see each other's consumption.
func (e *Engine) QuoteBatch(acct *domain.Account, items []domain.BatchItem) []domain.Quote {
	out := make([]domain.Quote, 0, len(items))
	for _, item := range items {
		out = append(out, e.Quote(acct, item.Service, item.Amount))
	}
	return out
}

// BlockedServices lists the services whose summary status is blocked, in
// catalog order.
func (e *Engine) BlockedServices(acct *domain.Account) []catalog.ServiceKey {
	out := []catalog.ServiceKey{}
	for _, svc := range e.Summary(acct).Services {
		if svc.Status == domain.StatusBlocked {
			out = append(out, svc.Service)
		}
	}
	return out
}

// HasWarnings reports whether any tracked service is above the warning level.
func (e *Engine) HasWarnings(acct *domain.Account) bool {
	return len(e.Summary(acct).Warnings) > 0
}

// Summary reports every tracked service in catalog order.
func (e *Engine) Summary(acct *domain.Account) domain.Summary {
	alerts := e.catalog.Alerts()
	threshold := e.threshold(acct)
	blockedAt := mul(add(1, threshold), 100)

	planName := acct.PlanName
	if plan, ok := e.catalog.Plan(acct.PlanID); ok {
		planName = plan.Name
	}

	out := domain.Summary{
		UserID:            acct.UserID,
		PlanID:            acct.PlanID,
		PlanName:          planName,
		BillingCycleStart: acct.BillingCycleStart,
		BillingCycleEnd:   acct.BillingCycleEnd,
		TotalOverageCost:  acct.TotalOverageCost,
		Services:          []domain.ServiceSummary{},
		Warnings:          []string{},
	}

	var percentTotal Total
	for _, svc := range e.catalog.Services() {
		rec, ok := acct.Quotas[svc.Key]
		if !ok {
			continue
		}
		percent := percentOf(rec.Used, rec.Limit)
		status := domain.StatusOK
		switch {
		case rec.Limit > 0 && percent >= blockedAt:
			status = domain.StatusBlocked
			out.Warnings = append(out.Warnings, fmt.Sprintf("%s is blocked - quota exceeded", svc.Name))
		case percent >= alerts.Critical:
			status = domain.StatusCritical
			out.Warnings = append(out.Warnings, fmt.Sprintf("%s is at %.1f%% - approaching limit", svc.Name, percent))
		case percent > alerts.Warning:
			status = domain.StatusWarning
			out.Warnings = append(out.Warnings, fmt.Sprintf("%s is at %.1f%%", svc.Name, percent))
		}
		out.Services = append(out.Services, domain.ServiceSummary{
			Service:     svc.Key,
			Name:        svc.Name,
			Unit:        svc.Unit,
			Used:        rec.Used,
			Limit:       rec.Limit,
			Overage:     rec.Overage,
			PercentUsed: percent,
			OverageCost: mul(rec.Overage, svc.OverageRate),
			Status:      status,
		})
		percentTotal.Add(percent)
	}
	if n := len(out.Services); n > 0 {
		out.OverallPercentUsed = quo(percentTotal.Float64(), float64(n))
	}
	return out
}

// UpdatePlan moves acct to planID. Limits change only for services the
// account already tracks; usage is kept and overage is recomputed without
// billing. Services missing from the new plan keep their old limits.
func (e *Engine) UpdatePlan(acct *domain.Account, planID string) error {
	plan, ok := e.catalog.Plan(strings.TrimSpace(planID))
	if !ok {
		return fmt.Errorf("%w: %s", catalog.ErrUnknownPlan, planID)
	}
	now := e.clock.Now()
	acct.PlanID = plan.ID
	acct.PlanName = plan.Name
	for key, limit := range plan.Quotas {
		rec, tracked := acct.Quotas[key]
		if !tracked {
			continue
		}
		rec.Limit = limit
		rec.Overage = overageOf(rec.Used, rec.Limit)
		acct.Quotas[key] = rec
	}
	acct.UpdatedAt = now
	return nil
}

// ResetBillingCycle starts a new cycle at now and zeroes all usage.
func (e *Engine) ResetBillingCycle(acct *domain.Account) {
	now := e.clock.Now()
	acct.BillingCycleStart = now
	acct.BillingCycleEnd = now.AddDate(0, 1, 0)
	acct.TotalOverageCost = 0
	for key, rec := range acct.Quotas {
		rec.Used = 0
		rec.Overage = 0
		rec.LastUpdated = now
		acct.Quotas[key] = rec
	}
	acct.UpdatedAt = now
}

// RecomputeOverage restores overage == max(0, used-limit) on every record.
func RecomputeOverage(acct *domain.Account) {
	for key, rec := range acct.Quotas {
		rec.Overage = overageOf(rec.Used, rec.Limit)
		acct.Quotas[key] = rec
	}
}
