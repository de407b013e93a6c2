package gating

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/luc/internal/account/domain"
	"github.com/smallbiznis/luc/internal/catalog"
	"github.com/smallbiznis/luc/internal/clock"
)

var epoch = time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) (*Engine, *clock.FakeClock) {
	t.Helper()
	clk := clock.NewFakeClock(epoch)
	return New(catalog.Default(), clk), clk
}

func newTestAccount(t *testing.T, e *Engine, plan string) *domain.Account {
	t.Helper()
	acct, err := e.NewAccount("user-1", plan)
	require.NoError(t, err)
	return acct
}

func TestNewAccountDefaultsToFreePlan(t *testing.T) {
	e, _ := newTestEngine(t)
	acct := newTestAccount(t, e, "")

	assert.Equal(t, "free", acct.PlanID)
	assert.Equal(t, "Free Tier", acct.PlanName)
	assert.Equal(t, 100.0, acct.Quotas[catalog.BraveSearches].Limit)
	assert.Equal(t, epoch, acct.BillingCycleStart)
	assert.Equal(t, epoch.AddDate(0, 1, 0), acct.BillingCycleEnd)
	assert.Len(t, acct.Quotas, len(catalog.AllServiceKeys()))
}

func TestNewAccountRejectsBadInput(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.NewAccount("  ", "")
	assert.ErrorIs(t, err, domain.ErrInvalidUserID)

	_, err = e.NewAccount("user-1", "platinum")
	assert.ErrorIs(t, err, catalog.ErrUnknownPlan)
}

// Exactly 80% carries no warning. The band is strictly above the warning
// level, not >= 80: a user at 80 of 100 searches is not warned yet.
func TestDebitWarningBands(t *testing.T) {
	e, _ := newTestEngine(t)
	acct := newTestAccount(t, e, "free")

	res := e.Debit(acct, catalog.BraveSearches, 80)
	require.True(t, res.Success)
	assert.Equal(t, 80.0, res.NewUsed)
	assert.Empty(t, res.Warning)
	assert.Empty(t, res.Events)

	res = e.Debit(acct, catalog.BraveSearches, 15)
	require.True(t, res.Success)
	assert.Equal(t, 95.0, res.NewUsed)
	assert.Equal(t, 95.0, res.QuotaPercent)
	assert.Equal(t, "Critical: Brave Search API at 95.0% of quota", res.Warning)
	require.Len(t, res.Events, 1)
	assert.Equal(t, domain.EventQuotaCritical, res.Events[0].Type)
}

func TestFractionalUsageLandsOnBandBoundaries(t *testing.T) {
	e, _ := newTestEngine(t)
	acct := newTestAccount(t, e, "free")
	rec := acct.Quotas[catalog.BraveSearches]
	rec.Limit = 21
	acct.Quotas[catalog.BraveSearches] = rec

	res := e.Debit(acct, catalog.BraveSearches, 18.9)
	require.True(t, res.Success)
	if res.QuotaPercent != 90 {
		t.Fatalf("expected 18.9 of 21 to be exactly 90%%, got %v", res.QuotaPercent)
	}
	assert.Equal(t, "Critical: Brave Search API at 90.0% of quota", res.Warning)
	require.Len(t, res.Events, 1)
	assert.Equal(t, domain.EventQuotaCritical, res.Events[0].Type)

	s := e.Summary(acct)
	require.NotEmpty(t, s.Services)
	assert.Equal(t, domain.StatusCritical, s.Services[0].Status)
	assert.Equal(t, 90.0, s.Services[0].PercentUsed)
}

func TestSummaryBlocksAtFractionalMaxAllowed(t *testing.T) {
	e, _ := newTestEngine(t)
	acct := newTestAccount(t, e, "starter")
	acct.Quotas = map[catalog.ServiceKey]domain.QuotaRecord{
		catalog.APICalls: {Limit: 33, Used: 36.3, Overage: 3.3},
	}

	s := e.Summary(acct)
	require.Len(t, s.Services, 1)
	if s.Services[0].Status != domain.StatusBlocked {
		t.Fatalf("expected 36.3 of 33 with 10%% tolerance to be blocked, got %s at %v%%",
			s.Services[0].Status, s.Services[0].PercentUsed)
	}
	assert.Equal(t, 110.0, s.Services[0].PercentUsed)

	d := e.CanExecute(acct, catalog.APICalls, 0.1)
	assert.False(t, d.Allowed)
}

func TestPercentIsQuantized(t *testing.T) {
	assert.Equal(t, 33.3333333333, percentOf(1, 3))
	assert.Equal(t, 0.3, add(0.1, 0.2))
	assert.Equal(t, 0.0, percentOf(5, 0))

	var sum Total
	for range 10 {
		sum.Add(0.1)
	}
	sum.Add(math.NaN())
	assert.Equal(t, 1.0, sum.Float64())
}

func TestDebitWarningJustAboveWarningBand(t *testing.T) {
	e, _ := newTestEngine(t)
	acct := newTestAccount(t, e, "free")

	res := e.Debit(acct, catalog.BraveSearches, 85)
	require.True(t, res.Success)
	assert.Equal(t, "Warning: Brave Search API at 85.0% of quota", res.Warning)
	require.Len(t, res.Events, 1)
	assert.Equal(t, domain.EventQuotaWarning, res.Events[0].Type)

	// Staying in the same band does not repeat the event.
	res = e.Debit(acct, catalog.BraveSearches, 1)
	require.True(t, res.Success)
	assert.NotEmpty(t, res.Warning)
	assert.Empty(t, res.Events)
}

func TestDebitOverageAndBlock(t *testing.T) {
	e, _ := newTestEngine(t)
	acct := newTestAccount(t, e, "starter")

	d := e.CanExecute(acct, catalog.APICalls, 10500)
	assert.True(t, d.Allowed)
	assert.Equal(t, domain.ZoneOverage, d.Zone)
	assert.Equal(t, 500.0, d.WouldExceedBy)
	assert.Equal(t, 1000.0, d.OverageAllowed)
	assert.Equal(t, 0.05, d.ProjectedCost)

	res := e.Debit(acct, catalog.APICalls, 10500)
	require.True(t, res.Success)
	assert.Equal(t, 500.0, res.NewOverage)
	assert.Equal(t, 0.05, res.OverageCost)
	assert.Equal(t, 0.05, acct.TotalOverageCost)

	var types []domain.EventType
	for _, ev := range res.Events {
		types = append(types, ev.Type)
	}
	assert.Contains(t, types, domain.EventOverageIncurred)

	before := acct.Clone()
	res = e.Debit(acct, catalog.APICalls, 600)
	assert.False(t, res.Success)
	assert.Equal(t, domain.ZoneBlocked, res.Decision.Zone)
	assert.Equal(t, "Would exceed quota by 100.00 calls (max overage: 10%)", res.Reason)
	assert.Equal(t, 10500.0, res.NewUsed)
	assert.Equal(t, 105.0, res.QuotaPercent)
	require.Len(t, res.Events, 1)
	assert.Equal(t, domain.EventQuotaBlocked, res.Events[0].Type)
	assert.Equal(t, before, acct)
}

func TestFreePlanBlocksAtLimit(t *testing.T) {
	e, _ := newTestEngine(t)
	acct := newTestAccount(t, e, "free")

	d := e.CanExecute(acct, catalog.BraveSearches, 100)
	assert.True(t, d.Allowed)
	assert.Equal(t, domain.ZoneWithinQuota, d.Zone)

	d = e.CanExecute(acct, catalog.BraveSearches, 101)
	assert.False(t, d.Allowed)
	assert.Equal(t, "Would exceed quota by 1.00 searches (max overage: 0%)", d.Reason)
}

func TestCanExecuteRejectsUnknownServiceAndBadAmounts(t *testing.T) {
	e, _ := newTestEngine(t)
	acct := newTestAccount(t, e, "free")
	delete(acct.Quotas, catalog.Embeddings)

	d := e.CanExecute(acct, catalog.Embeddings, 1)
	assert.False(t, d.Allowed)
	assert.Equal(t, domain.ZoneUnknownService, d.Zone)
	assert.Equal(t, "Unknown service: embeddings", d.Reason)

	d = e.CanExecute(acct, catalog.ServiceKey("telepathy"), 1)
	assert.Equal(t, domain.ZoneUnknownService, d.Zone)

	for _, amount := range []float64{-1, math.NaN(), math.Inf(1)} {
		d = e.CanExecute(acct, catalog.APICalls, amount)
		assert.False(t, d.Allowed)
		assert.Equal(t, domain.ZoneInvalidAmount, d.Zone)
	}

	res := e.Debit(acct, catalog.APICalls, -5)
	assert.False(t, res.Success)
	assert.Equal(t, 0.0, acct.Quotas[catalog.APICalls].Used)
}

func TestCanExecuteDoesNotMutate(t *testing.T) {
	e, _ := newTestEngine(t)
	acct := newTestAccount(t, e, "starter")
	e.Debit(acct, catalog.APICalls, 9000)
	before := acct.Clone()

	e.CanExecute(acct, catalog.APICalls, 1500)
	e.Quote(acct, catalog.APICalls, 1500)
	e.Summary(acct)
	e.CanExecuteBatch(acct, []domain.BatchItem{{Service: catalog.APICalls, Amount: 500}})

	assert.Equal(t, before, acct)
}

func TestOverageChargesAreAssociative(t *testing.T) {
	e, _ := newTestEngine(t)
	split := newTestAccount(t, e, "starter")
	whole := newTestAccount(t, e, "starter")

	for _, amount := range []float64{9000, 700, 600, 300} {
		require.True(t, e.Debit(split, catalog.APICalls, amount).Success)
	}
	require.True(t, e.Debit(whole, catalog.APICalls, 10600).Success)

	assert.Equal(t, whole.TotalOverageCost, split.TotalOverageCost)
	assert.Equal(t, 0.06, split.TotalOverageCost)
	assert.Equal(t, whole.Quotas[catalog.APICalls], split.Quotas[catalog.APICalls])
}

func TestDecimalSumsAreExact(t *testing.T) {
	e, _ := newTestEngine(t)
	acct := newTestAccount(t, e, "free")

	for i := 0; i < 10; i++ {
		require.True(t, e.Debit(acct, catalog.StorageGB, 0.1).Success)
	}
	assert.Equal(t, 1.0, acct.Quotas[catalog.StorageGB].Used)
	assert.Equal(t, 0.0, acct.Quotas[catalog.StorageGB].Overage)
}

func TestCreditFloorsAtZero(t *testing.T) {
	e, _ := newTestEngine(t)
	acct := newTestAccount(t, e, "free")
	e.Debit(acct, catalog.BraveSearches, 30)

	res := e.Credit(acct, catalog.BraveSearches, 50)
	require.True(t, res.Success)
	assert.Equal(t, 50.0, res.AmountRequested)
	assert.Equal(t, 30.0, res.AmountCredited)
	assert.Equal(t, 0.0, res.NewUsed)
	assert.Equal(t, 0.0, res.NewOverage)
}

func TestCreditKeepsBilledOverage(t *testing.T) {
	e, _ := newTestEngine(t)
	acct := newTestAccount(t, e, "starter")
	e.Debit(acct, catalog.APICalls, 10500)
	require.Equal(t, 0.05, acct.TotalOverageCost)

	res := e.Credit(acct, catalog.APICalls, 1000)
	require.True(t, res.Success)
	assert.Equal(t, 0.0, res.NewOverage)
	assert.Equal(t, 0.05, acct.TotalOverageCost)

	// Crossing back into overage is billed again.
	res2 := e.Debit(acct, catalog.APICalls, 1000)
	require.True(t, res2.Success)
	assert.InDelta(t, 0.10, acct.TotalOverageCost, 1e-12)
}

func TestCreditRejectsUnknownService(t *testing.T) {
	e, _ := newTestEngine(t)
	acct := newTestAccount(t, e, "free")

	res := e.Credit(acct, catalog.ServiceKey("telepathy"), 1)
	assert.False(t, res.Success)
	assert.Equal(t, "Unknown service: telepathy", res.Reason)

	res = e.Credit(acct, catalog.APICalls, math.NaN())
	assert.False(t, res.Success)
}

func TestQuote(t *testing.T) {
	e, _ := newTestEngine(t)
	acct := newTestAccount(t, e, "starter")
	e.Debit(acct, catalog.APICalls, 9800)

	q := e.Quote(acct, catalog.APICalls, 500)
	assert.Equal(t, "call", q.Unit)
	assert.True(t, q.WouldExceed)
	assert.Equal(t, 300.0, q.ProjectedOverage)
	assert.Equal(t, 0.03, q.ProjectedCost)
	assert.True(t, q.Allowed)

	q = e.Quote(acct, catalog.APICalls, 5000)
	assert.False(t, q.Allowed)
	assert.NotEmpty(t, q.Reason)

	q = e.Quote(acct, catalog.APICalls, 100)
	assert.False(t, q.WouldExceed)
	assert.Zero(t, q.ProjectedCost)
}

func TestSummary(t *testing.T) {
	e, _ := newTestEngine(t)
	acct := newTestAccount(t, e, "free")
	e.Debit(acct, catalog.BraveSearches, 100)
	e.Debit(acct, catalog.APICalls, 950)
	e.Debit(acct, catalog.N8NExecutions, 42)

	s := e.Summary(acct)
	assert.Equal(t, "Free Tier", s.PlanName)
	require.Len(t, s.Services, len(catalog.AllServiceKeys()))
	assert.Equal(t, catalog.BraveSearches, s.Services[0].Service)

	byKey := map[catalog.ServiceKey]domain.ServiceSummary{}
	for _, svc := range s.Services {
		byKey[svc.Service] = svc
	}
	assert.Equal(t, domain.StatusBlocked, byKey[catalog.BraveSearches].Status)
	assert.Equal(t, domain.StatusCritical, byKey[catalog.APICalls].Status)
	assert.Equal(t, domain.StatusWarning, byKey[catalog.N8NExecutions].Status)
	assert.Equal(t, domain.StatusOK, byKey[catalog.StorageGB].Status)

	assert.Equal(t, []string{
		"Brave Search API is blocked - quota exceeded",
		"Workflow Executions is at 84.0%",
		"API Calls is at 95.0% - approaching limit",
	}, s.Warnings)
	assert.InDelta(t, (100.0+95.0+84.0)/10, s.OverallPercentUsed, 1e-9)
}

func TestSummarySkipsUntrackedServices(t *testing.T) {
	e, _ := newTestEngine(t)
	acct := newTestAccount(t, e, "free")
	delete(acct.Quotas, catalog.Embeddings)

	s := e.Summary(acct)
	assert.Len(t, s.Services, len(catalog.AllServiceKeys())-1)
}

func TestUpdatePlanKeepsUsage(t *testing.T) {
	e, clk := newTestEngine(t)
	acct := newTestAccount(t, e, "free")
	rec := acct.Quotas[catalog.APICalls]
	rec.Used = 8000
	rec.Overage = 7000
	acct.Quotas[catalog.APICalls] = rec
	delete(acct.Quotas, catalog.Embeddings)
	cost := acct.TotalOverageCost

	clk.Advance(time.Hour)
	require.NoError(t, e.UpdatePlan(acct, "professional"))

	assert.Equal(t, "professional", acct.PlanID)
	assert.Equal(t, "Professional", acct.PlanName)
	assert.Equal(t, 50000.0, acct.Quotas[catalog.APICalls].Limit)
	assert.Equal(t, 8000.0, acct.Quotas[catalog.APICalls].Used)
	assert.Equal(t, 0.0, acct.Quotas[catalog.APICalls].Overage)
	assert.Equal(t, cost, acct.TotalOverageCost)
	assert.False(t, acct.Tracked(catalog.Embeddings))
	assert.Equal(t, epoch.Add(time.Hour), acct.UpdatedAt)
}

func TestUpdatePlanUnknown(t *testing.T) {
	e, _ := newTestEngine(t)
	acct := newTestAccount(t, e, "free")
	before := acct.Clone()

	err := e.UpdatePlan(acct, "platinum")
	assert.ErrorIs(t, err, catalog.ErrUnknownPlan)
	assert.Equal(t, before, acct)
}

func TestResetBillingCycleIsIdempotent(t *testing.T) {
	e, clk := newTestEngine(t)
	acct := newTestAccount(t, e, "starter")
	e.Debit(acct, catalog.APICalls, 10500)
	e.Debit(acct, catalog.BraveSearches, 12)

	clk.Advance(24 * time.Hour)
	e.ResetBillingCycle(acct)
	once := acct.Clone()
	e.ResetBillingCycle(acct)

	assert.Equal(t, once, acct)
	assert.Zero(t, acct.TotalOverageCost)
	for key, rec := range acct.Quotas {
		assert.Zero(t, rec.Used, key)
		assert.Zero(t, rec.Overage, key)
	}
	now := epoch.Add(24 * time.Hour)
	assert.Equal(t, now, acct.BillingCycleStart)
	assert.Equal(t, now.AddDate(0, 1, 0), acct.BillingCycleEnd)
}

func TestBatch(t *testing.T) {
	e, _ := newTestEngine(t)
	acct := newTestAccount(t, e, "free")
	items := []domain.BatchItem{
		{Service: catalog.BraveSearches, Amount: 60},
		{Service: catalog.BraveSearches, Amount: 60},
		{Service: catalog.APICalls, Amount: 10},
	}

	check := e.CanExecuteBatch(acct, items)
	assert.False(t, check.AllAllowed)
	require.Len(t, check.Results, 3)
	assert.True(t, check.Results[0].Allowed)
	assert.False(t, check.Results[1].Allowed)
	assert.True(t, check.Results[2].Allowed)

	before := acct.Clone()
	res := e.DebitBatch(acct, items)
	assert.False(t, res.Success)
	assert.Contains(t, res.Reason, "brave_searches")
	assert.Equal(t, before, acct)

	res = e.DebitBatch(acct, items[1:])
	require.True(t, res.Success)
	assert.Equal(t, 60.0, acct.Quotas[catalog.BraveSearches].Used)
	assert.Equal(t, 10.0, acct.Quotas[catalog.APICalls].Used)
}

func TestOverageInvariantHolds(t *testing.T) {
	e, _ := newTestEngine(t)
	acct := newTestAccount(t, e, "starter")
	ops := []struct {
		credit bool
		amount float64
	}{{false, 4000}, {false, 6500}, {true, 2000}, {false, 1400}, {true, 99999}, {false, 10999.5}}

	for _, op := range ops {
		if op.credit {
			e.Credit(acct, catalog.APICalls, op.amount)
		} else {
			e.Debit(acct, catalog.APICalls, op.amount)
		}
		rec := acct.Quotas[catalog.APICalls]
		assert.Equal(t, math.Max(0, rec.Used-rec.Limit), rec.Overage)
	}
}

func TestPluralUnit(t *testing.T) {
	cases := map[string]string{
		"search":    "searches",
		"call":      "calls",
		"GB":        "GBs",
		"K tokens":  "K tokens",
		"box":       "boxes",
		"character": "characters",
		"":          "units",
	}
	for in, want := range cases {
		if got := pluralUnit(in); got != want {
			t.Fatalf("pluralUnit(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewAccountFromPreset(t *testing.T) {
	e, _ := newTestEngine(t)

	acct, err := e.NewAccountFromPreset("user-1", "ai_platform", "")
	require.NoError(t, err)
	assert.Equal(t, "enterprise", acct.PlanID)
	assert.Len(t, acct.Quotas, 5)
	assert.Equal(t, 10000.0, acct.Quotas[catalog.OpenRouterTokens].Limit)
	_, tracked := acct.Quotas[catalog.BraveSearches]
	assert.False(t, tracked)

	// The plan sets the tolerance; the preset sets the limits.
	acct, err = e.NewAccountFromPreset("user-2", "freelancer", "starter")
	require.NoError(t, err)
	assert.Equal(t, "starter", acct.PlanID)
	assert.Equal(t, 20.0, acct.Quotas[catalog.CodeGenerations].Limit)
	d := e.CanExecute(acct, catalog.CodeGenerations, 22)
	assert.Equal(t, domain.ZoneOverage, d.Zone)

	d = e.CanExecute(acct, catalog.APICalls, 1)
	assert.Equal(t, domain.ZoneUnknownService, d.Zone)

	_, err = e.NewAccountFromPreset("user-3", "mining", "")
	assert.ErrorIs(t, err, catalog.ErrUnknownPreset)
	_, err = e.NewAccountFromPreset("user-3", "saas", "platinum")
	assert.ErrorIs(t, err, catalog.ErrUnknownPlan)
	_, err = e.NewAccountFromPreset(" ", "saas", "")
	assert.ErrorIs(t, err, domain.ErrInvalidUserID)
}

func TestQuoteBatchIsIndependentPerItem(t *testing.T) {
	e, _ := newTestEngine(t)
	acct := newTestAccount(t, e, "free")
	e.Debit(acct, catalog.BraveSearches, 60)

	quotes := e.QuoteBatch(acct, []domain.BatchItem{
		{Service: catalog.BraveSearches, Amount: 30},
		{Service: catalog.BraveSearches, Amount: 30},
		{Service: catalog.BraveSearches, Amount: 50},
	})
	require.Len(t, quotes, 3)
	assert.True(t, quotes[0].Allowed)
	if !quotes[1].Allowed {
		t.Fatalf("expected the second quote to ignore the first, got %+v", quotes[1])
	}
	assert.False(t, quotes[2].Allowed)
	assert.True(t, quotes[2].WouldExceed)
	assert.Equal(t, 60.0, acct.Quotas[catalog.BraveSearches].Used)

	assert.Empty(t, e.QuoteBatch(acct, nil))
}

func TestBlockedServicesAndWarnings(t *testing.T) {
	e, _ := newTestEngine(t)
	acct := newTestAccount(t, e, "free")
	assert.False(t, e.HasWarnings(acct))
	assert.Empty(t, e.BlockedServices(acct))

	e.Debit(acct, catalog.APICalls, 850)
	assert.True(t, e.HasWarnings(acct))
	assert.Empty(t, e.BlockedServices(acct))

	e.Debit(acct, catalog.BraveSearches, 100)
	e.Debit(acct, catalog.Embeddings, 50)
	assert.Equal(t, []catalog.ServiceKey{catalog.BraveSearches, catalog.Embeddings}, e.BlockedServices(acct))
}
