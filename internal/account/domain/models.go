package domain

import (
	"maps"
	"time"

	"github.com/smallbiznis/luc/internal/catalog"
)

// QuotaRecord tracks one service's consumption within the billing cycle.
// Overage is always max(0, Used-Limit).
type QuotaRecord struct {
	Limit       float64   `json:"limit"`
	Used        float64   `json:"used"`
	Overage     float64   `json:"overage"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// Account is the per-user aggregate.
type Account struct {
	UserID            string                             `json:"userId"`
	PlanID            string                             `json:"planId"`
	PlanName          string                             `json:"planName"`
	Quotas            map[catalog.ServiceKey]QuotaRecord `json:"quotas"`
	TotalOverageCost  float64                            `json:"totalOverageCost"`
	BillingCycleStart time.Time                          `json:"billingCycleStart"`
	BillingCycleEnd   time.Time                          `json:"billingCycleEnd"`
	CreatedAt         time.Time                          `json:"createdAt"`
	UpdatedAt         time.Time                          `json:"updatedAt"`
}

// Clone returns a deep copy.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	out := *a
	out.Quotas = maps.Clone(a.Quotas)
	if out.Quotas == nil {
		out.Quotas = map[catalog.ServiceKey]QuotaRecord{}
	}
	return &out
}

// Tracked reports whether the account has a quota record for key.
func (a *Account) Tracked(key catalog.ServiceKey) bool {
	_, ok := a.Quotas[key]
	return ok
}

// CycleDue reports whether the billing cycle has ended at now.
func (a *Account) CycleDue(now time.Time) bool {
	return !a.BillingCycleEnd.After(now)
}

type EntryType string

const (
	EntryTypeDebit  EntryType = "debit"
	EntryTypeCredit EntryType = "credit"
)

func (t EntryType) Valid() bool {
	return t == EntryTypeDebit || t == EntryTypeCredit
}

// UsageHistoryEntry is an immutable ledger record.
type UsageHistoryEntry struct {
	ID          string             `json:"id"`
	UserID      string             `json:"userId"`
	Service     catalog.ServiceKey `json:"service"`
	Amount      float64            `json:"amount"`
	Type        EntryType          `json:"type"`
	Cost        float64            `json:"cost"`
	Timestamp   time.Time          `json:"timestamp"`
	Description string             `json:"description,omitempty"`
}

// ListFilter pages through stored accounts.
type ListFilter struct {
	PlanID string
	Limit  int
	Offset int
}
