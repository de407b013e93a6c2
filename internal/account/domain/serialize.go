package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/smallbiznis/luc/internal/catalog"
)

// ExportVersion is the envelope version written by Export.
const ExportVersion = "1.0"

var ErrInvalidAccountData = errors.New("invalid_account_data")

// ExportEnvelope is the portable backup of one account and its ledger.
type ExportEnvelope struct {
	Version      string              `json:"version"`
	ExportedAt   time.Time           `json:"exportedAt"`
	Account      *Account            `json:"account"`
	UsageHistory []UsageHistoryEntry `json:"usageHistory"`
}

type accountWire struct {
	UserID            *string              `json:"userId"`
	PlanID            *string              `json:"planId"`
	PlanName          string               `json:"planName"`
	Quotas            map[string]quotaWire `json:"quotas"`
	TotalOverageCost  *float64             `json:"totalOverageCost"`
	BillingCycleStart *time.Time           `json:"billingCycleStart"`
	BillingCycleEnd   *time.Time           `json:"billingCycleEnd"`
	CreatedAt         *time.Time           `json:"createdAt"`
	UpdatedAt         *time.Time           `json:"updatedAt"`
}

type quotaWire struct {
	Limit       *float64   `json:"limit"`
	Used        *float64   `json:"used"`
	Overage     *float64   `json:"overage"`
	LastUpdated *time.Time `json:"lastUpdated"`
}

type entryWire struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	Service     string     `json:"service"`
	Amount      *float64   `json:"amount"`
	Type        string     `json:"type"`
	Cost        *float64   `json:"cost"`
	Timestamp   *time.Time `json:"timestamp"`
	Description string     `json:"description"`
}

type envelopeWire struct {
	Version      string          `json:"version"`
	ExportedAt   *time.Time      `json:"exportedAt"`
	Account      json.RawMessage `json:"account"`
	UsageHistory []entryWire     `json:"usageHistory"`
}

// MarshalAccount encodes an account with ISO-8601 UTC timestamps.
func MarshalAccount(a *Account) ([]byte, error) {
	if a == nil {
		return nil, fmt.Errorf("%w: nil account", ErrInvalidAccountData)
	}
	return json.Marshal(Normalize(a))
}

// UnmarshalAccount decodes and validates a persisted account.
func UnmarshalAccount(data []byte) (*Account, error) {
	var w accountWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAccountData, err)
	}
	acct, err := w.toAccount(true)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAccountData, err)
	}
	return acct, nil
}

// Normalize returns a copy with every timestamp in UTC.
func Normalize(a *Account) *Account {
	out := a.Clone()
	out.BillingCycleStart = out.BillingCycleStart.UTC()
	out.BillingCycleEnd = out.BillingCycleEnd.UTC()
	out.CreatedAt = out.CreatedAt.UTC()
	out.UpdatedAt = out.UpdatedAt.UTC()
	for key, q := range out.Quotas {
		q.LastUpdated = q.LastUpdated.UTC()
		out.Quotas[key] = q
	}
	return out
}

// DecodeEnvelope parses an export envelope. The embedded userId is not
// required since importers override it.
func DecodeEnvelope(data []byte) (*ExportEnvelope, error) {
	var w envelopeWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: malformed json: %v", ErrInvalidImport, err)
	}

	version := strings.TrimSpace(w.Version)
	if version == "" {
		return nil, fmt.Errorf("%w: version is required", ErrInvalidImport)
	}
	if major, _, _ := strings.Cut(version, "."); major != "1" {
		return nil, fmt.Errorf("%w: %w: %q", ErrInvalidImport, ErrUnsupportedVersion, version)
	}

	raw := strings.TrimSpace(string(w.Account))
	if raw == "" || raw == "null" {
		return nil, fmt.Errorf("%w: account is required", ErrInvalidImport)
	}
	var aw accountWire
	if err := json.Unmarshal(w.Account, &aw); err != nil {
		return nil, fmt.Errorf("%w: account: %v", ErrInvalidImport, err)
	}
	acct, err := aw.toAccount(false)
	if err != nil {
		return nil, fmt.Errorf("%w: account: %w", ErrInvalidImport, err)
	}

	env := &ExportEnvelope{
		Version:      version,
		Account:      acct,
		UsageHistory: make([]UsageHistoryEntry, 0, len(w.UsageHistory)),
	}
	if w.ExportedAt != nil {
		env.ExportedAt = w.ExportedAt.UTC()
	}
	for i, ew := range w.UsageHistory {
		entry, err := ew.toEntry()
		if err != nil {
			return nil, fmt.Errorf("%w: usageHistory[%d]: %w", ErrInvalidImport, i, err)
		}
		env.UsageHistory = append(env.UsageHistory, entry)
	}
	return env, nil
}

func (w accountWire) toAccount(requireUser bool) (*Account, error) {
	acct := &Account{PlanName: w.PlanName, Quotas: make(map[catalog.ServiceKey]QuotaRecord, len(w.Quotas))}

	if w.UserID != nil {
		acct.UserID = strings.TrimSpace(*w.UserID)
	}
	if requireUser && acct.UserID == "" {
		return nil, errors.New("userId is required")
	}
	if w.PlanID == nil || strings.TrimSpace(*w.PlanID) == "" {
		return nil, errors.New("planId is required")
	}
	acct.PlanID = strings.TrimSpace(*w.PlanID)
	if w.Quotas == nil {
		return nil, errors.New("quotas is required")
	}
	if w.TotalOverageCost == nil || !finiteNonNegative(*w.TotalOverageCost) {
		return nil, errors.New("totalOverageCost must be a non-negative number")
	}
	acct.TotalOverageCost = *w.TotalOverageCost

	var err error
	if acct.BillingCycleStart, err = requireTime("billingCycleStart", w.BillingCycleStart); err != nil {
		return nil, err
	}
	if acct.BillingCycleEnd, err = requireTime("billingCycleEnd", w.BillingCycleEnd); err != nil {
		return nil, err
	}
	if acct.CreatedAt, err = requireTime("createdAt", w.CreatedAt); err != nil {
		return nil, err
	}
	if acct.UpdatedAt, err = requireTime("updatedAt", w.UpdatedAt); err != nil {
		return nil, err
	}

	for raw, qw := range w.Quotas {
		key, err := catalog.ParseServiceKey(raw)
		if err != nil {
			return nil, fmt.Errorf("quotas: %w", err)
		}
		q, err := qw.toRecord(raw)
		if err != nil {
			return nil, err
		}
		acct.Quotas[key] = q
	}
	return acct, nil
}

func (w quotaWire) toRecord(key string) (QuotaRecord, error) {
	if w.Limit == nil || !finiteNonNegative(*w.Limit) {
		return QuotaRecord{}, fmt.Errorf("quotas.%s.limit must be a non-negative number", key)
	}
	if w.Used == nil || !finiteNonNegative(*w.Used) {
		return QuotaRecord{}, fmt.Errorf("quotas.%s.used must be a non-negative number", key)
	}
	q := QuotaRecord{Limit: *w.Limit, Used: *w.Used}
	if w.Overage != nil {
		if !finiteNonNegative(*w.Overage) {
			return QuotaRecord{}, fmt.Errorf("quotas.%s.overage must be a non-negative number", key)
		}
		q.Overage = *w.Overage
	}
	lastUpdated, err := requireTime("quotas."+key+".lastUpdated", w.LastUpdated)
	if err != nil {
		return QuotaRecord{}, err
	}
	q.LastUpdated = lastUpdated
	return q, nil
}

func (w entryWire) toEntry() (UsageHistoryEntry, error) {
	if strings.TrimSpace(w.ID) == "" {
		return UsageHistoryEntry{}, errors.New("id is required")
	}
	key, err := catalog.ParseServiceKey(w.Service)
	if err != nil {
		return UsageHistoryEntry{}, err
	}
	typ := EntryType(strings.ToLower(strings.TrimSpace(w.Type)))
	if !typ.Valid() {
		return UsageHistoryEntry{}, fmt.Errorf("type %q must be debit or credit", w.Type)
	}
	if w.Amount == nil || !finiteNonNegative(*w.Amount) {
		return UsageHistoryEntry{}, errors.New("amount must be a non-negative number")
	}
	cost := 0.0
	if w.Cost != nil {
		if !finiteNonNegative(*w.Cost) {
			return UsageHistoryEntry{}, errors.New("cost must be a non-negative number")
		}
		cost = *w.Cost
	}
	ts, err := requireTime("timestamp", w.Timestamp)
	if err != nil {
		return UsageHistoryEntry{}, err
	}
	return UsageHistoryEntry{
		ID:          strings.TrimSpace(w.ID),
		UserID:      strings.TrimSpace(w.UserID),
		Service:     key,
		Amount:      *w.Amount,
		Type:        typ,
		Cost:        cost,
		Timestamp:   ts,
		Description: w.Description,
	}, nil
}

func requireTime(field string, t *time.Time) (time.Time, error) {
	if t == nil || t.IsZero() {
		return time.Time{}, fmt.Errorf("%s is required", field)
	}
	return t.UTC(), nil
}

func finiteNonNegative(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}
