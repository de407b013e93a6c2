package domain

import (
	"context"
	"time"

	"github.com/smallbiznis/luc/internal/catalog"
)

// Service is the account manager used by external callers.
type Service interface {
	GetOrCreate(ctx context.Context, userID, planID string) (*Account, error)
	CreateFromPreset(ctx context.Context, userID, presetID, planID string) (*Account, error)
	Get(ctx context.Context, userID string) (*Account, error)
	List(ctx context.Context, filter ListFilter) ([]Account, error)
	Delete(ctx context.Context, userID string) error

	CanExecute(ctx context.Context, req UsageRequest) (AdmissionDecision, error)
	Quote(ctx context.Context, req UsageRequest) (Quote, error)
	QuoteBatch(ctx context.Context, userID string, items []BatchItem) ([]Quote, error)
	Summary(ctx context.Context, userID string) (Summary, error)
	Alerts(ctx context.Context, userID string) (AccountAlerts, error)

	CanExecuteBatch(ctx context.Context, userID string, items []BatchItem) (BatchDecision, error)
	Debit(ctx context.Context, req UsageRequest) (DebitResult, error)
	DebitBatch(ctx context.Context, userID string, items []BatchItem, description string) (BatchDebitResult, error)
	Credit(ctx context.Context, req UsageRequest) (CreditResult, error)
	RecordDebit(ctx context.Context, req LedgerRequest) (*UsageHistoryEntry, error)
	RecordCredit(ctx context.Context, req LedgerRequest) (*UsageHistoryEntry, error)

	History(ctx context.Context, userID string, limit int) ([]UsageHistoryEntry, error)
	Stats(ctx context.Context, userID string) (AccountStats, error)

	ChangePlan(ctx context.Context, userID, planID string) (*Account, error)
	ResetBillingCycle(ctx context.Context, userID string) (*Account, error)
	ResetDueCycles(ctx context.Context, now time.Time, batch int) (int, error)

	Export(ctx context.Context, userID string, format ExportFormat) (*ExportFile, error)
	Import(ctx context.Context, userID string, data []byte) (*Account, error)
}

// UsageRequest names an amount of one service for one user.
type UsageRequest struct {
	UserID      string             `json:"user_id"`
	Service     catalog.ServiceKey `json:"service"`
	Amount      float64            `json:"amount"`
	Description string             `json:"description,omitempty"`
}

// LedgerRequest appends a ledger entry without touching quotas.
type LedgerRequest struct {
	UserID      string             `json:"user_id"`
	Service     catalog.ServiceKey `json:"service"`
	Amount      float64            `json:"amount"`
	Cost        float64            `json:"cost"`
	Description string             `json:"description,omitempty"`
}

type ExportFormat string

const (
	ExportJSON ExportFormat = "json"
	ExportCSV  ExportFormat = "csv"
)

// ParseExportFormat defaults to json.
func ParseExportFormat(raw string) (ExportFormat, error) {
	switch ExportFormat(raw) {
	case "", ExportJSON:
		return ExportJSON, nil
	case ExportCSV:
		return ExportCSV, nil
	default:
		return "", ErrInvalidFormat
	}
}

// ExportFile is a rendered export ready to hand to a caller.
type ExportFile struct {
	Filename    string
	ContentType string
	Body        []byte
}
