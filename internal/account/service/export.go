package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/smallbiznis/luc/internal/account/domain"
	"github.com/smallbiznis/luc/internal/gating"
)

// Export renders the account and its ledger. A missing account exports as
// a null account with an empty history.
func (m *Manager) Export(ctx context.Context, userID string, format domain.ExportFormat) (file *domain.ExportFile, err error) {
	ctx, end := m.startSpan(ctx, "Export")
	defer func() { end(err) }()

	userID, err = normalizeUserID(userID)
	if err != nil {
		return nil, err
	}
	if format == "" {
		format = domain.ExportJSON
	}
	if format != domain.ExportJSON && format != domain.ExportCSV {
		return nil, domain.ErrInvalidFormat
	}

	acct, err := m.store.Get(ctx, userID)
	switch {
	case errors.Is(err, domain.ErrAccountNotFound):
		acct = nil
	case err != nil:
		return nil, m.storageFailure(ctx, "get", userID, err)
	}
	history, err := m.store.History(ctx, userID, exportHistoryLimit)
	if err != nil {
		return nil, m.storageFailure(ctx, "history", userID, err)
	}
	if history == nil {
		history = []domain.UsageHistoryEntry{}
	}

	now := m.clock.Now()
	name := fmt.Sprintf("luc-export-%s-%s.%s", userID, now.Format("2006-01-02"), format)
	switch format {
	case domain.ExportCSV:
		body, err := m.renderCSV(acct, history)
		if err != nil {
			return nil, err
		}
		return &domain.ExportFile{Filename: name, ContentType: "text/csv", Body: body}, nil
	default:
		env := domain.ExportEnvelope{
			Version:      domain.ExportVersion,
			ExportedAt:   now,
			UsageHistory: history,
		}
		if acct != nil {
			env.Account = domain.Normalize(acct)
		}
		body, err := json.MarshalIndent(env, "", "  ")
		if err != nil {
			return nil, err
		}
		return &domain.ExportFile{Filename: name, ContentType: "application/json", Body: body}, nil
	}
}

// renderCSV writes the operational export: account and quota sections,
// then one row per ledger entry. It is not an import format.
func (m *Manager) renderCSV(acct *domain.Account, history []domain.UsageHistoryEntry) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	rows := [][]string{{"=== LUC ACCOUNT EXPORT ==="}, nil}

	if acct != nil {
		rows = append(rows,
			[]string{"--- Account Summary ---"},
			[]string{"User ID", acct.UserID},
			[]string{"Plan", acct.PlanName},
			[]string{"Created", acct.CreatedAt.UTC().Format(time.RFC3339)},
			[]string{"Billing Cycle Start", acct.BillingCycleStart.UTC().Format(time.RFC3339)},
			[]string{"Billing Cycle End", acct.BillingCycleEnd.UTC().Format(time.RFC3339)},
			[]string{"Total Overage Cost", "$" + strconv.FormatFloat(acct.TotalOverageCost, 'f', 2, 64)},
			nil,
			[]string{"--- Quota Summary ---"},
			[]string{"Service", "Used", "Limit", "Overage", "Overage Cost", "Percent Used"},
		)
		for _, svc := range m.engine.Summary(acct).Services {
			rows = append(rows, []string{
				svc.Name,
				formatNumber(svc.Used),
				formatNumber(svc.Limit),
				formatNumber(svc.Overage),
				"$" + strconv.FormatFloat(svc.OverageCost, 'f', 4, 64),
				strconv.FormatFloat(svc.PercentUsed, 'f', 1, 64) + "%",
			})
		}
	}

	rows = append(rows,
		nil,
		[]string{"--- Usage History ---"},
		[]string{"Date", "Service", "Type", "Amount", "Cost", "Description"},
	)
	for _, e := range history {
		rows = append(rows, []string{
			e.Timestamp.UTC().Format(time.RFC3339),
			string(e.Service),
			string(e.Type),
			formatNumber(e.Amount),
			"$" + strconv.FormatFloat(e.Cost, 'f', 4, 64),
			e.Description,
		})
	}

	if err := w.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Import replaces the caller's account and ledger with the envelope
// contents. The embedded user id is ignored. Nothing is written unless the
// whole envelope is valid.
func (m *Manager) Import(ctx context.Context, userID string, data []byte) (acct *domain.Account, err error) {
	ctx, end := m.startSpan(ctx, "Import")
	defer func() { end(err) }()

	userID, err = normalizeUserID(userID)
	if err != nil {
		return nil, err
	}
	env, err := domain.DecodeEnvelope(data)
	if err != nil {
		return nil, err
	}

	acct = env.Account
	acct.UserID = userID
	gating.RecomputeOverage(acct)
	if plan, ok := m.engine.Catalog().Plan(acct.PlanID); ok && acct.PlanName == "" {
		acct.PlanName = plan.Name
	}
	entries := make([]domain.UsageHistoryEntry, len(env.UsageHistory))
	for i, e := range env.UsageHistory {
		e.UserID = userID
		entries[i] = e
	}

	unlock, err := m.lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := m.store.Import(ctx, acct, entries); err != nil {
		m.snapshots.Invalidate(userID)
		if errors.Is(err, domain.ErrInvalidImport) {
			return nil, err
		}
		return nil, m.storageFailure(ctx, "import", userID, err)
	}
	m.snapshots.Set(acct)
	m.log.Info("account imported",
		zap.String("user_id", userID),
		zap.String("plan_id", acct.PlanID),
		zap.Int("entries", len(entries)),
	)
	return acct, nil
}
