package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/smallbiznis/luc/internal/account/domain"
	"github.com/smallbiznis/luc/internal/catalog"
	"github.com/smallbiznis/luc/pkg/db"
)

// SQLStore keeps accounts as JSON documents and the ledger as rows.
type SQLStore struct {
	db        *gorm.DB
	node      *snowflake.Node
	ledgerCap int
}

func NewSQLStore(conn *gorm.DB, node *snowflake.Node, ledgerCap int) *SQLStore {
	if ledgerCap <= 0 {
		ledgerCap = domain.DefaultLedgerCap
	}
	return &SQLStore{db: conn, node: node, ledgerCap: ledgerCap}
}

func (s *SQLStore) AutoMigrate(ctx context.Context) error {
	return domain.WrapStorage("migrate", s.db.WithContext(ctx).AutoMigrate(Models()...))
}

func (s *SQLStore) Get(ctx context.Context, userID string) (*domain.Account, error) {
	row, err := findAccount(ctx, s.db, userID)
	if err != nil {
		return nil, domain.WrapStorage("get", err)
	}
	if row == nil {
		return nil, domain.ErrAccountNotFound
	}
	acct, err := domain.UnmarshalAccount(row.Document)
	if err != nil {
		return nil, domain.WrapStorage("decode", err)
	}
	return acct, nil
}

func (s *SQLStore) Create(ctx context.Context, acct *domain.Account) (*domain.Account, bool, error) {
	row, err := toRow(acct)
	if err != nil {
		return nil, false, domain.WrapStorage("encode", err)
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(row)
	if res.Error != nil {
		return nil, false, domain.WrapStorage("create", res.Error)
	}
	if res.RowsAffected == 0 {
		existing, err := s.Get(ctx, acct.UserID)
		return existing, false, err
	}
	return domain.Normalize(acct), true, nil
}

func (s *SQLStore) Save(ctx context.Context, acct *domain.Account) error {
	return domain.WrapStorage("save", saveAccount(ctx, s.db, acct))
}

func (s *SQLStore) Commit(ctx context.Context, acct *domain.Account, entries ...domain.UsageHistoryEntry) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := saveAccount(ctx, tx, acct); err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		if err := s.insertEntries(ctx, tx, entries); err != nil {
			return err
		}
		return s.trim(ctx, tx, acct.UserID)
	})
	return domain.WrapStorage("commit", err)
}

func (s *SQLStore) Delete(ctx context.Context, userID string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(`DELETE FROM luc_usage_history WHERE user_id = ?`, userID).Error; err != nil {
			return err
		}
		res := tx.Exec(`DELETE FROM luc_accounts WHERE user_id = ?`, userID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrAccountNotFound
		}
		return nil
	})
	return domain.WrapStorage("delete", err)
}

func (s *SQLStore) List(ctx context.Context, filter domain.ListFilter) ([]domain.Account, error) {
	var rows []accountRow
	stmt := s.db.WithContext(ctx).Model(&accountRow{})
	if filter.PlanID != "" {
		stmt = stmt.Where("plan_id = ?", filter.PlanID)
	}
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		stmt = stmt.Offset(filter.Offset)
	}
	if err := stmt.Order("user_id asc").Find(&rows).Error; err != nil {
		return nil, domain.WrapStorage("list", err)
	}

	out := make([]domain.Account, 0, len(rows))
	for _, row := range rows {
		acct, err := domain.UnmarshalAccount(row.Document)
		if err != nil {
			return nil, domain.WrapStorage("decode", err)
		}
		out = append(out, *acct)
	}
	return out, nil
}

func (s *SQLStore) ListDue(ctx context.Context, before time.Time, limit int) ([]string, error) {
	var ids []string
	stmt := s.db.WithContext(ctx).Model(&accountRow{}).
		Where("billing_cycle_end <= ?", before.UTC()).
		Order("billing_cycle_end asc, user_id asc")
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}
	if err := stmt.Pluck("user_id", &ids).Error; err != nil {
		return nil, domain.WrapStorage("list_due", err)
	}
	return ids, nil
}

func (s *SQLStore) AppendEntry(ctx context.Context, entry domain.UsageHistoryEntry) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.insertEntries(ctx, tx, []domain.UsageHistoryEntry{entry}); err != nil {
			return err
		}
		return s.trim(ctx, tx, entry.UserID)
	})
	return domain.WrapStorage("append_entry", err)
}

func (s *SQLStore) History(ctx context.Context, userID string, limit int) ([]domain.UsageHistoryEntry, error) {
	if limit <= 0 || limit > s.ledgerCap {
		limit = s.ledgerCap
	}
	var rows []entryRow
	err := s.db.WithContext(ctx).Raw(
		`SELECT seq, entry_id, user_id, service, type, amount, cost, description, occurred_at
		 FROM luc_usage_history WHERE user_id = ?
		 ORDER BY seq DESC LIMIT ?`,
		userID,
		limit,
	).Scan(&rows).Error
	if err != nil {
		return nil, domain.WrapStorage("history", err)
	}

	out := make([]domain.UsageHistoryEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromEntryRow(row))
	}
	return out, nil
}

func (s *SQLStore) Import(ctx context.Context, acct *domain.Account, entries []domain.UsageHistoryEntry) error {
	row, err := toRow(acct)
	if err != nil {
		return domain.WrapStorage("encode", err)
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(`DELETE FROM luc_usage_history WHERE user_id = ?`, acct.UserID).Error; err != nil {
			return err
		}
		if err := tx.Exec(`DELETE FROM luc_accounts WHERE user_id = ?`, acct.UserID).Error; err != nil {
			return err
		}
		if err := tx.Create(row).Error; err != nil {
			return err
		}
		if len(entries) > s.ledgerCap {
			entries = entries[:s.ledgerCap]
		}
		// Insert oldest first so seq order matches ledger order.
		ordered := make([]domain.UsageHistoryEntry, 0, len(entries))
		for i := len(entries) - 1; i >= 0; i-- {
			e := entries[i]
			e.UserID = acct.UserID
			ordered = append(ordered, e)
		}
		if err := s.insertEntries(ctx, tx, ordered); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return fmt.Errorf("%w: duplicate usage history entry id", domain.ErrInvalidImport)
			}
			return err
		}
		return nil
	})
	return domain.WrapStorage("import", err)
}

func (s *SQLStore) insertEntries(ctx context.Context, tx *gorm.DB, entries []domain.UsageHistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([]entryRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, entryRow{
			Seq:         s.node.Generate().Int64(),
			EntryID:     e.ID,
			UserID:      e.UserID,
			Service:     string(e.Service),
			Type:        string(e.Type),
			Amount:      e.Amount,
			Cost:        e.Cost,
			Description: e.Description,
			OccurredAt:  e.Timestamp.UTC(),
		})
	}
	return tx.WithContext(ctx).CreateInBatches(rows, 200).Error
}

// trim evicts the oldest entries beyond the ledger cap.
func (s *SQLStore) trim(ctx context.Context, tx *gorm.DB, userID string) error {
	var cutoff []int64
	err := tx.WithContext(ctx).Raw(
		`SELECT seq FROM luc_usage_history WHERE user_id = ?
		 ORDER BY seq DESC LIMIT 1 OFFSET ?`,
		userID,
		s.ledgerCap-1,
	).Scan(&cutoff).Error
	if err != nil {
		return err
	}
	if len(cutoff) == 0 {
		return nil
	}
	return tx.WithContext(ctx).Exec(
		`DELETE FROM luc_usage_history WHERE user_id = ? AND seq < ?`,
		userID,
		cutoff[0],
	).Error
}

func findAccount(ctx context.Context, conn *gorm.DB, userID string) (*accountRow, error) {
	var row accountRow
	err := conn.WithContext(ctx).Raw(
		`SELECT user_id, plan_id, document, billing_cycle_end, created_at, updated_at
		 FROM luc_accounts WHERE user_id = ?`,
		userID,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.UserID == "" {
		return nil, nil
	}
	return &row, nil
}

func saveAccount(ctx context.Context, conn *gorm.DB, acct *domain.Account) error {
	row, err := toRow(acct)
	if err != nil {
		return err
	}
	res := conn.WithContext(ctx).Exec(
		`UPDATE luc_accounts SET plan_id = ?, document = ?, billing_cycle_end = ?, updated_at = ?
		 WHERE user_id = ?`,
		row.PlanID,
		row.Document,
		row.BillingCycleEnd,
		row.UpdatedAt,
		row.UserID,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	// Some drivers report zero rows when nothing changed.
	existing, err := findAccount(ctx, conn, acct.UserID)
	if err != nil {
		return err
	}
	if existing == nil {
		return domain.ErrAccountNotFound
	}
	return nil
}

func toRow(acct *domain.Account) (*accountRow, error) {
	doc, err := domain.MarshalAccount(acct)
	if err != nil {
		return nil, err
	}
	return &accountRow{
		UserID:          acct.UserID,
		PlanID:          acct.PlanID,
		Document:        doc,
		BillingCycleEnd: acct.BillingCycleEnd.UTC(),
		CreatedAt:       acct.CreatedAt.UTC(),
		UpdatedAt:       acct.UpdatedAt.UTC(),
	}, nil
}

func fromEntryRow(row entryRow) domain.UsageHistoryEntry {
	return domain.UsageHistoryEntry{
		ID:          row.EntryID,
		UserID:      row.UserID,
		Service:     catalog.ServiceKey(row.Service),
		Amount:      row.Amount,
		Type:        domain.EntryType(row.Type),
		Cost:        row.Cost,
		Timestamp:   row.OccurredAt.UTC(),
		Description: row.Description,
	}
}
