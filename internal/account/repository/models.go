package repository

import (
	"time"

	"gorm.io/datatypes"
)

// accountRow stores the account document plus the columns queried directly.
type accountRow struct {
	UserID          string         `gorm:"column:user_id;primaryKey;size:191"`
	PlanID          string         `gorm:"column:plan_id;size:64;index"`
	Document        datatypes.JSON `gorm:"column:document;not null"`
	BillingCycleEnd time.Time      `gorm:"column:billing_cycle_end;index"`
	CreatedAt       time.Time      `gorm:"column:created_at"`
	UpdatedAt       time.Time      `gorm:"column:updated_at"`
}

func (accountRow) TableName() string { return "luc_accounts" }

// entryRow is one ledger entry. Seq orders entries per user; entry ids
// are unique within one user's ledger.
type entryRow struct {
	Seq         int64     `gorm:"column:seq;primaryKey;autoIncrement:false;index:idx_luc_usage_history_user_seq,priority:2"`
	EntryID     string    `gorm:"column:entry_id;size:64;uniqueIndex:idx_luc_usage_history_user_entry,priority:2"`
	UserID      string    `gorm:"column:user_id;size:191;index:idx_luc_usage_history_user_seq,priority:1;uniqueIndex:idx_luc_usage_history_user_entry,priority:1"`
	Service     string    `gorm:"column:service;size:64"`
	Type        string    `gorm:"column:type;size:16"`
	Amount      float64   `gorm:"column:amount"`
	Cost        float64   `gorm:"column:cost"`
	Description string    `gorm:"column:description"`
	OccurredAt  time.Time `gorm:"column:occurred_at"`
}

func (entryRow) TableName() string { return "luc_usage_history" }

// Models lists the tables the SQL store needs.
func Models() []any {
	return []any{&accountRow{}, &entryRow{}}
}
