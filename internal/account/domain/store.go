package domain

import (
	"context"
	"time"
)

// DefaultLedgerCap bounds the ledger per account. Oldest entries are evicted first.
const DefaultLedgerCap = 1000

// Store is durable keyed storage for accounts plus the per-account ledger.
// Failures other than ErrAccountNotFound are reported as *StorageError.
type Store interface {
	Get(ctx context.Context, userID string) (*Account, error)
	// Create inserts acct unless an account with the same user id exists.
	// It returns the stored account and whether it was created.
	Create(ctx context.Context, acct *Account) (*Account, bool, error)
	Save(ctx context.Context, acct *Account) error
	// Commit persists acct and appends entries atomically.
	Commit(ctx context.Context, acct *Account, entries ...UsageHistoryEntry) error
	Delete(ctx context.Context, userID string) error
	List(ctx context.Context, filter ListFilter) ([]Account, error)
	ListDue(ctx context.Context, before time.Time, limit int) ([]string, error)
	AppendEntry(ctx context.Context, entry UsageHistoryEntry) error
	// History returns entries newest first.
	History(ctx context.Context, userID string, limit int) ([]UsageHistoryEntry, error)
	// Import replaces the account and its ledger atomically. Entries are newest first.
	Import(ctx context.Context, acct *Account, entries []UsageHistoryEntry) error
}
