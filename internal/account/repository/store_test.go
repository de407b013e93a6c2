package repository

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/smallbiznis/luc/internal/account/domain"
	"github.com/smallbiznis/luc/internal/catalog"
	"github.com/smallbiznis/luc/pkg/db"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newSQLStore(t *testing.T, ledgerCap int) domain.Store {
	t.Helper()
	conn, err := db.NewTest()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(conn) })

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	store := NewSQLStore(conn, node, ledgerCap)
	require.NoError(t, store.AutoMigrate(context.Background()))
	return store
}

func newFileStore(t *testing.T, ledgerCap int) domain.Store {
	t.Helper()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "luc.json"), ledgerCap)
	require.NoError(t, err)
	return store
}

func testAccount(userID string, end time.Time) *domain.Account {
	return &domain.Account{
		UserID:   userID,
		PlanID:   "starter",
		PlanName: "Starter",
		Quotas: map[catalog.ServiceKey]domain.QuotaRecord{
			catalog.APICalls:      {Limit: 10000, Used: 10500, Overage: 500, LastUpdated: base},
			catalog.BraveSearches: {Limit: 1000, Used: 12.5, LastUpdated: base},
		},
		TotalOverageCost:  0.05,
		BillingCycleStart: end.AddDate(0, -1, 0),
		BillingCycleEnd:   end,
		CreatedAt:         base,
		UpdatedAt:         base,
	}
}

func testEntry(userID string, n int) domain.UsageHistoryEntry {
	return domain.UsageHistoryEntry{
		ID:          fmt.Sprintf("entry-%04d", n),
		UserID:      userID,
		Service:     catalog.APICalls,
		Amount:      float64(n),
		Type:        domain.EntryTypeDebit,
		Cost:        0.001 * float64(n),
		Timestamp:   base.Add(time.Duration(n) * time.Minute),
		Description: "api_calls usage",
	}
}

func forEachStore(t *testing.T, ledgerCap int, fn func(t *testing.T, store domain.Store)) {
	t.Run("sql", func(t *testing.T) { fn(t, newSQLStore(t, ledgerCap)) })
	t.Run("file", func(t *testing.T) { fn(t, newFileStore(t, ledgerCap)) })
}

func TestStoreCreateAndGet(t *testing.T) {
	forEachStore(t, 10, func(t *testing.T, store domain.Store) {
		ctx := context.Background()
		acct := testAccount("user-1", base.AddDate(0, 1, 0))

		stored, created, err := store.Create(ctx, acct)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, acct, stored)

		got, err := store.Get(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, acct, got)

		other := testAccount("user-1", base)
		other.PlanID = "free"
		stored, created, err = store.Create(ctx, other)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, "starter", stored.PlanID)
	})
}

func TestStoreGetMissing(t *testing.T) {
	forEachStore(t, 10, func(t *testing.T, store domain.Store) {
		_, err := store.Get(context.Background(), "nobody")
		assert.ErrorIs(t, err, domain.ErrAccountNotFound)

		err = store.Save(context.Background(), testAccount("nobody", base))
		assert.ErrorIs(t, err, domain.ErrAccountNotFound)

		err = store.Delete(context.Background(), "nobody")
		assert.ErrorIs(t, err, domain.ErrAccountNotFound)
	})
}

func TestStoreCommitTrimsLedger(t *testing.T) {
	forEachStore(t, 3, func(t *testing.T, store domain.Store) {
		ctx := context.Background()
		acct := testAccount("user-1", base.AddDate(0, 1, 0))
		_, _, err := store.Create(ctx, acct)
		require.NoError(t, err)

		for i := 1; i <= 5; i++ {
			acct.TotalOverageCost = float64(i)
			require.NoError(t, store.Commit(ctx, acct, testEntry("user-1", i)))
		}

		got, err := store.Get(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, 5.0, got.TotalOverageCost)

		history, err := store.History(ctx, "user-1", 0)
		require.NoError(t, err)
		require.Len(t, history, 3)
		assert.Equal(t, "entry-0005", history[0].ID)
		assert.Equal(t, "entry-0003", history[2].ID)

		history, err = store.History(ctx, "user-1", 1)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, testEntry("user-1", 5), history[0])
	})
}

func TestStoreAppendEntryIndependentOfAccount(t *testing.T) {
	forEachStore(t, 10, func(t *testing.T, store domain.Store) {
		ctx := context.Background()
		require.NoError(t, store.AppendEntry(ctx, testEntry("user-2", 1)))
		require.NoError(t, store.AppendEntry(ctx, testEntry("user-2", 2)))

		history, err := store.History(ctx, "user-2", 10)
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, "entry-0002", history[0].ID)

		_, err = store.Get(ctx, "user-2")
		assert.ErrorIs(t, err, domain.ErrAccountNotFound)
	})
}

func TestStoreListAndDue(t *testing.T) {
	forEachStore(t, 10, func(t *testing.T, store domain.Store) {
		ctx := context.Background()
		for i, end := range []time.Time{base.Add(-time.Hour), base.Add(time.Hour), base.Add(-2 * time.Hour)} {
			acct := testAccount(fmt.Sprintf("user-%d", i), end)
			if i == 1 {
				acct.PlanID = "free"
			}
			_, _, err := store.Create(ctx, acct)
			require.NoError(t, err)
		}

		all, err := store.List(ctx, domain.ListFilter{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "user-0", all[0].UserID)

		free, err := store.List(ctx, domain.ListFilter{PlanID: "free"})
		require.NoError(t, err)
		require.Len(t, free, 1)
		assert.Equal(t, "user-1", free[0].UserID)

		paged, err := store.List(ctx, domain.ListFilter{Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, paged, 1)
		assert.Equal(t, "user-1", paged[0].UserID)

		due, err := store.ListDue(ctx, base, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"user-2", "user-0"}, due)

		due, err = store.ListDue(ctx, base, 1)
		require.NoError(t, err)
		assert.Equal(t, []string{"user-2"}, due)
	})
}

func TestStoreDeleteRemovesHistory(t *testing.T) {
	forEachStore(t, 10, func(t *testing.T, store domain.Store) {
		ctx := context.Background()
		acct := testAccount("user-1", base)
		_, _, err := store.Create(ctx, acct)
		require.NoError(t, err)
		require.NoError(t, store.Commit(ctx, acct, testEntry("user-1", 1)))

		require.NoError(t, store.Delete(ctx, "user-1"))
		_, err = store.Get(ctx, "user-1")
		assert.ErrorIs(t, err, domain.ErrAccountNotFound)

		history, err := store.History(ctx, "user-1", 0)
		require.NoError(t, err)
		assert.Empty(t, history)
	})
}

func TestStoreImportReplaces(t *testing.T) {
	forEachStore(t, 2, func(t *testing.T, store domain.Store) {
		ctx := context.Background()
		acct := testAccount("user-1", base)
		_, _, err := store.Create(ctx, acct)
		require.NoError(t, err)
		require.NoError(t, store.Commit(ctx, acct, testEntry("user-1", 1)))

		imported := testAccount("user-1", base.AddDate(0, 2, 0))
		imported.PlanID = "professional"
		// Newest first, as exported; the oldest is beyond the cap.
		entries := []domain.UsageHistoryEntry{testEntry("x", 9), testEntry("x", 8), testEntry("x", 7)}
		require.NoError(t, store.Import(ctx, imported, entries))

		got, err := store.Get(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, "professional", got.PlanID)

		history, err := store.History(ctx, "user-1", 0)
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, "entry-0009", history[0].ID)
		assert.Equal(t, "entry-0008", history[1].ID)
		assert.Equal(t, "user-1", history[0].UserID)
	})
}

func TestStoreImportRejectsDuplicateEntryIDs(t *testing.T) {
	forEachStore(t, 10, func(t *testing.T, store domain.Store) {
		ctx := context.Background()
		acct := testAccount("user-1", base)
		_, _, err := store.Create(ctx, acct)
		require.NoError(t, err)
		require.NoError(t, store.Commit(ctx, acct, testEntry("user-1", 1)))

		imported := testAccount("user-1", base.AddDate(0, 2, 0))
		imported.PlanID = "professional"
		entries := []domain.UsageHistoryEntry{testEntry("x", 3), testEntry("x", 2), testEntry("x", 3)}
		err = store.Import(ctx, imported, entries)
		if !errors.Is(err, domain.ErrInvalidImport) {
			t.Fatalf("expected ErrInvalidImport for a repeated entry id, got %v", err)
		}
		assert.NotErrorIs(t, err, domain.ErrStorage)

		got, err := store.Get(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, "starter", got.PlanID)
		history, err := store.History(ctx, "user-1", 0)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, "entry-0001", history[0].ID)
	})
}

func TestFileStoreReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "luc.json")
	store, err := NewFileStore(path, 10)
	require.NoError(t, err)

	ctx := context.Background()
	acct := testAccount("user-1", base)
	_, _, err = store.Create(ctx, acct)
	require.NoError(t, err)
	require.NoError(t, store.Commit(ctx, acct, testEntry("user-1", 1), testEntry("user-1", 2)))

	reopened, err := NewFileStore(path, 10)
	require.NoError(t, err)
	got, err := reopened.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, acct, got)

	history, err := reopened.History(ctx, "user-1", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "entry-0002", history[0].ID)
}

func TestSQLStoreWrapsDriverErrors(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	conn, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	store := NewSQLStore(conn, node, 10)

	mock.ExpectQuery("SELECT user_id, plan_id, document").
		WillReturnError(errors.New("connection reset by peer"))

	_, err = store.Get(context.Background(), "user-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStorage)
	assert.NotErrorIs(t, err, domain.ErrAccountNotFound)

	var storageErr *domain.StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, "get", storageErr.Op)
	assert.NoError(t, mock.ExpectationsWereMet())
}
