package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/luc/internal/account/domain"
	"github.com/smallbiznis/luc/internal/catalog"
	"github.com/smallbiznis/luc/internal/config"
)

func TestLRUEvictsOldest(t *testing.T) {
	c := NewLRU[string, int](2, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	_, ok := c.Get("a")
	assert.False(t, ok)
	v, ok := c.Get("c")
	require.True(t, ok)
	assert.Equal(t, 3, v)
	assert.Equal(t, 2, c.Len())
}

func TestLRUExpires(t *testing.T) {
	c := NewLRU[string, int](2, 20*time.Millisecond)
	c.Set("a", 1)
	time.Sleep(60 * time.Millisecond)
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestSnapshotCacheReturnsCopies(t *testing.T) {
	c := NewAccountSnapshotCache(config.Config{SnapshotTTL: time.Minute, SnapshotSize: 8})
	acct := &domain.Account{
		UserID: "user-1",
		Quotas: map[catalog.ServiceKey]domain.QuotaRecord{catalog.APICalls: {Limit: 10, Used: 1}},
	}
	c.Set(acct)
	acct.Quotas[catalog.APICalls] = domain.QuotaRecord{Limit: 10, Used: 9}

	got, ok := c.Get("user-1")
	require.True(t, ok)
	assert.Equal(t, 1.0, got.Quotas[catalog.APICalls].Used)

	got.Quotas[catalog.APICalls] = domain.QuotaRecord{}
	again, _ := c.Get("user-1")
	assert.Equal(t, 1.0, again.Quotas[catalog.APICalls].Used)

	c.Invalidate("user-1")
	_, ok = c.Get("user-1")
	assert.False(t, ok)
}

func TestSnapshotCacheDisabled(t *testing.T) {
	c := NewAccountSnapshotCache(config.Config{})
	c.Set(&domain.Account{UserID: "user-1"})
	_, ok := c.Get("user-1")
	assert.False(t, ok)
}
