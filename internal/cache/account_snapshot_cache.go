package cache

import (
	"strings"

	"github.com/smallbiznis/luc/internal/account/domain"
	"github.com/smallbiznis/luc/internal/config"
)

// AccountSnapshotCache holds recent account reads for display-only paths.
// Entries are copies, so callers may mutate what they get.
type AccountSnapshotCache interface {
	Get(userID string) (*domain.Account, bool)
	Set(acct *domain.Account)
	Invalidate(userID string)
}

type accountSnapshotCache struct {
	accounts Cache[string, *domain.Account]
}

func NewAccountSnapshotCache(cfg config.Config) AccountSnapshotCache {
	if cfg.SnapshotTTL <= 0 {
		return noopSnapshotCache{}
	}
	return &accountSnapshotCache{
		accounts: NewLRU[string, *domain.Account](cfg.SnapshotSize, cfg.SnapshotTTL),
	}
}

func (c *accountSnapshotCache) Get(userID string) (*domain.Account, bool) {
	acct, ok := c.accounts.Get(cacheKey(userID))
	if !ok {
		return nil, false
	}
	return acct.Clone(), true
}

func (c *accountSnapshotCache) Set(acct *domain.Account) {
	if acct == nil || acct.UserID == "" {
		return
	}
	c.accounts.Set(cacheKey(acct.UserID), acct.Clone())
}

func (c *accountSnapshotCache) Invalidate(userID string) {
	c.accounts.Delete(cacheKey(userID))
}

type noopSnapshotCache struct{}

func (noopSnapshotCache) Get(string) (*domain.Account, bool) { return nil, false }
func (noopSnapshotCache) Set(*domain.Account)                {}
func (noopSnapshotCache) Invalidate(string)                  {}

func cacheKey(userID string) string {
	return strings.TrimSpace(userID)
}
