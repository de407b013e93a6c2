// Package app holds the fx options shared by every LUC binary.
package app

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/smallbiznis/luc/internal/account"
	"github.com/smallbiznis/luc/internal/cache"
	"github.com/smallbiznis/luc/internal/catalog"
	"github.com/smallbiznis/luc/internal/clock"
	"github.com/smallbiznis/luc/internal/config"
	"github.com/smallbiznis/luc/internal/gating"
	"github.com/smallbiznis/luc/internal/lock"
)

// Default snowflake nodes used when SNOWFLAKE_NODE is unset. Binaries that
// share a database write ledger rows concurrently and need distinct nodes;
// replicas of one binary must set SNOWFLAKE_NODE explicitly.
const (
	NodeAPI       int64 = 1
	NodeScheduler int64 = 2
	NodeCLI       int64 = 3
)

// Core wires configuration, the catalog, the engine and the account
// manager on the configured store backend. defaultNode is the binary's
// snowflake node when none is configured.
func Core(cfg config.Config, defaultNode int64) fx.Option {
	return fx.Options(
		config.Module(cfg),
		fx.Provide(func(cfg config.Config) (*snowflake.Node, error) {
			return RegisterSnowflake(cfg, defaultNode)
		}),
		clock.Module,
		catalog.Module,
		gating.Module,
		cache.Module,
		lock.Module,
		account.Storage(cfg),
		account.Module,
	)
}

func RegisterSnowflake(cfg config.Config, defaultNode int64) (*snowflake.Node, error) {
	id := SnowflakeNodeID(cfg, defaultNode)
	node, err := snowflake.NewNode(id)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", id, err)
	}
	return node, nil
}

// SnowflakeNodeID prefers the configured node; a negative value means unset.
func SnowflakeNodeID(cfg config.Config, defaultNode int64) int64 {
	if cfg.SnowflakeNode >= 0 {
		return cfg.SnowflakeNode
	}
	return defaultNode
}
