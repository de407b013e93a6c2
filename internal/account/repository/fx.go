package repository

import (
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/luc/internal/account/domain"
	"github.com/smallbiznis/luc/internal/config"
)

var Module = fx.Module("account.repository",
	fx.Provide(Provide),
)

type Params struct {
	fx.In

	Config config.Config
	Log    *zap.Logger
	DB     *gorm.DB        `optional:"true"`
	Node   *snowflake.Node `optional:"true"`
}

// Provide selects the store backend named by the config.
func Provide(p Params) (domain.Store, error) {
	log := p.Log.Named("account.repository")
	switch p.Config.StoreBackend {
	case config.StoreBackendFile:
		store, err := NewFileStore(p.Config.StoreFilePath, p.Config.LedgerMaxEntries)
		if err != nil {
			return nil, err
		}
		log.Info("using file store", zap.String("path", p.Config.StoreFilePath))
		return store, nil
	case config.StoreBackendSQL:
		if p.DB == nil {
			return nil, errors.New("sql store requires a database connection")
		}
		if p.Node == nil {
			return nil, errors.New("sql store requires a snowflake node")
		}
		log.Info("using sql store", zap.String("dialect", p.DB.Dialector.Name()))
		return NewSQLStore(p.DB, p.Node, p.Config.LedgerMaxEntries), nil
	default:
		return nil, fmt.Errorf("unsupported store backend %q", p.Config.StoreBackend)
	}
}
