package account

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/luc/internal/account/repository"
	"github.com/smallbiznis/luc/internal/account/service"
	"github.com/smallbiznis/luc/internal/config"
	"github.com/smallbiznis/luc/internal/migration"
	"github.com/smallbiznis/luc/pkg/db"
)

var Module = fx.Module("account",
	repository.Module,
	fx.Provide(
		service.NewManager,
		service.NewService,
		fx.Annotate(
			service.NewLogEventHandler,
			fx.ResultTags(`group:"luc.event_handlers"`),
		),
	),
)

// Storage adds the database connection and schema migrations when the
// configured backend is sql.
func Storage(cfg config.Config) fx.Option {
	if cfg.StoreBackend != config.StoreBackendSQL {
		return fx.Options()
	}
	return fx.Options(db.Module, migration.Module)
}
