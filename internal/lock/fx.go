package lock

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/luc/internal/config"
)

var Module = fx.Module("lock",
	fx.Provide(NewClient),
	fx.Provide(provide),
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Log       *zap.Logger
	Client    *redis.Client `optional:"true"`
}

func provide(p Params) Locker {
	log := p.Log.Named("lock")
	if p.Client == nil {
		log.Info("using in-process account locks")
		return NewKeyed()
	}
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return p.Client.Close()
		},
	})
	log.Info("using redis account locks", zap.Duration("ttl", p.Config.LockTTL))
	return NewRedis(p.Client, p.Config.LockTTL, log)
}
