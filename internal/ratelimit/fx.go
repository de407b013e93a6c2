package ratelimit

import (
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/smallbiznis/luc/internal/config"
)

var Module = fx.Module("rate.limit",
	fx.Provide(provide),
)

type Params struct {
	fx.In

	Config config.Config
	Client *redis.Client `optional:"true"`
}

func provide(p Params) (*AccountLimiter, error) {
	return NewAccountLimiter(p.Config, p.Client)
}
