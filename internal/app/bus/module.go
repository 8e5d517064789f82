package bus

import (
	"context"

	"go.uber.org/fx"

	"tether/internal/config"
	"tether/internal/config/logger"
)

// Module provides bus for dependency injection
var Module = fx.Module("bus",
	fx.Provide(func(cfg *config.Config, log logger.Logger) Bus {
		return New(cfg, log.WithComponent("BUS"))
	}),
	fx.Invoke(func(lc fx.Lifecycle, b Bus) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				b.Close()
				return nil
			},
		})
	}),
)
