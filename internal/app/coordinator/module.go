package coordinator

import (
	"context"

	"go.uber.org/fx"
)

// Module provides the coordinator and makes application exit a shutdown trigger
var Module = fx.Module("coordinator",
	fx.Provide(NewCoordinator),
	fx.Invoke(func(lc fx.Lifecycle, c Coordinator) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return c.Shutdown(ctx, TriggerExit)
			},
		})
	}),
)
