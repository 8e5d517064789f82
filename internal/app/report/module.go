package report

import (
	"context"

	"go.uber.org/fx"
)

// Module provides the crash reporter and ties it to the application lifecycle
var Module = fx.Module("report",
	fx.Provide(NewReporter),
	fx.Invoke(func(lc fx.Lifecycle, r Reporter) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				r.Start()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				r.Stop()
				return nil
			},
		})
	}),
)
