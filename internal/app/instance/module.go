package instance

import "go.uber.org/fx"

// Module provides the instance locker
var Module = fx.Options(
	fx.Provide(NewLocker),
)
