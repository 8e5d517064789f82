package health

import "go.uber.org/fx"

// Module provides the health checker
var Module = fx.Options(
	fx.Provide(NewChecker),
)
