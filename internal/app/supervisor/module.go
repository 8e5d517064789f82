package supervisor

import "go.uber.org/fx"

// Module provides the process supervisor
var Module = fx.Options(
	fx.Provide(NewSupervisor),
)
