package relay

import "go.uber.org/fx"

// Module provides the output relay
var Module = fx.Options(
	fx.Provide(NewRelay),
)
