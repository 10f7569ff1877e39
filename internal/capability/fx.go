package capability

import "go.uber.org/fx"

var Module = fx.Module("capability",
	fx.Provide(DefaultRegistry),
)
