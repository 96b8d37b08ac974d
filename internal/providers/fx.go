package providers

import (
	"github.com/smallbiznis/dripflow/internal/providers/messenger"
	"github.com/smallbiznis/dripflow/internal/providers/tracking"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	messenger.Module,
	tracking.Module,
)
