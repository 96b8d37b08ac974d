package drip

import (
	dispatchdomain "github.com/smallbiznis/dripflow/internal/dispatch/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("drip",
	fx.Provide(NewEngine),
	fx.Provide(func(svc dispatchdomain.Service) DispatchRunner { return svc }),
	fx.Provide(NewScheduler),
)
