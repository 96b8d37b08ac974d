package dispatch

import (
	"github.com/smallbiznis/dripflow/internal/dispatch/repository"
	"github.com/smallbiznis/dripflow/internal/dispatch/service"
	"go.uber.org/fx"
)

var Module = fx.Module("dispatch.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
