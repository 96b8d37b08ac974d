package subscriber

import (
	"github.com/smallbiznis/dripflow/internal/subscriber/repository"
	"github.com/smallbiznis/dripflow/internal/subscriber/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subscriber.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
