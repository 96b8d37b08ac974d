package audit

import (
	"github.com/smallbiznis/dripflow/internal/audit/repository"
	"github.com/smallbiznis/dripflow/internal/audit/service"
	"go.uber.org/fx"
)

// Module wires the audit trail store and the recording service. Both webhook
// ingestion and the drip scheduler depend on it for funnel event history.
var Module = fx.Module("audit.service",
	fx.Provide(
		repository.Provide,
		service.NewService,
	),
)
