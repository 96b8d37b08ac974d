package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dripflow/internal/audit"
	"github.com/smallbiznis/dripflow/internal/catalog"
	"github.com/smallbiznis/dripflow/internal/clock"
	"github.com/smallbiznis/dripflow/internal/config"
	"github.com/smallbiznis/dripflow/internal/dispatch"
	"github.com/smallbiznis/dripflow/internal/migration"
	"github.com/smallbiznis/dripflow/internal/observability"
	"github.com/smallbiznis/dripflow/internal/payment"
	"github.com/smallbiznis/dripflow/internal/providers"
	"github.com/smallbiznis/dripflow/internal/server"
	"github.com/smallbiznis/dripflow/internal/subscriber"
	"github.com/smallbiznis/dripflow/pkg/db"
	"go.uber.org/fx"
)

// API-only deployment: webhook ingestion and the subscriber endpoints. The
// drip scheduler runs separately in apps/scheduler.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		catalog.Module,

		audit.Module,
		subscriber.Module,
		providers.Module,
		dispatch.Module,
		payment.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
