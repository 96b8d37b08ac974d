package main

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dripflow/internal/audit"
	"github.com/smallbiznis/dripflow/internal/catalog"
	"github.com/smallbiznis/dripflow/internal/clock"
	"github.com/smallbiznis/dripflow/internal/config"
	"github.com/smallbiznis/dripflow/internal/dispatch"
	"github.com/smallbiznis/dripflow/internal/drip"
	"github.com/smallbiznis/dripflow/internal/migration"
	"github.com/smallbiznis/dripflow/internal/observability"
	"github.com/smallbiznis/dripflow/internal/payment"
	"github.com/smallbiznis/dripflow/internal/providers"
	"github.com/smallbiznis/dripflow/internal/ratelimit"
	"github.com/smallbiznis/dripflow/internal/server"
	"github.com/smallbiznis/dripflow/internal/subscriber"
	"github.com/smallbiznis/dripflow/pkg/db"
	"go.uber.org/fx"
)

// The monolith: webhook ingestion, subscriber API, and the drip scheduler in
// one process. Split deployments use apps/api and apps/scheduler instead.
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
		ratelimit.Module,
		drip.Module,

		server.Module,
		fx.Invoke(StartScheduler),
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

func StartScheduler(lc fx.Lifecycle, s *drip.Scheduler) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go s.Start(ctx)
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-s.Done():
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}
