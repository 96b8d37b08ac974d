package catalog

import (
	"github.com/smallbiznis/dripflow/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("catalog",
	fx.Provide(provide),
)

func provide(cfg config.Config, log *zap.Logger) (*Catalog, error) {
	c, err := Load(cfg.FunnelFile)
	if err != nil {
		return nil, err
	}
	log.Info("funnel catalog loaded",
		zap.String("file", cfg.FunnelFile),
		zap.Int("tiers", len(c.Tiers)),
		zap.Int("sinks", len(c.Sinks)),
	)
	return c, nil
}
