package tracking

import (
	"github.com/smallbiznis/dripflow/internal/catalog"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("providers.tracking",
	fx.Provide(NewSinks),
)

// NewSinks builds one HTTP sink per enabled tracker in the funnel catalog.
func NewSinks(cat *catalog.Catalog, log *zap.Logger) []Sink {
	enabled := cat.EnabledSinks()
	sinks := make([]Sink, 0, len(enabled))
	for _, cfg := range enabled {
		sinks = append(sinks, NewHTTPSink(cfg, log))
	}
	return sinks
}
