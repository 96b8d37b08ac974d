package messenger

import (
	"github.com/smallbiznis/dripflow/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("providers.messenger",
	fx.Provide(NewFromConfig),
)

func NewFromConfig(cfg config.Config, log *zap.Logger) Provider {
	if cfg.Messenger.Token == "" {
		log.Warn("messenger token not configured, drip sends are no-ops")
		return NewNoOpProvider()
	}
	return NewChatwireProvider(Config{
		APIURL: cfg.Messenger.APIURL,
		Token:  cfg.Messenger.Token,
	}, log)
}
