package config_fx

import (
	"clubpay/internal/infra"
	"go.uber.org/fx"
)

var Module = fx.Provide(
	infra.LoadConfig,
	infra.NewLogger,
)
