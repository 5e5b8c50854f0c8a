package controllers_fx

import (
	"time"

	"clubpay/internal/api/controllers"
	"clubpay/internal/infra"
	"clubpay/pkg/utils"
	"go.uber.org/fx"
)

var Module = fx.Options(
	fx.Provide(controllers.NewWebhookController),
	fx.Provide(controllers.NewChargeController),
	fx.Provide(provideTokenSigner),
)

func provideTokenSigner(cfg infra.Config) (*utils.TokenSigner, error) {
	return utils.NewTokenSigner(cfg.JWTSecret, 12*time.Hour)
}
