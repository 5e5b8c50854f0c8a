package billing_fx

import (
	"clubpay/internal/infra"
	"clubpay/internal/services"
	mem "clubpay/pkg/memcache"
	"go.uber.org/fx"
)

var Module = fx.Options(
	fx.Provide(providePIIDecrypter),
	fx.Provide(func() mem.TenantRefStore { return mem.NewTenantRefs() }),
	fx.Provide(services.NewDispatchService),
	fx.Provide(services.NewChargeService),
	fx.Provide(services.NewReconcileService),
	fx.Provide(services.NewWebhookService),
)

// A missing key is fatal: members cannot be billed without their documents.
func providePIIDecrypter(cfg infra.Config) (services.PIIDecrypter, error) {
	crypto, err := infra.NewCryptoManager(cfg.PIISecret)
	if err != nil {
		return nil, err
	}
	return crypto, nil
}
