package gateway_fx

import (
	"clubpay/internal/gateway"
	"clubpay/internal/gateway/asaas"
	"clubpay/internal/gateway/stripe"
	"clubpay/internal/infra"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

var Module = fx.Provide(provideRegistry)

// provideRegistry registers every provider that has credentials. Asaas is
// registered first, so it wins PIX and boleto.
func provideRegistry(cfg infra.Config, logger zerolog.Logger) (*gateway.Registry, error) {
	var adapters []gateway.Adapter
	if cfg.AsaasAPIKey != "" {
		adapters = append(adapters, asaas.New(asaas.Config{
			BaseURL:      cfg.AsaasBaseURL,
			APIKey:       cfg.AsaasAPIKey,
			WebhookToken: cfg.AsaasWebhookToken,
			Timeout:      cfg.GatewayTimeout,
		}))
	}
	if cfg.StripeSecretKey != "" {
		adapters = append(adapters, stripe.New(stripe.Config{
			SecretKey:     cfg.StripeSecretKey,
			WebhookSecret: cfg.StripeWebhookSecret,
			Currency:      cfg.StripeCurrency,
			Timeout:       cfg.GatewayTimeout,
		}))
	}

	registry, err := gateway.NewRegistry(adapters...)
	if err != nil {
		return nil, err
	}
	if len(adapters) == 0 {
		logger.Warn().Msg("no payment gateway configured; only offline methods can be dispatched")
	}
	logger.Info().Strs("gateways", registry.Names()).Msg("payment gateways registered")
	return registry, nil
}
