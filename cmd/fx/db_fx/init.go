package db_fx

import (
	"clubpay/internal/infra"
	"clubpay/internal/repositories"
	"go.uber.org/fx"
)

var Module = fx.Options(
	fx.Provide(infra.InitPostgresql),
	fx.Invoke(infra.ClosePostgresqlOnStop),
	fx.Provide(repositories.NewTenantDB),
	fx.Provide(repositories.NewTenantRepository),
)
