package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"clubpay/cmd/fx/billing_fx"
	"clubpay/cmd/fx/config_fx"
	"clubpay/cmd/fx/controllers_fx"
	"clubpay/cmd/fx/db_fx"
	"clubpay/cmd/fx/gateway_fx"
	"clubpay/cmd/fx/jobs_fx"
	"clubpay/cmd/fx/queue_fx"
	"clubpay/internal/api/controllers"
	"clubpay/internal/infra"
	"clubpay/pkg/middleware"
	"clubpay/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config_fx.Module,
		db_fx.Module,
		queue_fx.Module,
		gateway_fx.Module,
		billing_fx.Module,
		jobs_fx.Module,
		controllers_fx.Module,

		fx.Provide(ProvideRouter),
		fx.Invoke(StartServer),
	)

	app.Run()
}

func StartServer(lc fx.Lifecycle, engine *gin.Engine, cfg infra.Config, logger zerolog.Logger) {
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			go func() {
				logger.Info().Str("addr", srv.Addr).Msg("starting HTTP server")
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Fatal().Err(err).Msg("HTTP server failed")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info().Msg("stopping HTTP server")
			return srv.Shutdown(ctx)
		},
	})
}

func ProvideRouter(
	logger zerolog.Logger,
	signer *utils.TokenSigner,
	webhookController *controllers.WebhookController,
	chargeController *controllers.ChargeController) *gin.Engine {

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.TraceIDMiddleware())
	r.Use(middleware.RequestLogger(logger))

	RegisterRoutes(r, signer, webhookController, chargeController)

	return r
}

func RegisterRoutes(r *gin.Engine,
	signer *utils.TokenSigner,
	webhookController *controllers.WebhookController,
	chargeController *controllers.ChargeController) {

	r.GET("/health", func(c *gin.Context) {
		utils.RespondSuccess(c, gin.H{"status": "ok"}, "")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/webhooks/:provider", webhookController.Receive)

	chargesGroup := r.Group("/charges",
		middleware.JWTAuthMiddleware(signer),
		middleware.RoleMiddleware(middleware.RoleAdmin, middleware.RoleTreasurer))
	chargesGroup.POST("/generate", chargeController.Generate)
	chargesGroup.POST("/pending-retry", chargeController.MarkPendingRetry)
	chargesGroup.POST("/redispatch", chargeController.Redispatch)
	chargesGroup.POST("/:id/cancel", chargeController.Cancel)
}
