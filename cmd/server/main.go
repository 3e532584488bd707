package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/meridianx/venue-api/internal/auth"
	"github.com/meridianx/venue-api/internal/cache"
	"github.com/meridianx/venue-api/internal/config"
	"github.com/meridianx/venue-api/internal/database"
	"github.com/meridianx/venue-api/internal/events"
	"github.com/meridianx/venue-api/internal/ledger"
	"github.com/meridianx/venue-api/internal/matching"
	"github.com/meridianx/venue-api/internal/pool"
	"github.com/meridianx/venue-api/internal/pricing"
	"github.com/meridianx/venue-api/internal/router"
	"github.com/meridianx/venue-api/internal/settlement"
	"github.com/meridianx/venue-api/internal/spread"
	"github.com/meridianx/venue-api/internal/trading"
	"github.com/meridianx/venue-api/pkg/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	db, err := database.Connect(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}

	bus := events.NewBus(256)
	store := cache.NewMemoryStore()
	prices := pricing.NewStaticProvider()

	pools := pool.NewService(db, bus)
	funds := ledger.NewService(db)
	orders := trading.NewService(db, bus)

	liquidityRouter := router.NewRouter(pools, prices, orders, bus)
	engine := matching.NewEngine(pools, bus)
	saga := settlement.NewSaga(db, funds, orders, engine)
	orders.BindExecution(liquidityRouter, saga)

	spreadController := spread.NewController(pools, prices, store, bus, cfg.Spread)
	spreadController.Register(bus)

	// Unwind sagas a previous process left mid-flight before taking
	// new traffic.
	if err := saga.RecoverPending(); err != nil {
		log.Fatal().Err(err).Msg("saga recovery failed")
	}

	authService := auth.NewService(cfg.Auth.JWTSecret)
	authService.RegisterAPICredentials("demo-api-key", "demo-api-secret")

	app := setupRouter(cfg, authService, orders, pools, spreadController)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: app,
	}

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("starting venue API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}

	// Drain in-flight events before closing the cache they write to.
	bus.Close()
	store.Close()

	log.Info().Msg("server stopped")
}

func setupRouter(
	cfg *config.Config,
	authService *auth.Service,
	orders *trading.Service,
	pools *pool.Service,
	spreadController *spread.Controller,
) *gin.Engine {
	app := gin.New()
	app.Use(gin.Recovery())

	authHandlers := auth.NewGinHandlers(authService)
	orderHandlers := trading.NewGinHandlers(orders)
	poolHandlers := pool.NewGinHandlers(pools)
	spreadHandlers := spread.NewGinHandlers(spreadController)

	api := app.Group("/api/v1")
	api.Use(middleware.RateLimit())

	api.POST("/auth/token", authHandlers.GenerateTokenHandler())

	protected := api.Group("")
	protected.Use(middleware.JWTAuth(cfg.Auth.JWTSecret))
	{
		protected.POST("/orders", orderHandlers.PlaceOrderHandler())
		protected.GET("/orders/:order_id", orderHandlers.GetOrderHandler())
		protected.GET("/orders/:order_id/children", orderHandlers.GetChildOrdersHandler())

		protected.GET("/pools", poolHandlers.ListPoolsHandler())
		protected.POST("/pools", poolHandlers.CreatePoolHandler())
		protected.GET("/pools/:pool_id", poolHandlers.GetPoolHandler())
		protected.POST("/pools/:pool_id/liquidity", poolHandlers.AddLiquidityHandler())
		protected.POST("/pools/:pool_id/liquidity/remove", poolHandlers.RemoveLiquidityHandler())
		protected.GET("/pools/:pool_id/position", poolHandlers.GetPositionHandler())
		protected.POST("/pools/:pool_id/rewards/claim", poolHandlers.ClaimRewardsHandler())
	}

	internal := api.Group("/internal")
	internal.Use(middleware.InternalAuth(cfg.Auth.JWTSecret))
	{
		internal.POST("/orders/:order_id/execute", orderHandlers.ExecuteOrderHandler())
		internal.GET("/orders/:order_id/execution", orderHandlers.GetExecutionHandler())
		internal.GET("/spread/:pool_id", spreadHandlers.GetSnapshotHandler())
		internal.GET("/spread/:pool_id/volume", spreadHandlers.GetVolumeHandler())
	}

	return app
}
