package main

import (
	"context"
	"log"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	apiHandler "github.com/fastygo/iamcleaner/api/handler"
	"github.com/fastygo/iamcleaner/internal/app"
	"github.com/fastygo/iamcleaner/internal/config"
	"github.com/fastygo/iamcleaner/internal/infrastructure/monitor"
	"github.com/fastygo/iamcleaner/internal/middleware"
	"github.com/fastygo/iamcleaner/internal/router"
	"github.com/fastygo/iamcleaner/internal/services"
	"github.com/fastygo/iamcleaner/internal/services/lifecycle"
	"github.com/fastygo/iamcleaner/pkg/httpcontext"
	"github.com/fastygo/iamcleaner/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	zapLogger, err := logger.New(logger.Config{
		Level:    cfg.Logger.Level,
		Encoding: cfg.Logger.Encoding,
	})
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer zapLogger.Sync()

	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager := lifecycle.New(cfg.Context.ShutdownTimeout, zapLogger)
	manager.Listen(cancel)

	components, err := app.Build(appCtx, cfg, zapLogger, manager)
	if err != nil {
		_ = manager.Shutdown(context.Background())
		zapLogger.Fatal("startup failed", zap.Error(err))
	}

	orchestrator := components.Orchestrator
	orchestrator.SetRootContext(appCtx)
	manager.Register("runs", orchestrator.Wait)

	mon := monitor.New(components.Probes, 10*time.Second, zapLogger)
	mon.Start()
	manager.Register("monitor", func(ctx context.Context) error {
		mon.Stop()
		return nil
	})

	if cfg.Schedule.Enabled {
		scheduler, err := services.NewScheduler(cfg.Schedule, orchestrator, zapLogger)
		if err != nil {
			zapLogger.Fatal("invalid schedule", zap.Error(err))
		}
		scheduler.Start()
		manager.Register("scheduler", func(ctx context.Context) error {
			scheduler.Stop(ctx)
			return nil
		})
	}

	if cfg.HTTP.Enabled {
		ctxAdapter := httpcontext.NewAdapter(cfg.Context.RequestTimeout).WithBase(appCtx)

		handlers := router.Handlers{
			Health: apiHandler.NewHealthHandler(mon, ctxAdapter, zapLogger),
			Runs:   apiHandler.NewRunHandler(orchestrator, ctxAdapter, zapLogger),
			Ledger: apiHandler.NewLedgerHandler(components.Reconciler, ctxAdapter, zapLogger),
		}

		authMiddleware := middleware.JWTAuth(cfg.JWT.Secret, cfg.JWT.Issuer, zapLogger)
		if cfg.HTTP.AuthDisabled {
			zapLogger.Warn("API_AUTH_DISABLED is set, API routes are unauthenticated")
			authMiddleware = middleware.Passthrough
		}
		r := router.New(handlers, authMiddleware)

		server := &fasthttp.Server{
			Handler:            r.Handler,
			ReadTimeout:        cfg.HTTP.ReadTimeout,
			WriteTimeout:       cfg.HTTP.WriteTimeout,
			IdleTimeout:        cfg.HTTP.IdleTimeout,
			MaxConnsPerIP:      cfg.HTTP.MaxConn,
			Name:               cfg.AppName,
			MaxRequestBodySize: 1 << 20,
		}

		go func() {
			zapLogger.Info("server started", zap.String("address", cfg.Address()))
			if err := server.ListenAndServe(cfg.Address()); err != nil {
				zapLogger.Error("server crashed", zap.Error(err))
				cancel()
			}
		}()

		manager.Register("http_server", func(ctx context.Context) error {
			return server.ShutdownWithContext(ctx)
		})
	}

	<-appCtx.Done()

	if err := manager.Shutdown(context.Background()); err != nil {
		zapLogger.Error("graceful shutdown error", zap.Error(err))
	}
}
