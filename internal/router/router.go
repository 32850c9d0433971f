package router

import (
	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"

	apiHandler "github.com/fastygo/iamcleaner/api/handler"
)

type Handlers struct {
	Health *apiHandler.HealthHandler
	Runs   *apiHandler.RunHandler
	Ledger *apiHandler.LedgerHandler
}

func New(handlers Handlers, authMiddleware func(fasthttp.RequestHandler) fasthttp.RequestHandler) *router.Router {
	r := router.New()

	r.GET("/health", handlers.Health.Check)

	// Protected routes
	r.POST("/api/v1/runs", authMiddleware(handlers.Runs.Create))
	r.GET("/api/v1/runs/{id}", authMiddleware(handlers.Runs.Get))
	r.GET("/api/v1/ledger/{account}", authMiddleware(handlers.Ledger.List))

	return r
}
