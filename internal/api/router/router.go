package router

import (
	"github.com/wb-go/wbf/ginext"

	"github.com/avoronkov/push-dispatcher/internal/api/handlers/notification"
	"github.com/avoronkov/push-dispatcher/internal/middlewares"
	"github.com/avoronkov/push-dispatcher/internal/ratelimit"
)

func New(handler *notification.Handler, limiter *ratelimit.Limiter) *ginext.Engine {
	e := ginext.New()
	e.Use(middlewares.CORSMiddleware())
	e.Use(ginext.Logger())
	e.Use(ginext.Recovery())

	api := e.Group("/api/notifications")
	{
		api.POST("/", middlewares.RateLimit(limiter), handler.Dispatch)
		api.GET("/", handler.List)
		api.GET("/stats", handler.Stats)
		api.GET("/:id", handler.Get)
		api.POST("/:id/retry", handler.Retry)
	}

	return e
}
