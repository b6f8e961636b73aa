package api

import (
	"github.com/gin-contrib/cors"
	"github.com/wb-go/wbf/ginext"

	"rollcall/cmd/middleware"
	"rollcall/internal/handler"
)

type Routers struct {
	Handler *handler.Handler
}

func NewRouters(r *Routers) *ginext.Engine {
	app := ginext.New("release")

	app.Use(middleware.LoggingMiddleware())
	app.Use(cors.Default())
	apiGroup := app.Group("/v1")

	apiGroup.POST("/events/:id/check-in", r.Handler.CheckIn)
	apiGroup.POST("/events/:id/absentees", r.Handler.MarkAbsentees)
	apiGroup.GET("/events/:id/stats", r.Handler.EventStats)
	apiGroup.POST("/events/:id/stats/recompute", r.Handler.RecomputeStats)
	apiGroup.GET("/events/:id/report", r.Handler.EventReport)

	apiGroup.POST("/attendances/:id/check-out", r.Handler.CheckOut)
	apiGroup.POST("/attendances/:id/validate", r.Handler.Validate)
	apiGroup.POST("/attendances/:id/feedback", r.Handler.Feedback)
	apiGroup.POST("/attendances/bulk-validate", r.Handler.BulkValidate)

	app.GET("/healthz", r.Handler.Health)

	return app
}
