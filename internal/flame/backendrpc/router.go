package backendrpc

import (
	"github.com/gin-gonic/gin"

	"github.com/flame-sh/flame/internal/flame/controller"
	"github.com/flame-sh/flame/internal/flame/logger"
)

// SetupRoutes registers the backend RPC's 9 methods under router, which
// should be the engine's /backend group.
func SetupRoutes(router *gin.RouterGroup, ctrl *controller.Controller, plugins PluginFactory, log *logger.Logger) {
	h := NewHandler(ctrl, plugins, log)

	router.POST("/nodes", h.RegisterNode)
	router.POST("/nodes/:name/sync", h.SyncNode)

	executors := router.Group("/executors")
	{
		executors.POST("", h.RegisterExecutor)
		executors.GET("/:id/bind", h.BindExecutor)
		executors.POST("/:id/bind_completed", h.BindExecutorCompleted)
		executors.GET("/:id/launch_task", h.LaunchTask)
		executors.POST("/:id/complete_task", h.CompleteTask)
		executors.POST("/:id/unbind", h.UnbindExecutor)
		executors.POST("/:id/unbind_completed", h.UnbindExecutorCompleted)
	}
}

// NewEngine builds a gin.Engine with Flame's standard middleware stack and
// the backend RPC routes mounted under /backend.
func NewEngine(ctrl *controller.Controller, plugins PluginFactory, log *logger.Logger) *gin.Engine {
	r := gin.New()
	r.Use(Recovery(log), RequestLogger(log), ErrorHandler(log))

	SetupRoutes(r.Group("/backend"), ctrl, plugins, log)
	return r
}
