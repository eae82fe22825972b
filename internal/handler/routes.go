package handler

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(e *echo.Echo, profiling *ProfilingHandler, health *HealthHandler) {
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)

	g := e.Group("/organizations/:organization_id/profiling")
	g.GET("/flamegraph", profiling.Flamegraph)
	g.GET("/chunks", profiling.Chunks)
	g.GET("/chunks-flamegraph", profiling.ChunksFlamegraph)
}
