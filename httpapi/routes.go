package httpapi

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes wires every route in spec.md section 6's table under
// /v1, protected by bearer-token auth, plus unauthenticated /health and
// /metrics endpoints.
func RegisterRoutes(e *echo.Echo, api *API, serverToken string) {
	e.GET("/health", api.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := e.Group("/v1", BearerAuth(serverToken))
	v1.POST("/tasks", api.CreateTasks)
	v1.GET("/tasks/ready", api.GetReadyTask)
	v1.POST("/results", api.SubmitResult)
	v1.GET("/workflows/:id/status", api.WorkflowStatus)
	v1.GET("/workflows/:id/result", api.WorkflowResult)
	v1.GET("/workflows/:id/audit", api.WorkflowAudit)
	v1.POST("/workflows/:id/reset", api.ResetWorkflow)
	v1.GET("/workers/status", api.WorkersStatus)
}
