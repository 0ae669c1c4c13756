package rest

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/roof-guardian/monitoring-api/internal/alerting"
	"github.com/roof-guardian/monitoring-api/internal/api/ws"
	"github.com/roof-guardian/monitoring-api/internal/health"
	"github.com/roof-guardian/monitoring-api/internal/recovery"
	"github.com/roof-guardian/monitoring-api/internal/telemetry"
)

// Handlers holds the wired subsystems behind the REST surface. One explicit
// service object, constructed once at startup and injected here.
type Handlers struct {
	store      *telemetry.Store
	engine     *alerting.Engine
	assessor   *health.Assessor
	controller *recovery.Controller
	hub        *ws.Hub
	logger     *slog.Logger
}

// NewHandlers creates the REST handler set.
func NewHandlers(
	store *telemetry.Store,
	engine *alerting.Engine,
	assessor *health.Assessor,
	controller *recovery.Controller,
	hub *ws.Hub,
	logger *slog.Logger,
) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		store:      store,
		engine:     engine,
		assessor:   assessor,
		controller: controller,
		hub:        hub,
		logger:     logger,
	}
}

// RegisterRoutes sets up all REST API routes.
func (h *Handlers) RegisterRoutes(r *gin.Engine) {
	r.GET("/healthz", h.healthzHandler)
	r.GET("/readyz", h.readyzHandler)

	if h.hub != nil {
		r.GET("/ws", gin.WrapF(h.hub.Handle))
	}

	v1 := r.Group("/api/v1")
	{
		tel := v1.Group("/telemetry")
		{
			tel.POST("/errors", h.reportErrorHandler)
			tel.POST("/metrics", h.reportMetricHandler)
			tel.GET("/errors", h.listErrorsHandler)
			tel.GET("/metrics", h.listMetricsHandler)
		}

		hc := v1.Group("/health")
		{
			hc.GET("/components", h.listHealthHandler)
			hc.GET("/components/:name", h.getHealthHandler)
			hc.POST("/components/:name/check", h.checkComponentHandler)
		}

		alerts := v1.Group("/alerts")
		{
			alerts.GET("", h.listAlertsHandler)
			alerts.POST("/:id/acknowledge", h.acknowledgeAlertHandler)
			alerts.POST("/:id/resolve", h.resolveAlertHandler)
			alerts.GET("/rules", h.listRulesHandler)
			alerts.POST("/rules", h.addRuleHandler)
			alerts.POST("/rules/:id/enable", h.enableRuleHandler)
			alerts.POST("/rules/:id/disable", h.disableRuleHandler)
			alerts.DELETE("/rules/:id", h.removeRuleHandler)
		}

		rec := v1.Group("/recovery")
		{
			rec.GET("/components", h.listComponentsHandler)
			rec.POST("/components", h.registerComponentHandler)
			rec.DELETE("/components/:name", h.unregisterComponentHandler)
			rec.POST("/components/:name/trigger", h.triggerRecoveryHandler)
			rec.GET("/attempts", h.listAttemptsHandler)
		}
	}
}

func (h *Handlers) healthzHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (h *Handlers) readyzHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
